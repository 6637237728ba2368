// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import "github.com/efimon/efimon/internal/readings"

// Classifier maps a disassembled mnemonic and its normalised operand
// types to the (type, family, origin) instruction taxonomy.
type Classifier interface {
	// OperandTypes normalises a raw operand-list string into a 1- or
	// 2-character operand-type code drawn from {u, r, i, m} where the
	// first character is the output class and the second the input
	// class.
	OperandTypes(operands string) string

	// Classify returns the (type, family) pair for a mnemonic, given
	// its already-normalised operand-type code.
	Classify(mnemonic, operandTypes string) (readings.InstructionType, readings.InstructionFamily)
}

// familyRules lists, in evaluation order, the substrings that assign a
// mnemonic to a family. Order matters only in that the first matching
// family wins; the substrings themselves are taken verbatim from the
// reference implementation.
var familyRules = []struct {
	family     readings.InstructionFamily
	substrings []string
}{
	{readings.Arithmetic, []string{"add", "sub", "div", "mul", "dp", "abs", "sign", "avg", "dec", "inc", "neg"}},
	{readings.Logic, []string{"and", "or", "shl", "shr", "sll", "sra", "srl", "tern", "test", "xor", "cmp", "not", "shuf", "lzcn", "cvt", "blend", "perm", "extract", "compress", "insert", "unpck"}},
	{readings.Memory, []string{"expand", "gather", "scatter", "mov", "sto", "lah", "lds", "lea", "les", "lod"}},
	{readings.Jump, []string{"jmp"}},
	{readings.Branch, []string{"ja", "jb", "jc", "je", "jg", "jl", "jle", "jn", "jo", "jp", "js", "jz"}},
}

// classifyFamily returns the family assigned by the first matching
// substring rule, or Other if none match.
func classifyFamily(mnemonic string) readings.InstructionFamily {
	for _, rule := range familyRules {
		for _, sub := range rule.substrings {
			if containsSubstring(mnemonic, sub) {
				return rule.family
			}
		}
	}
	return readings.Other
}

func containsSubstring(s, sub string) bool {
	if len(sub) > len(s) {
		return false
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// classToOperandClass maps a single-character operand-class code to the
// packed-origin enum.
func classToOperandClass(c byte) readings.OperandClass {
	switch c {
	case 'm':
		return readings.MemoryOperand
	case 'r':
		return readings.Register
	case 'i':
		return readings.Immediate
	default:
		return readings.Unknown
	}
}

// PackOperandTypes turns a 1- or 2-character operand-type code into a
// packed Origin, treating a single-character code as "output only"
// (input unknown).
func PackOperandTypes(code string) readings.Origin {
	if len(code) == 0 {
		return readings.PackOrigin(readings.Unknown, readings.Unknown)
	}
	output := classToOperandClass(code[0])
	input := readings.Unknown
	if len(code) > 1 {
		input = classToOperandClass(code[1])
	}
	return readings.PackOrigin(output, input)
}
