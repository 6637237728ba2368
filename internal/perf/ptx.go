// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"strings"

	"github.com/efimon/efimon/internal/readings"
)

// ptxInputRank orders input operand classes so that, when several input
// operands are present, the highest-ranked one wins: immediate < register
// < vector < memory. Vector inputs collapse onto the register class in
// the packed origin (the origin encoding has no separate vector slot),
// ranking just above plain registers.
var ptxInputRank = map[byte]int{
	'i': 0,
	'r': 1,
	'v': 2, // vector operand, reported as register in the packed origin
	'm': 3,
}

// PTXClassifier classifies NVIDIA PTX disassembly.
type PTXClassifier struct{}

var _ Classifier = PTXClassifier{}

// OperandTypes scans the operand list through a small state machine:
// '{' opens vector mode, '[' opens memory mode, '%' marks a register
// while outside bracket modes, any other character outside all
// brackets is immediate. A ',' or ';' clears the pending register flag;
// '}' or ']' closes the corresponding mode. The output keeps the
// output operand's class (the first operand, PTX destination-first
// convention) and selects the highest-ranked input class by weight
// order immediate < register < vector < memory.
func (PTXClassifier) OperandTypes(operands string) string {
	operands = strings.TrimSpace(operands)
	if operands == "" {
		return "u"
	}

	tokens := splitTopLevel(operands, ',')
	if len(tokens) == 0 {
		return "u"
	}

	classes := make([]byte, 0, len(tokens))
	for _, tok := range tokens {
		classes = append(classes, ptxOperandClass(tok))
	}

	output := classes[0]
	if len(classes) == 1 {
		return string(normalizeVector(output))
	}

	best := classes[1]
	for _, c := range classes[2:] {
		if ptxInputRank[c] > ptxInputRank[best] {
			best = c
		}
	}
	return string([]byte{normalizeVector(output), normalizeVector(best)})
}

func normalizeVector(c byte) byte {
	if c == 'v' {
		return 'r'
	}
	return c
}

func ptxOperandClass(token string) byte {
	inVector, inMemory, sawRegister := false, false, false
	class := byte('i')

	for i := 0; i < len(token); i++ {
		c := token[i]
		switch c {
		case '{':
			inVector = true
		case '}':
			inVector = false
			class = 'v'
		case '[':
			inMemory = true
		case ']':
			inMemory = false
			class = 'm'
		case '%':
			if !inVector && !inMemory {
				sawRegister = true
			}
		case ',', ';':
			sawRegister = false
		default:
			if !inVector && !inMemory && sawRegister && class == 'i' {
				class = 'r'
			}
		}
	}

	if inMemory {
		class = 'm'
	}
	if inVector {
		class = 'v'
	}
	return class
}

// ptxVectorMarkers marks a mnemonic as vector when it carries a .v
// sub-token, mentions "tensor"/"wmma"/"multi", or is otherwise flagged
// by its operand shape (vector-braced operands).
var ptxVectorMarkers = []string{".v2", ".v4", ".v8", "tensor", "wmma", "multi"}

func ptxIsVector(mnemonic, operands string) bool {
	for _, m := range ptxVectorMarkers {
		if containsSubstring(mnemonic, m) {
			return true
		}
	}
	return strings.Contains(operands, "{")
}

// ptxExtraFamilies holds PTX opcodes the x86 family table does not
// match; it is consulted only when that table yields Other.
var ptxExtraFamilies = map[string]readings.InstructionFamily{"mad": readings.Arithmetic, "fma": readings.Arithmetic, "bra": readings.Branch}

func ptxClassifyFamily(mnemonic string) readings.InstructionFamily {
	family := classifyFamily(mnemonic)
	for sub, f := range ptxExtraFamilies {
		if family == readings.Other && containsSubstring(mnemonic, sub) {
			family = f
		}
	}
	return family
}

// Classify mirrors the x86 family table with an enlarged rule set for
// PTX opcodes; vectorness follows ptxIsVector rather than a leading
// character check.
func (PTXClassifier) Classify(mnemonic, _ string) (readings.InstructionType, readings.InstructionFamily) {
	family := ptxClassifyFamily(mnemonic)

	switch family {
	case readings.Arithmetic, readings.Logic, readings.Memory:
		if ptxIsVector(mnemonic, "") {
			return readings.Vector, family
		}
		return readings.Scalar, family
	default:
		return readings.Unclassified, family
	}
}

// ClassifyWithOperands is the PTX-specific entry point that also
// inspects the raw operand text for vector braces, since the mnemonic
// alone does not always carry the ".v"/tensor/wmma markers.
func (PTXClassifier) ClassifyWithOperands(mnemonic, operands string) (readings.InstructionType, readings.InstructionFamily) {
	family := ptxClassifyFamily(mnemonic)

	switch family {
	case readings.Arithmetic, readings.Logic, readings.Memory:
		if ptxIsVector(mnemonic, operands) {
			return readings.Vector, family
		}
		return readings.Scalar, family
	default:
		return readings.Unclassified, family
	}
}
