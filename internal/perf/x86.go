// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"strings"

	"github.com/efimon/efimon/internal/readings"
)

// X86Classifier classifies AT&T-syntax x86/x86-64 disassembly as
// produced by `perf annotate`.
type X86Classifier struct{}

var _ Classifier = X86Classifier{}

// OperandTypes splits a comma-separated AT&T operand list and classifies
// each token as m(memory)/r(register)/i(immediate)/u(unknown). The
// output class is that of the last operand (the AT&T destination); the
// input class, when more than one operand is present, is that of the
// first operand.
func (X86Classifier) OperandTypes(operands string) string {
	operands = strings.TrimSpace(operands)
	if operands == "" {
		return "u"
	}

	tokens := splitTopLevel(operands, ',')
	if len(tokens) == 0 {
		return "u"
	}

	classify := func(tok string) byte {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "":
			return 'u'
		case strings.HasPrefix(tok, "$"):
			return 'i'
		case strings.Contains(tok, "(") || strings.HasPrefix(tok, "0x") && strings.Contains(tok, "("):
			return 'm'
		case strings.HasPrefix(tok, "%"):
			return 'r'
		default:
			return 'u'
		}
	}

	output := classify(tokens[len(tokens)-1])
	if len(tokens) == 1 {
		return string(output)
	}
	input := classify(tokens[0])
	return string([]byte{output, input})
}

// Classify determines (type, family) for x86. Type is Vector when the
// mnemonic starts with 'v' or 'p' and the family is one of
// {Arithmetic, Logic, Memory}; Scalar for those families otherwise;
// Unclassified for Branch/Jump/Other.
func (X86Classifier) Classify(mnemonic, _ string) (readings.InstructionType, readings.InstructionFamily) {
	family := classifyFamily(mnemonic)

	switch family {
	case readings.Arithmetic, readings.Logic, readings.Memory:
		if len(mnemonic) > 0 && (mnemonic[0] == 'v' || mnemonic[0] == 'p') {
			return readings.Vector, family
		}
		return readings.Scalar, family
	default:
		return readings.Unclassified, family
	}
}

// splitTopLevel splits s on sep but never inside parentheses, so
// "0x10(%rax,%rbx,4)" stays a single memory operand.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		default:
			if s[i] == sep && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
