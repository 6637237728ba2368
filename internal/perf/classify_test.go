// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/efimon/efimon/internal/readings"
)

func TestPackOperandTypes(t *testing.T) {
	tests := []struct {
		code       string
		wantOutput readings.OperandClass
		wantInput  readings.OperandClass
	}{
		{"", readings.Unknown, readings.Unknown},
		{"r", readings.Register, readings.Unknown},
		{"rm", readings.Register, readings.MemoryOperand},
		{"ir", readings.Immediate, readings.Register},
		{"uu", readings.Unknown, readings.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			output, input := PackOperandTypes(tt.code).Decompose()
			assert.Equal(t, tt.wantOutput, output)
			assert.Equal(t, tt.wantInput, input)
		})
	}
}

func TestClassifyFamily(t *testing.T) {
	tests := []struct {
		mnemonic string
		want     readings.InstructionFamily
	}{
		{"addpd", readings.Arithmetic},
		{"xorps", readings.Logic},
		{"movdqa", readings.Memory},
		{"jmp", readings.Jump},
		{"jle", readings.Branch},
		{"nop", readings.Other},
	}

	for _, tt := range tests {
		t.Run(tt.mnemonic, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFamily(tt.mnemonic))
		})
	}
}
