// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package readings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPackDecomposeRoundTrip(t *testing.T) {
	classes := []OperandClass{Unknown, MemoryOperand, Register, Immediate}
	for _, out := range classes {
		for _, in := range classes {
			o := PackOrigin(out, in)
			gotOut, gotIn := o.Decompose()
			assert.Equal(t, out, gotOut)
			assert.Equal(t, in, gotIn)
		}
	}
}

func TestOriginString(t *testing.T) {
	assert.Equal(t, "unknown", PackOrigin(Unknown, Unknown).String())
	assert.Equal(t, "reg:reg", PackOrigin(Register, Register).String())
	assert.Equal(t, "mem:reg", PackOrigin(Register, MemoryOperand).String())
	assert.Equal(t, "imm:mem", PackOrigin(MemoryOperand, Immediate).String())
}

func TestTypeHas(t *testing.T) {
	combined := CPU | Power
	assert.True(t, combined.Has(CPU))
	assert.True(t, combined.Has(Power))
	assert.False(t, combined.Has(RAM))
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "process", Process.String())
	assert.Equal(t, "system", System.String())
}

func TestInstructionTypeString(t *testing.T) {
	assert.Equal(t, "Scalar", Scalar.String())
	assert.Equal(t, "Vector", Vector.String())
	assert.Equal(t, "Unclassified", Unclassified.String())
}

func TestInstructionFamilyString(t *testing.T) {
	assert.Equal(t, "Arithmetic", Arithmetic.String())
	assert.Equal(t, "Logic", Logic.String())
	assert.Equal(t, "Memory", Memory.String())
	assert.Equal(t, "Branch", Branch.String())
	assert.Equal(t, "Jump", Jump.String())
	assert.Equal(t, "Other", Other.String())
}
