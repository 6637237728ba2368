// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/efimon/efimon/internal/readings"
)

func TestPTXClassifierOperandTypes(t *testing.T) {
	c := PTXClassifier{}

	tests := []struct {
		name     string
		operands string
		want     string
	}{
		{"empty", "", "u"},
		{"single register", "%r1", "r"},
		{"register dest, immediate source", "%r1, 4", "ri"},
		{"register input outranks immediate input", "%r1, %r2, 4", "rr"},
		{"memory input beats register input", "%r1, [%rd2], %r3", "rm"},
		{"vector operand normalizes to register", "%f1, {%f2, %f3}", "rr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.OperandTypes(tt.operands))
		})
	}
}

func TestPTXClassifierClassifyWithOperands(t *testing.T) {
	c := PTXClassifier{}

	typ, family := c.ClassifyWithOperands("add.s32", "%r1, %r2, %r3")
	assert.Equal(t, readings.Scalar, typ)
	assert.Equal(t, readings.Arithmetic, family)

	typ, family = c.ClassifyWithOperands("mad.f32", "%f1, {%f2, %f3}, %f4")
	assert.Equal(t, readings.Vector, typ)
	assert.Equal(t, readings.Arithmetic, family)

	typ, family = c.ClassifyWithOperands("bra.uni", "LABEL")
	assert.Equal(t, readings.Unclassified, typ)
	assert.Equal(t, readings.Branch, family)
}
