// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efimon/efimon/internal/readings"
)

func TestParseAnnotateLineExtractsPercentMnemonicAndOperands(t *testing.T) {
	percent, mnemonic, operands, ok := parseAnnotateLine("    5.24 :   4011a0:\tadd    %rax,%rbx")
	require.True(t, ok)
	assert.InDelta(t, 5.24, percent, 1e-9)
	assert.Equal(t, "add", mnemonic)
	assert.Equal(t, "%rax,%rbx", operands)
}

func TestParseAnnotateLineRejectsNonPercentLines(t *testing.T) {
	tests := []string{
		"",
		"Disassembly of section .text:",
		"000000000040110a <main>:",
	}
	for _, line := range tests {
		_, _, _, ok := parseAnnotateLine(line)
		assert.False(t, ok, "line %q should not parse", line)
	}
}

// TestAccumulateAnnotationThresholdBoundary feeds simulated `perf
// annotate` stdout across DefaultAnnotateThreshold and asserts the
// resulting histogram keys are exactly the above-threshold mnemonic/
// operand combinations, with the raw percent value (not a /100
// fraction) stored and repeated mnemonics accumulated.
func TestAccumulateAnnotationThresholdBoundary(t *testing.T) {
	stdout := strings.Join([]string{
		"    0.00 :   401190:\tpush   %rbp",             // below threshold, dropped
		"    0.00 :   401191:\tmov    %rsp,%rbp",         // below threshold, dropped
		"    5.24 :   4011a0:\tadd    %rax,%rbx",         // above threshold, Register bucket
		"    3.10 :   4011a4:\tadd    %rcx,%rbx",         // same key as above on repeat mnemonic+operand shape
		"   12.50 :   4011b0:\tmov    0x8(%rbx),%rax",    // above threshold, memory-load style operand
		"Disassembly of section .text:",                  // not a percent line, dropped
	}, "\n")

	histogram, taxonomy := accumulateAnnotation(strings.NewReader(stdout), X86Classifier{}, DefaultAnnotateThreshold)

	require.Contains(t, histogram, "add_rr")
	require.Contains(t, histogram, "mov_rm")
	assert.NotContains(t, histogram, "push_r")
	assert.NotContains(t, histogram, "mov_rr")

	assert.InDelta(t, 8.34, histogram["add_rr"], 1e-9)
	assert.InDelta(t, 12.50, histogram["mov_rm"], 1e-9)

	byFamily, ok := taxonomy[readings.Scalar]
	require.True(t, ok)
	byOrigin, ok := byFamily[readings.Arithmetic]
	require.True(t, ok)
	assert.Greater(t, len(byOrigin), 0)
}

func TestAccumulateAnnotationDropsLinesAtOrBelowZeroThreshold(t *testing.T) {
	stdout := "    0.00 :   401190:\tnop\n"
	histogram, taxonomy := accumulateAnnotation(strings.NewReader(stdout), X86Classifier{}, DefaultAnnotateThreshold)
	assert.Empty(t, histogram)
	assert.Empty(t, taxonomy)
}
