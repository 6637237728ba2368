// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
)

func TestOriginBucket(t *testing.T) {
	tests := []struct {
		name       string
		output     readings.OperandClass
		input      readings.OperandClass
		wantBucket string
		wantOK     bool
	}{
		{"register from immediate is Register", readings.Register, readings.Immediate, "Register", true},
		{"register from register is Register", readings.Register, readings.Register, "Register", true},
		{"register from memory is MemLoad", readings.Register, readings.MemoryOperand, "MemLoad", true},
		{"memory from register is MemStore", readings.MemoryOperand, readings.Register, "MemStore", true},
		{"memory from immediate is MemStore", readings.MemoryOperand, readings.Immediate, "MemStore", true},
		{"memory from memory is MemUpdate", readings.MemoryOperand, readings.MemoryOperand, "MemUpdate", true},
		{"unknown output falls through to Register", readings.Unknown, readings.Register, "Register", true},
		{"immediate output falls through to Register", readings.Immediate, readings.Register, "Register", true},
		{"unknown output from memory is MemLoad", readings.Unknown, readings.MemoryOperand, "MemLoad", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, ok := originBucket(readings.PackOrigin(tt.output, tt.input))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantBucket, bucket)
		})
	}
}

func TestSumProbabilityNilInstructionIsZero(t *testing.T) {
	assert.Equal(t, 0.0, sumProbability(nil, readings.Scalar, readings.Arithmetic, ""))
}

func TestSumProbabilityAggregatesByFamily(t *testing.T) {
	instr := &readings.InstructionReading{
		Taxonomy: map[readings.InstructionType]map[readings.InstructionFamily]map[readings.Origin]float64{
			readings.Scalar: {
				readings.Arithmetic: {
					readings.PackOrigin(readings.Register, readings.Register):      0.3,
					readings.PackOrigin(readings.Register, readings.MemoryOperand): 0.2,
				},
			},
		},
	}

	total := sumProbability(instr, readings.Scalar, readings.Arithmetic, "")
	assert.InDelta(t, 0.5, total, 1e-9)
}

func TestSumProbabilityFiltersByBucket(t *testing.T) {
	instr := &readings.InstructionReading{
		Taxonomy: map[readings.InstructionType]map[readings.InstructionFamily]map[readings.Origin]float64{
			readings.Scalar: {
				readings.Memory: {
					readings.PackOrigin(readings.Register, readings.Register):      0.1, // Register
					readings.PackOrigin(readings.Register, readings.MemoryOperand): 0.2, // MemLoad
					readings.PackOrigin(readings.MemoryOperand, readings.Register): 0.4, // MemStore
				},
			},
		},
	}

	assert.InDelta(t, 0.1, sumProbability(instr, readings.Scalar, readings.Memory, "Register"), 1e-9)
	assert.InDelta(t, 0.2, sumProbability(instr, readings.Scalar, readings.Memory, "MemLoad"), 1e-9)
	assert.InDelta(t, 0.4, sumProbability(instr, readings.Scalar, readings.Memory, "MemStore"), 1e-9)
	assert.InDelta(t, 0.0, sumProbability(instr, readings.Scalar, readings.Memory, "MemUpdate"), 1e-9)
}

func TestSumProbabilityMissingFamilyIsZero(t *testing.T) {
	instr := &readings.InstructionReading{
		Taxonomy: map[readings.InstructionType]map[readings.InstructionFamily]map[readings.Origin]float64{},
	}
	assert.Equal(t, 0.0, sumProbability(instr, readings.Vector, readings.Logic, ""))
}

func TestLoopWaitsOnInjectedClock(t *testing.T) {
	fakeClock := testingclock.NewFakeClock(time.Now())

	w, st := New(Config{
		Name:      filepath.Join(t.TempDir(), "worker.csv"),
		PID:       os.Getpid(),
		ProcPath:  "/proc",
		Delay:     time.Hour,
		Samples:   3,
		Unbounded: false,
		Clock:     fakeClock,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.True(t, st.Ok())

	require.True(t, w.Start().Ok())
	require.Eventually(t, func() bool { return fakeClock.HasWaiters() }, time.Second, time.Millisecond)

	fakeClock.Step(time.Hour)
	require.Eventually(t, func() bool { return fakeClock.HasWaiters() }, time.Second, time.Millisecond)

	assert.Equal(t, status.Running, w.State())
	require.True(t, w.Stop().Ok())
	assert.Equal(t, status.Stopped, w.State())
}
