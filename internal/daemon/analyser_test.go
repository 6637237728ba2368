// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efimon/efimon/internal/status"
	"github.com/efimon/efimon/internal/syscollector"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAnalyser() *Analyser {
	store := syscollector.NewStore()
	collector := syscollector.New(store, nil, nil, nil, nil, nil, nil, nil, discardLogger())
	return New(Options{Log: discardLogger()}, store, collector)
}

// fakeWorker lets StopWorker/CheckWorker be exercised without going
// through the real worker/proc machinery.
type fakeWorker struct {
	pid     int
	state   status.Kind
	stopped bool
}

func (f *fakeWorker) Start() status.Status { return status.OKStatus }
func (f *fakeWorker) Stop() status.Status {
	f.stopped = true
	return status.OKStatus
}
func (f *fakeWorker) State() status.Kind { return f.state }
func (f *fakeWorker) PID() int           { return f.pid }

func TestStartStopSystem(t *testing.T) {
	a := newTestAnalyser()

	st := a.StartSystem(10 * time.Millisecond)
	require.True(t, st.Ok())
	assert.True(t, a.SystemRunning())

	dup := a.StartSystem(10 * time.Millisecond)
	assert.Equal(t, status.ResourceBusy, dup.Code)

	require.True(t, a.StopSystem().Ok())
	assert.False(t, a.SystemRunning())

	again := a.StopSystem()
	assert.Equal(t, status.NotFound, again.Code)
}

func TestStartWorkerDuplicatePID(t *testing.T) {
	a := newTestAnalyser()
	a.workers[42] = &fakeWorker{pid: 42, state: status.Running}

	name, st := a.StartWorker("", 42, time.Second, 0, true, false, 99)
	assert.Equal(t, status.ResourceBusy, st.Code)
	assert.Empty(t, name)
	assert.Equal(t, 1, a.WorkerCount())
}

func TestStartWorkerGeneratesIncrementingNames(t *testing.T) {
	a := newTestAnalyser()
	a.opts.ProcPath = "/proc"
	a.opts.OutputFolder = t.TempDir()

	name, st := a.StartWorker("", os.Getpid(), time.Hour, 1, false, false, 0)
	require.True(t, st.Ok())
	assert.Equal(t, filepath.Join(a.opts.OutputFolder, fmt.Sprintf("efimon-%d-1.csv", os.Getpid())), name)
	require.True(t, a.StopWorker(os.Getpid()).Ok())
}

func TestStartWorkerHonorsExplicitName(t *testing.T) {
	a := newTestAnalyser()
	a.opts.ProcPath = "/proc"

	explicit := filepath.Join(t.TempDir(), "custom.csv")
	name, st := a.StartWorker(explicit, os.Getpid(), time.Hour, 1, false, false, 0)
	require.True(t, st.Ok())
	assert.Equal(t, explicit, name)
	require.True(t, a.StopWorker(os.Getpid()).Ok())
}

func TestStopWorkerRemovesAndStops(t *testing.T) {
	a := newTestAnalyser()
	w := &fakeWorker{pid: 42, state: status.Running}
	a.workers[42] = w

	st := a.StopWorker(42)
	require.True(t, st.Ok())
	assert.True(t, w.stopped)
	assert.Equal(t, 0, a.WorkerCount())

	again := a.StopWorker(42)
	assert.Equal(t, status.NotFound, again.Code)
}

func TestCheckWorkerReportsStateAsCode(t *testing.T) {
	a := newTestAnalyser()
	a.workers[7] = &fakeWorker{pid: 7, state: status.Stopped}

	st := a.CheckWorker(7)
	assert.Equal(t, status.Stopped, st.Code)

	unknown := a.CheckWorker(999)
	assert.Equal(t, status.NotFound, unknown.Code)
}

func TestWorkerCount(t *testing.T) {
	a := newTestAnalyser()
	assert.Equal(t, 0, a.WorkerCount())

	a.workers[1] = &fakeWorker{pid: 1}
	a.workers[2] = &fakeWorker{pid: 2}
	assert.Equal(t, 2, a.WorkerCount())
}
