// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package perf wraps the kernel statistical profiler (perf record /
// perf annotate) and classifies its disassembly into the
// (type, family, operand-origin) instruction taxonomy.
package perf

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
)

// activePIDs is the process-wide set enforcing "at most one perf record
// per pid". The constructor and SetPID are the only writers.
var activePIDs = struct {
	mu  sync.Mutex
	set map[int]bool
}{set: map[int]bool{}}

func registerPID(pid int) status.Status {
	activePIDs.mu.Lock()
	defer activePIDs.mu.Unlock()
	if activePIDs.set[pid] {
		return status.Newf(status.ResourceBusy, "perf record already active for pid %d", pid)
	}
	activePIDs.set[pid] = true
	return status.OKStatus
}

func unregisterPID(pid int) {
	activePIDs.mu.Lock()
	defer activePIDs.mu.Unlock()
	delete(activePIDs.set, pid)
}

// Record spawns `perf record -e instructions -q -F<freq> -g -v -p <pid>
// -a -o perf.data sleep <seconds>` over a blocking sample window and captures the
// resulting trace into a private temporary directory.
type Record struct {
	observer.Base

	procPath   string
	pid        int
	freqHz     int
	seconds    int
	noDispose  bool

	workDir   string
	tracePath string
	valid     bool

	record *readings.RecordReading
}

// NewRecord verifies the target pid by opening /proc/<pid>/io,
// registers it in the process-wide active-pid set (duplicate
// registration yields RESOURCE_BUSY), and creates a temporary working
// directory under the system temp root whose name is "efimon-<pid>"
// followed by a random suffix (os.MkdirTemp). The interval
// parameter is specified in milliseconds but coerced to whole seconds
// before being handed to `sleep`; see DESIGN.md.
func NewRecord(procPath string, pid int, intervalMS int, freqHz int, noDispose bool) (*Record, status.Status) {
	if _, err := os.Stat(filepath.Join(procPath, fmt.Sprint(pid), "io")); err != nil {
		return nil, status.Newf(status.NotFound, "pid %d not found: %v", pid, err)
	}

	if st := registerPID(pid); !st.Ok() {
		return nil, st
	}

	seconds := intervalMS / 1000
	if seconds < 1 {
		seconds = 1
	}

	workDir, err := os.MkdirTemp("", fmt.Sprintf("efimon-%d", pid))
	if err != nil {
		unregisterPID(pid)
		return nil, status.Newf(status.FileError, "failed to create temp dir: %v", err)
	}

	r := &Record{
		Base:      observer.NewBase(observer.Capabilities{Types: readings.CPU | readings.Interval | readings.CPUInstructions, Scope: readings.Process}),
		procPath:  procPath,
		pid:       pid,
		freqHz:    freqHz,
		seconds:   seconds,
		noDispose: noDispose,
		workDir:   workDir,
	}
	r.SetPIDRaw(pid)
	return r, status.OKStatus
}

func (r *Record) SetScope(scope readings.Scope) status.Status {
	if scope != readings.Process {
		return r.Reject("SetScope(system)")
	}
	r.SetScopeRaw(scope)
	return status.OKStatus
}

// SetPID transitions registration to a different, alive pid, disposing
// the previous temp directory and rebuilding the command.
func (r *Record) SetPID(pid int) status.Status {
	if _, err := os.Stat(filepath.Join(r.procPath, fmt.Sprint(pid), "io")); err != nil {
		return status.Newf(status.NotFound, "pid %d not found: %v", pid, err)
	}
	if st := registerPID(pid); !st.Ok() {
		return st
	}

	unregisterPID(r.pid)
	r.dispose()

	workDir, err := os.MkdirTemp("", fmt.Sprintf("efimon-%d", pid))
	if err != nil {
		unregisterPID(pid)
		return status.Newf(status.FileError, "failed to create temp dir: %v", err)
	}

	r.pid = pid
	r.SetPIDRaw(pid)
	r.workDir = workDir
	r.valid = false
	return status.OKStatus
}

func (r *Record) SelectDevice(int) status.Status          { return r.Reject("SelectDevice") }
func (r *Record) SetInterval(d time.Duration) status.Status {
	r.seconds = int(d / time.Second)
	if r.seconds < 1 {
		r.seconds = 1
	}
	return status.OKStatus
}
func (r *Record) ClearInterval() status.Status { return status.OKStatus }
func (r *Record) Reset() status.Status {
	r.valid = false
	return status.OKStatus
}

// IsValid reports whether the last trigger produced a usable trace.
func (r *Record) IsValid() bool { return r.valid }

// TracePath returns the path to the most recently captured trace file.
func (r *Record) TracePath() string { return r.tracePath }

// Trigger re-checks liveness, runs the blocking perf record command for
// the sample window, and copies the produced trace into a locked
// replica within the same directory.
func (r *Record) Trigger() status.Status {
	if _, err := os.Stat(filepath.Join(r.procPath, fmt.Sprint(r.pid), "io")); err != nil {
		r.valid = false
		return r.SetStatus(status.Newf(status.NotFound, "pid %d no longer present: %v", r.pid, err))
	}

	ts, diff := r.Tick()

	traceName := "perf.data"
	cmd := exec.Command("sh", "-c", fmt.Sprintf(
		"cd %s && perf record -e instructions -q -F%d -g -v -p %d -a -o %s sleep %d",
		shellQuote(r.workDir), r.freqHz, r.pid, traceName, r.seconds))

	if err := cmd.Run(); err != nil {
		r.valid = false
		return r.SetStatus(status.Newf(status.FileError, "perf record failed: %v", err))
	}

	src := filepath.Join(r.workDir, traceName)
	dst := filepath.Join(r.workDir, fmt.Sprintf("%s.locked", traceName))
	if err := copyFile(src, dst); err != nil {
		r.valid = false
		return r.SetStatus(status.Newf(status.FileError, "failed to replicate trace: %v", err))
	}

	r.tracePath = dst
	r.valid = true
	r.record = &readings.RecordReading{
		Base:      readings.Base{ReadingType: readings.CPUInstructions | readings.Interval, Timestamp: ts, Difference: diff},
		TracePath: dst,
	}
	return r.SetStatus(status.OKStatus)
}

func (r *Record) Readings() []observer.Reading {
	if r.record == nil {
		return nil
	}
	return []observer.Reading{r.record}
}

// Close removes the temp directory unless noDispose is set, and
// releases the pid registration.
func (r *Record) Close() {
	unregisterPID(r.pid)
	if !r.noDispose {
		r.dispose()
	}
}

func (r *Record) dispose() {
	if r.workDir != "" {
		os.RemoveAll(r.workDir)
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o400)
}

func shellQuote(s string) string {
	return "'" + s + "'"
}
