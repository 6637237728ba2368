// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon implements the analyser: the long-running process that
// owns the system collector and a pid-to-worker map, and exposes
// start/stop/poll operations to the control-socket front end.
package daemon

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/perf"
	"github.com/efimon/efimon/internal/status"
	"github.com/efimon/efimon/internal/syscollector"
	"github.com/efimon/efimon/internal/worker"
)

// Worker is the subset of *worker.Worker the analyser depends on,
// narrowed to ease substitution in tests.
type Worker interface {
	Start() status.Status
	Stop() status.Status
	State() status.Kind
	PID() int
}

// Options configures an Analyser's environment.
type Options struct {
	ProcPath          string
	OutputFolder      string
	Classifier        perf.Classifier
	AnnotateThreshold float64
	Log               *slog.Logger
}

// Analyser owns the system collector and the pid->worker map. It is the
// only writer of the worker map; workers never touch it.
type Analyser struct {
	opts      Options
	store     *syscollector.Store
	collector *syscollector.Collector

	mu      sync.Mutex
	workers map[int]Worker
	counter uint64
}

// New builds an analyser around an already-constructed system
// collector and store; the caller assembles the concrete observers
// (RAPL, IPMI, global /proc) since their availability is host-specific.
func New(opts Options, store *syscollector.Store, collector *syscollector.Collector) *Analyser {
	return &Analyser{
		opts:      opts,
		store:     store,
		collector: collector,
		workers:   map[int]Worker{},
	}
}

// StartSystem starts the background system collector. RESOURCE_BUSY if
// already started.
func (a *Analyser) StartSystem(delay time.Duration) status.Status {
	return a.collector.Start(delay)
}

// StopSystem stops the background system collector. NOT_FOUND if not
// started.
func (a *Analyser) StopSystem() status.Status {
	return a.collector.Stop()
}

// StartWorker creates and starts a worker for pid, returning the
// resolved name of the monitoring file it was given. RESOURCE_BUSY on
// duplicate pid. If name is empty, a name is generated from an
// auto-incrementing counter shared across all workers so restarting a
// worker on the same pid never collides with a still-open file from an
// earlier run.
func (a *Analyser) StartWorker(name string, pid int, delay time.Duration, samples int, unbounded, enablePerf bool, freqHz int) (string, status.Status) {
	a.mu.Lock()
	if _, exists := a.workers[pid]; exists {
		a.mu.Unlock()
		return "", status.Newf(status.ResourceBusy, "worker for pid %d already running", pid)
	}
	a.counter++
	counter := a.counter
	a.mu.Unlock()

	path := name
	if path == "" {
		path = filepath.Join(a.opts.OutputFolder, fmt.Sprintf("efimon-%d-%d.csv", pid, counter))
	}

	w, st := worker.New(worker.Config{
		Name:              path,
		PID:               pid,
		ProcPath:          a.opts.ProcPath,
		Delay:             delay,
		Samples:           samples,
		Unbounded:         unbounded,
		EnablePerf:        enablePerf,
		FrequencyHz:       freqHz,
		Store:             a.store,
		Log:               a.opts.Log,
		Classifier:        a.opts.Classifier,
		AnnotateThreshold: a.opts.AnnotateThreshold,
	})
	if !st.Ok() {
		return "", st
	}

	a.mu.Lock()
	if _, exists := a.workers[pid]; exists {
		a.mu.Unlock()
		w.Stop()
		return "", status.Newf(status.ResourceBusy, "worker for pid %d already running", pid)
	}
	a.workers[pid] = w
	a.mu.Unlock()

	return path, w.Start()
}

// StopWorker stops and removes the worker for pid. NOT_FOUND if unknown.
func (a *Analyser) StopWorker(pid int) status.Status {
	a.mu.Lock()
	w, ok := a.workers[pid]
	if !ok {
		a.mu.Unlock()
		return status.Newf(status.NotFound, "no worker for pid %d", pid)
	}
	delete(a.workers, pid)
	a.mu.Unlock()

	return w.Stop()
}

// WorkerCount reports how many workers are currently tracked.
func (a *Analyser) WorkerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.workers)
}

// SystemRunning reports whether the background system collector is
// currently active.
func (a *Analyser) SystemRunning() bool {
	return a.collector.IsRunning()
}

// CheckWorker returns the worker's RUNNING/STOPPED state encoded as the
// status kind. NOT_FOUND if unknown.
func (a *Analyser) CheckWorker(pid int) status.Status {
	a.mu.Lock()
	w, ok := a.workers[pid]
	a.mu.Unlock()
	if !ok {
		return status.Newf(status.NotFound, "no worker for pid %d", pid)
	}
	return status.New(w.State(), "")
}

// GetReadings copies the current snapshot for kind out of the store's
// lock. It is a free function, not a method, because Go methods cannot
// carry their own type parameters.
func GetReadings[T observer.Reading](a *Analyser, kind syscollector.Kind) (T, status.Status) {
	var zero T
	r, ok := a.store.Get(kind)
	if !ok {
		return zero, status.Newf(status.NotFound, "no snapshot for kind %d", kind)
	}
	typed, ok := r.(T)
	if !ok {
		return zero, status.Newf(status.ConfigurationError, "snapshot for kind %d has unexpected type", kind)
	}
	return typed, status.OKStatus
}
