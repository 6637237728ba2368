// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package syscollector runs the single background thread that keeps a
// host-wide snapshot fresh: out-of-band power, powercap energy and
// global /proc CPU usage, published under a mutex for workers to read.
package syscollector

import (
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/observer/gpu/nvidia"
	"github.com/efimon/efimon/internal/observer/ipmi"
	"github.com/efimon/efimon/internal/observer/procfsobs"
	"github.com/efimon/efimon/internal/observer/rapl"
	"github.com/efimon/efimon/internal/observer/vendorcounter"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
	"github.com/efimon/efimon/internal/topology"
)

// Kind indexes the shared snapshot vector.
type Kind int

const (
	PSUEnergy Kind = iota
	Fan
	CPUEnergy
	CPUUsage
	VendorCounter
	GPU
)

// Store is the mutex-guarded snapshot vector written by the collector
// and read by workers. Readers copy the reading out of the lock; no
// reference to collector-owned state escapes.
type Store struct {
	mu   sync.RWMutex
	data map[Kind]observer.Reading
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{data: map[Kind]observer.Reading{}}
}

func (s *Store) set(k Kind, r observer.Reading) {
	if r == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[k] = r
}

// Get returns the most recently published reading for k, if any.
func (s *Store) Get(k Kind) (observer.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[k]
	return r, ok
}

// Collector is the daemon's single system-scope background thread.
type Collector struct {
	store *Store
	log   *slog.Logger

	power  *ipmi.Observer
	cpu    *rapl.Observer
	proc   *procfsobs.SystemStat
	vendor *vendorcounter.Observer
	gpu    *nvidia.Observer

	topo       *topology.Topology
	topoReader topology.Reader

	clock clock.Clock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds a collector around already-constructed observers. Any of
// power/cpu/vendor/gpu may be nil when that hardware source is
// unavailable on this host; the loop skips a nil observer's step.
func New(store *Store, power *ipmi.Observer, cpu *rapl.Observer, proc *procfsobs.SystemStat, vendor *vendorcounter.Observer, gpu *nvidia.Observer, topo *topology.Topology, topoReader topology.Reader, log *slog.Logger) *Collector {
	return &Collector{
		store:      store,
		log:        log,
		power:      power,
		cpu:        cpu,
		proc:       proc,
		vendor:     vendor,
		gpu:        gpu,
		topo:       topo,
		topoReader: topoReader,
		clock:      clock.RealClock{},
	}
}

// WithClock overrides the collector's tick source; tests use it to
// inject a fake clock instead of waiting on real wall-clock delays.
func (c *Collector) WithClock(ck clock.Clock) *Collector {
	c.clock = ck
	return c
}

// Start captures pointers to the currently-owned observers and launches
// the loop goroutine. RESOURCE_BUSY if already running.
func (c *Collector) Start(delay time.Duration) status.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return status.New(status.ResourceBusy, "system collector already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.loop(delay)
	return status.OKStatus
}

// Stop flips the atomic-like guarded flag and joins the loop goroutine.
// NOT_FOUND if not running.
func (c *Collector) Stop() status.Status {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return status.New(status.NotFound, "system collector not running")
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	return status.OKStatus
}

func (c *Collector) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// IsRunning reports whether the background loop is currently active.
func (c *Collector) IsRunning() bool {
	return c.isRunning()
}

// loop triggers global /proc, powercap, IPMI, and (when configured) the
// vendor counter and GPU observers in order, refreshes topology to
// overwrite per-socket mean frequency on the global CPU usage reading,
// and publishes every result to the store. Each trigger failure is
// logged as a warning; the loop itself never aborts.
func (c *Collector) loop(delay time.Duration) {
	defer c.wg.Done()

	for c.isRunning() {
		if c.proc != nil {
			if st := c.proc.Trigger(); !st.Ok() {
				c.log.Warn("global cpu trigger failed", "error", st.Error())
			} else if rs := c.proc.Readings(); len(rs) > 0 {
				if cpu, ok := rs[0].(*readings.CPUReading); ok {
					if err := c.topo.Refresh(c.topoReader); err != nil {
						c.log.Warn("topology refresh failed", "error", err)
					} else {
						cpu.PerSocketFrequencyMHz = c.topo.PerSocketMeanFrequencyMHz()
					}
				}
				c.store.set(CPUUsage, rs[0])
			}
		}

		if c.cpu != nil {
			if st := c.cpu.Trigger(); !st.Ok() {
				c.log.Warn("powercap trigger failed", "error", st.Error())
			} else if rs := c.cpu.Readings(); len(rs) > 0 {
				c.store.set(CPUEnergy, rs[0])
			}
		}

		if c.power != nil {
			if st := c.power.Trigger(); !st.Ok() {
				c.log.Warn("ipmi trigger failed", "error", st.Error())
			} else if rs := c.power.Readings(); len(rs) == 2 {
				c.store.set(PSUEnergy, rs[0])
				c.store.set(Fan, rs[1])
			}
		}

		if c.vendor != nil {
			if st := c.vendor.Trigger(); !st.Ok() {
				c.log.Warn("vendor counter trigger failed", "error", st.Error())
			} else if rs := c.vendor.Readings(); len(rs) > 0 {
				c.store.set(VendorCounter, rs[0])
			}
		}

		if c.gpu != nil {
			if st := c.gpu.Trigger(); !st.Ok() {
				c.log.Warn("gpu trigger failed", "error", st.Error())
			} else if rs := c.gpu.Readings(); len(rs) > 0 {
				c.store.set(GPU, rs[0])
			}
		}

		select {
		case <-c.stopCh:
			return
		case <-c.clock.After(delay):
		}
	}
}
