// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the per-PID collector thread: it triggers
// the process CPU observer (and, optionally, a perf record/annotate
// pair), cross-joins the result with the system collector's cached
// snapshot, and appends one CSV row per tick.
package worker

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/efimon/efimon/internal/csvlog"
	"github.com/efimon/efimon/internal/observer/procfsobs"
	"github.com/efimon/efimon/internal/perf"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
	"github.com/efimon/efimon/internal/syscollector"
)

var probabilityTypes = []readings.InstructionType{readings.Scalar, readings.Vector, readings.Unclassified}
var probabilityFamilies = []readings.InstructionFamily{readings.Arithmetic, readings.Logic, readings.Memory, readings.Branch, readings.Jump}
var originBucketFamilies = map[readings.InstructionFamily]bool{
	readings.Arithmetic: true,
	readings.Logic:      true,
	readings.Memory:     true,
}

// Worker is one per-pid collector thread. A pid may have at most one
// live worker; the daemon analyser enforces that invariant, not this
// type.
type Worker struct {
	name string // output CSV path
	pid  int

	delay            time.Duration
	samplesRemaining int
	unbounded        bool
	enablePerf       bool

	proc     *procfsobs.ProcessStat
	record   *perf.Record
	annotate *perf.Annotate

	logger *csvlog.Logger
	store  *syscollector.Store
	log    *slog.Logger
	clock  clock.Clock

	schema     []csvlog.Column
	psuColumns []string
	fanColumns []string
	skColumns  []string
	perfColumns []perfColumn

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	lastCPU   *readings.CPUReading
	lastInstr *readings.InstructionReading
}

type perfColumn struct {
	name   string
	typ    readings.InstructionType
	family readings.InstructionFamily
	bucket string // "" for single-column families
}

// Config bundles the construction-time parameters of a worker.
type Config struct {
	Name             string
	PID              int
	ProcPath         string
	Delay            time.Duration
	Samples          int
	Unbounded        bool
	EnablePerf       bool
	FrequencyHz      int
	Store            *syscollector.Store
	Log              *slog.Logger
	Classifier       perf.Classifier
	AnnotateThreshold float64
	Clock            clock.Clock // nil defaults to clock.RealClock{}; tests inject a fake to control the tick loop
}

// New builds a worker: a process CPU observer, an optional perf
// record/annotate pair (no_dispose=true, matching §4.11), and the CSV
// logger with a schema built from PSU/fan/socket counts in the current
// system snapshot.
func New(cfg Config) (*Worker, status.Status) {
	proc, err := procfsobs.NewProcessStat(cfg.ProcPath, cfg.PID)
	if err != nil {
		return nil, status.Newf(status.NotFound, "process observer: %v", err)
	}
	if st := proc.SetInterval(cfg.Delay); !st.Ok() {
		return nil, st
	}

	tickClock := cfg.Clock
	if tickClock == nil {
		tickClock = clock.RealClock{}
	}

	w := &Worker{
		name:             cfg.Name,
		pid:              cfg.PID,
		delay:            cfg.Delay,
		samplesRemaining: cfg.Samples,
		unbounded:        cfg.Unbounded,
		enablePerf:       cfg.EnablePerf,
		proc:             proc,
		store:            cfg.Store,
		log:              cfg.Log,
		clock:            tickClock,
	}

	if cfg.EnablePerf {
		record, st := perf.NewRecord(cfg.ProcPath, cfg.PID, int(cfg.Delay/time.Millisecond), cfg.FrequencyHz, true)
		if !st.Ok() {
			return nil, st
		}
		w.record = record
		w.annotate = perf.NewAnnotate(record, cfg.Classifier, cfg.AnnotateThreshold)
	}

	w.buildSchema()
	logger, st := csvlog.New(cfg.Name, w.schema)
	if !st.Ok() {
		return nil, st
	}
	w.logger = logger

	return w, status.OKStatus
}

// buildSchema concatenates Timestamp, TimeDifference, SystemCpuUsage,
// ProcessCpuUsage, per-PSU/fan/socket columns sized from the current
// system snapshot, and (if perf is enabled) the type x family
// probability columns.
func (w *Worker) buildSchema() {
	cols := []csvlog.Column{
		{Name: "Timestamp", Type: csvlog.Integer64},
		{Name: "TimeDifference", Type: csvlog.Integer64},
		{Name: "SystemCpuUsage", Type: csvlog.Float},
		{Name: "ProcessCpuUsage", Type: csvlog.Float},
	}

	psuCount, fanCount, socketCount := 0, 0, 0
	if w.store != nil {
		if r, ok := w.store.Get(syscollector.PSUEnergy); ok {
			if psu, ok := r.(*readings.PSUReading); ok {
				psuCount = len(psu.PerPSUPowerW)
			}
		}
		if r, ok := w.store.Get(syscollector.Fan); ok {
			if fan, ok := r.(*readings.FanReading); ok {
				fanCount = len(fan.PerFanRPM)
			}
		}
		if r, ok := w.store.Get(syscollector.CPUEnergy); ok {
			if cpu, ok := r.(*readings.CPUReading); ok {
				socketCount = len(cpu.PerSocketPower)
			}
		}
	}

	for i := 0; i < psuCount; i++ {
		name := fmt.Sprintf("PSUPower%d", i)
		w.psuColumns = append(w.psuColumns, name)
		cols = append(cols, csvlog.Column{Name: name, Type: csvlog.Float})
	}
	for i := 0; i < fanCount; i++ {
		name := fmt.Sprintf("FanSpeed%d", i)
		w.fanColumns = append(w.fanColumns, name)
		cols = append(cols, csvlog.Column{Name: name, Type: csvlog.Float})
	}
	for i := 0; i < socketCount; i++ {
		name := fmt.Sprintf("SocketPower%d", i)
		w.skColumns = append(w.skColumns, name)
		cols = append(cols, csvlog.Column{Name: name, Type: csvlog.Float})
	}

	if w.enablePerf {
		for _, t := range probabilityTypes {
			for _, f := range probabilityFamilies {
				if originBucketFamilies[f] {
					for _, bucket := range []string{"Register", "MemLoad", "MemStore", "MemUpdate"} {
						name := "Probability" + bucket + t.String() + f.String()
						w.perfColumns = append(w.perfColumns, perfColumn{name: name, typ: t, family: f, bucket: bucket})
						cols = append(cols, csvlog.Column{Name: name, Type: csvlog.Float})
					}
				} else {
					name := "Probability" + t.String() + f.String()
					w.perfColumns = append(w.perfColumns, perfColumn{name: name, typ: t, family: f})
					cols = append(cols, csvlog.Column{Name: name, Type: csvlog.Float})
				}
			}
		}
	}

	w.schema = cols
}

// Start launches the collector goroutine.
func (w *Worker) Start() status.Status {
	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.loop()
	return status.OKStatus
}

// State returns RUNNING or STOPPED, matching the daemon's poll reply.
func (w *Worker) State() status.Kind {
	if w.running.Load() {
		return status.Running
	}
	return status.Stopped
}

// PID returns the pid this worker tracks.
func (w *Worker) PID() int { return w.pid }

func (w *Worker) loop() {
	defer w.wg.Done()
	first := true

	for w.running.Load() {
		st := w.proc.Trigger()
		if !st.Ok() {
			w.log.Warn("worker process trigger failed, stopping", "pid", w.pid, "error", st.Error())
			w.running.Store(false)
			return
		}

		cpuReading := w.proc.Readings()[0].(*readings.CPUReading)
		w.mu.Lock()
		w.lastCPU = cpuReading
		w.mu.Unlock()

		if w.enablePerf {
			if st := w.record.Trigger(); st.Ok() {
				if st := w.annotate.Trigger(); st.Ok() {
					instr := w.annotate.Readings()[0].(*readings.InstructionReading)
					w.mu.Lock()
					w.lastInstr = instr
					w.mu.Unlock()
				} else {
					w.log.Warn("annotate trigger failed", "pid", w.pid, "error", st.Error())
				}
			} else {
				w.log.Warn("perf record trigger failed", "pid", w.pid, "error", st.Error())
			}
		}

		if !first {
			row := w.composeRow(cpuReading)
			if st := w.logger.InsertRow(row); !st.Ok() {
				w.log.Warn("csv insert failed", "pid", w.pid, "error", st.Error())
			}
		}
		first = false

		if !w.unbounded {
			w.samplesRemaining--
			if w.samplesRemaining <= 0 {
				w.running.Store(false)
				return
			}
		}

		select {
		case <-w.stopCh:
			return
		case <-w.clock.After(w.delay):
		}
	}
}

func (w *Worker) composeRow(cpu *readings.CPUReading) map[string]any {
	row := map[string]any{
		"Timestamp":       cpu.TimestampMS(),
		"TimeDifference":  cpu.DifferenceMS(),
		"ProcessCpuUsage": cpu.OverallUsage,
	}

	if w.store != nil {
		if r, ok := w.store.Get(syscollector.CPUUsage); ok {
			if sys, ok := r.(*readings.CPUReading); ok {
				row["SystemCpuUsage"] = sys.OverallUsage
			}
		}
		if r, ok := w.store.Get(syscollector.PSUEnergy); ok {
			if psu, ok := r.(*readings.PSUReading); ok {
				for i, name := range w.psuColumns {
					if i < len(psu.PerPSUPowerW) {
						row[name] = psu.PerPSUPowerW[i]
					}
				}
			}
		}
		if r, ok := w.store.Get(syscollector.Fan); ok {
			if fan, ok := r.(*readings.FanReading); ok {
				for i, name := range w.fanColumns {
					if i < len(fan.PerFanRPM) {
						row[name] = fan.PerFanRPM[i]
					}
				}
			}
		}
		if r, ok := w.store.Get(syscollector.CPUEnergy); ok {
			if energy, ok := r.(*readings.CPUReading); ok {
				for i, name := range w.skColumns {
					if i < len(energy.PerSocketPower) {
						row[name] = energy.PerSocketPower[i]
					}
				}
			}
		}
	}

	if w.enablePerf {
		w.mu.Lock()
		instr := w.lastInstr
		w.mu.Unlock()
		for _, col := range w.perfColumns {
			row[col.name] = sumProbability(instr, col.typ, col.family, col.bucket)
		}
	}

	return row
}

func sumProbability(instr *readings.InstructionReading, t readings.InstructionType, f readings.InstructionFamily, bucket string) float64 {
	if instr == nil {
		return 0
	}
	byFamily, ok := instr.Taxonomy[t]
	if !ok {
		return 0
	}
	byOrigin, ok := byFamily[f]
	if !ok {
		return 0
	}
	if bucket == "" {
		sum := 0.0
		for _, v := range byOrigin {
			sum += v
		}
		return sum
	}
	sum := 0.0
	for origin, v := range byOrigin {
		if b, ok := originBucket(origin); ok && b == bucket {
			sum += v
		}
	}
	return sum
}

// originBucket classifies a packed origin into one of the four reported
// buckets: Register (write to a register, or anything else that isn't
// a memory write, from anything but memory), MemLoad (register write
// sourced from memory), MemStore (memory write sourced from a register
// or immediate), MemUpdate (memory write sourced from memory). Only a
// memory output routes to MemLoad/MemStore/MemUpdate; every other
// output, including one that can't occur in practice, is Register.
func originBucket(o readings.Origin) (string, bool) {
	output, input := o.Decompose()
	switch output {
	case readings.MemoryOperand:
		if input == readings.MemoryOperand {
			return "MemUpdate", true
		}
		return "MemStore", true
	default:
		if input == readings.MemoryOperand {
			return "MemLoad", true
		}
		return "Register", true
	}
}

// Stop flips the running flag, joins the goroutine, and releases the
// CSV logger and any perf resources.
func (w *Worker) Stop() status.Status {
	if !w.running.Load() {
		return status.OKStatus
	}
	w.running.Store(false)
	close(w.stopCh)
	w.wg.Wait()

	if w.record != nil {
		w.record.Close()
	}
	if w.logger != nil {
		return w.logger.Close()
	}
	return status.OKStatus
}
