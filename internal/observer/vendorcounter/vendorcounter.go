// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package vendorcounter wraps the Model-Specific-Register interface as
// the stand-in for a third-party shared hardware-counter library: a
// process-wide singleton session, guarded by a mutex, that reports
// per-socket IPC and per-socket energy. See DESIGN.md for why
// MSR access plays the role the spec reserves for a vendor counter
// library - no Go binding for that class of library (e.g. Intel PCM)
// appears anywhere in the example corpus.
package vendorcounter

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
	"github.com/efimon/efimon/internal/topology"
)

const (
	msrPowerUnit       = 0x606
	msrPkgEnergyStatus = 0x611
	msrFixedCtr0       = 0x309 // INST_RETIRED.ANY
	msrFixedCtr1       = 0x30A // CPU_CLK_UNHALTED.CORE
)

// session is the process-wide singleton that owns the open MSR file
// handles. Only one Observer instance may hold it at a time, matching
// the spec's "at most one" invariant for the vendor counter library.
type session struct {
	mu     sync.Mutex
	owner  *Observer
	files  map[int]*os.File
}

var globalSession = &session{files: map[int]*os.File{}}

// Observer reports overall and per-socket IPC and per-socket consumed
// energy/power; per-core IPC is not reported. Not available for Process
// scope.
type Observer struct {
	observer.Base

	devicePath string
	topo       *topology.Topology
	reader     topology.Reader

	prevInstr, prevCycles   map[int]uint64
	prevEnergyJ             map[int]float64
	energyUnit              float64
	warm                    bool

	cpu *readings.CPUReading
}

// New acquires the global session. ACCESS_DENIED, RESOURCE_BUSY and
// CONFIGURATION_ERROR are distinct construction outcomes, mirroring the
// spec's taxonomy for a vendor library that is itself a singleton.
func New(devicePath string, reader topology.Reader) (*Observer, status.Status) {
	globalSession.mu.Lock()
	defer globalSession.mu.Unlock()

	if globalSession.owner != nil {
		return nil, status.Newf(status.ResourceBusy, "vendor counter session already owned")
	}

	topo := topology.New()
	if err := topo.Refresh(reader); err != nil {
		return nil, status.Newf(status.ConfigurationError, "failed to read topology: %v", err)
	}

	o := &Observer{
		Base:       observer.NewBase(observer.Capabilities{Types: readings.CPU | readings.Power | readings.Interval, Scope: readings.System}),
		devicePath: devicePath,
		topo:       topo,
		reader:     reader,
		prevInstr:  map[int]uint64{},
		prevCycles: map[int]uint64{},
		prevEnergyJ: map[int]float64{},
	}

	if err := o.openAll(); err != nil {
		return nil, classifyOpenError(err)
	}

	unit, err := readEnergyUnit(o.firstFile())
	if err != nil {
		o.closeAll()
		return nil, status.Newf(status.ConfigurationError, "failed to read energy unit: %v", err)
	}
	o.energyUnit = unit

	globalSession.owner = o
	return o, status.OKStatus
}

func classifyOpenError(err error) status.Status {
	if os.IsPermission(err) {
		return status.Newf(status.AccessDenied, "%v", err)
	}
	return status.Newf(status.ConfigurationError, "%v", err)
}

func (o *Observer) openAll() error {
	for _, id := range o.topo.SocketIDs() {
		path := fmt.Sprintf(o.devicePath, id)
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			o.closeAll()
			return err
		}
		globalSession.files[id] = f
	}
	return nil
}

func (o *Observer) firstFile() *os.File {
	for _, id := range o.topo.SocketIDs() {
		return globalSession.files[id]
	}
	return nil
}

func (o *Observer) closeAll() {
	for id, f := range globalSession.files {
		f.Close()
		delete(globalSession.files, id)
	}
}

// Release drops the singleton so a later construction can succeed again.
func (o *Observer) Release() {
	globalSession.mu.Lock()
	defer globalSession.mu.Unlock()
	if globalSession.owner == o {
		o.closeAll()
		globalSession.owner = nil
	}
}

func readMSR(f *os.File, offset int64) (uint64, error) {
	if f == nil {
		return 0, fmt.Errorf("msr file not open")
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return 0, err
	}
	var v uint64
	if err := binary.Read(f, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func readEnergyUnit(f *os.File) (float64, error) {
	v, err := readMSR(f, msrPowerUnit)
	if err != nil {
		return 0, err
	}
	bits := (v >> 8) & 0x1F
	return 1.0 / float64(uint64(1)<<bits), nil
}

func (o *Observer) SetScope(scope readings.Scope) status.Status {
	if scope != readings.System {
		return o.Reject("SetScope(process)")
	}
	o.SetScopeRaw(scope)
	return status.OKStatus
}

func (o *Observer) SetPID(int) status.Status                { return o.Reject("SetPID") }
func (o *Observer) SelectDevice(int) status.Status          { return o.Reject("SelectDevice") }
func (o *Observer) SetInterval(time.Duration) status.Status { return status.OKStatus }
func (o *Observer) ClearInterval() status.Status            { return status.OKStatus }
func (o *Observer) Reset() status.Status {
	o.warm = false
	o.prevInstr = map[int]uint64{}
	o.prevCycles = map[int]uint64{}
	o.prevEnergyJ = map[int]float64{}
	return status.OKStatus
}

// Trigger reads *before* on the first call and *after* thereafter,
// reporting per-socket IPC (from the fixed counters read through that
// socket's single MSR file), overall IPC as the mean over sockets,
// per-socket energy delta and power = joules*1000/dt_ms. PerCoreUsage is
// left empty.
func (o *Observer) Trigger() status.Status {
	if err := o.topo.Refresh(o.reader); err != nil {
		return o.SetStatus(status.Newf(status.FileError, "failed to refresh topology: %v", err))
	}

	ts, diff := o.Tick()

	socketIDs := o.topo.SocketIDs()
	perSocketIPC := make([]float64, len(socketIDs))
	perSocketEnergy := make([]float64, len(socketIDs))
	perSocketPower := make([]float64, len(socketIDs))
	overallIPCSum, overallCores := 0.0, 0

	for si, id := range socketIDs {
		f := globalSession.files[id]
		instr, err := readMSR(f, msrFixedCtr0)
		if err != nil {
			continue
		}
		cycles, err := readMSR(f, msrFixedCtr1)
		if err != nil {
			continue
		}
		rawEnergy, err := readMSR(f, msrPkgEnergyStatus)
		if err != nil {
			continue
		}
		energyJ := float64(rawEnergy&0xFFFFFFFF) * o.energyUnit

		ipc := 0.0
		energyDelta := 0.0
		if o.warm {
			dInstr := instr - o.prevInstr[id]
			dCycles := cycles - o.prevCycles[id]
			if dCycles > 0 {
				ipc = float64(dInstr) / float64(dCycles)
			}
			energyDelta = energyJ - o.prevEnergyJ[id]
		}
		o.prevInstr[id] = instr
		o.prevCycles[id] = cycles
		o.prevEnergyJ[id] = energyJ

		perSocketIPC[si] = ipc
		perSocketEnergy[si] = energyDelta
		if diff > 0 {
			perSocketPower[si] = energyDelta * 1000 / float64(diff)
		}
		overallIPCSum += ipc
		overallCores++
	}
	o.warm = true

	overallIPC := 0.0
	if overallCores > 0 {
		overallIPC = overallIPCSum / float64(overallCores)
	}

	o.cpu = &readings.CPUReading{
		Base:            readings.Base{ReadingType: readings.CPU | readings.Power | readings.Interval, Timestamp: ts, Difference: diff},
		OverallUsage:    overallIPC,
		PerSocketUsage:  perSocketIPC,
		PerSocketEnergy: perSocketEnergy,
		PerSocketPower:  perSocketPower,
	}
	return o.SetStatus(status.OKStatus)
}

func (o *Observer) Readings() []observer.Reading {
	if o.cpu == nil {
		return nil
	}
	return []observer.Reading{o.cpu}
}
