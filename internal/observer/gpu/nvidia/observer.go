// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"fmt"
	"time"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
)

// Observer discovers device count at construction and opens per-device
// handles. Reset (re)allocates per-device vectors and enables
// accounting mode so per-process utilization can be queried later.
type Observer struct {
	observer.Base

	lib     lib
	devices []device

	selected int // -1 means "all devices", aggregated
	lastSeen []uint64
	prevEnergyJ []float64
	warm        bool

	gpu *readings.GPUReading
}

func New() (*Observer, error) {
	return newWithLib(newRealLib())
}

func newWithLib(l lib) (*Observer, error) {
	if ret := l.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init failed: %s", l.ErrorString(ret))
	}

	count, ret := l.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device count failed: %s", l.ErrorString(ret))
	}

	devices := make([]device, 0, count)
	for i := 0; i < count; i++ {
		d, ret := l.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue
		}
		devices = append(devices, d)
	}

	o := &Observer{
		Base:     observer.NewBase(observer.Capabilities{Types: readings.GPU | readings.VRAM | readings.Power | readings.Interval, Scope: readings.System}),
		lib:      l,
		devices:  devices,
		selected: -1,
	}
	o.Reset()
	return o, nil
}

func (o *Observer) Reset() status.Status {
	n := len(o.devices)
	o.lastSeen = make([]uint64, n)
	o.prevEnergyJ = make([]float64, n)
	o.warm = false
	for _, d := range o.devices {
		d.SetAccountingMode(nvml.FEATURE_ENABLED)
	}
	return status.OKStatus
}

func (o *Observer) SelectDevice(id int) status.Status {
	if id < 0 || id >= len(o.devices) {
		o.selected = -1
		return status.OKStatus
	}
	o.selected = id
	return status.OKStatus
}

func (o *Observer) SetScope(scope readings.Scope) status.Status {
	o.SetScopeRaw(scope)
	return status.OKStatus
}

func (o *Observer) SetPID(pid int) status.Status {
	o.SetPIDRaw(pid)
	return status.OKStatus
}

func (o *Observer) SetInterval(time.Duration) status.Status { return status.OKStatus }
func (o *Observer) ClearInterval() status.Status            { return status.OKStatus }

// Trigger dispatches to the System or Process collection path depending
// on the configured scope.
func (o *Observer) Trigger() status.Status {
	if o.Scope() == readings.Process {
		return o.triggerProcess()
	}
	return o.triggerSystem()
}

// triggerSystem reads per-device utilisation, total energy and clocks,
// deriving power = delta(energy) / delta(t_ms). When the selected index
// exceeds the device count, every device is aggregated into the overall
// fields instead.
func (o *Observer) triggerSystem() status.Status {
	ts, diff := o.Tick()

	n := len(o.devices)
	usage := make([]float64, n)
	mem := make([]float64, n)
	power := make([]float64, n)
	energy := make([]float64, n)
	smClock := make([]float64, n)
	memClock := make([]float64, n)

	indices := o.selectedIndices()
	for _, i := range indices {
		d := o.devices[i]

		if util, ret := d.GetUtilizationRates(); ret == nvml.SUCCESS {
			usage[i] = float64(util.Gpu)
			mem[i] = float64(util.Memory)
		}
		if mi, ret := d.GetMemoryInfo(); ret == nvml.SUCCESS && mi.Total > 0 {
			mem[i] = 100 * float64(mi.Used) / float64(mi.Total)
		}
		if sm, ret := d.GetClockInfo(nvml.CLOCK_SM); ret == nvml.SUCCESS {
			smClock[i] = float64(sm)
		}
		if mc, ret := d.GetClockInfo(nvml.CLOCK_MEM); ret == nvml.SUCCESS {
			memClock[i] = float64(mc)
		}

		if raw, ret := d.GetTotalEnergyConsumption(); ret == nvml.SUCCESS {
			joules := float64(raw) / 1000
			delta := 0.0
			if o.warm {
				delta = joules - o.prevEnergyJ[i]
			}
			o.prevEnergyJ[i] = joules
			energy[i] = delta
			if diff > 0 {
				power[i] = delta * 1000 / float64(diff)
			}
		}
	}
	o.warm = true

	overallUsage, overallMem, overallPower, overallEnergy := sumOver(usage, indices), sumOver(mem, indices), sumOver(power, indices), sumOver(energy, indices)
	if len(indices) > 0 {
		overallUsage /= float64(len(indices))
		overallMem /= float64(len(indices))
	}

	o.gpu = &readings.GPUReading{
		Base:                 readings.Base{ReadingType: readings.GPU | readings.VRAM | readings.Power | readings.Interval, Timestamp: ts, Difference: diff},
		OverallUsage:         overallUsage,
		OverallMemory:        overallMem,
		OverallPowerW:        overallPower,
		OverallEnergyJ:       overallEnergy,
		PerDeviceUsage:       usage,
		PerDeviceMemory:      mem,
		PerDevicePowerW:      power,
		PerDeviceEnergyJ:     energy,
		PerDeviceSMClockMHz:  smClock,
		PerDeviceMemClockMHz: memClock,
	}
	return o.SetStatus(status.OKStatus)
}

// triggerProcess fetches a recent sample array via NVML's per-process
// utilisation call, filters by pid, and reports only (usage%, memory/10).
func (o *Observer) triggerProcess() status.Status {
	ts, diff := o.Tick()

	usageTotal, memTotal := 0.0, 0.0
	count := 0
	for _, i := range o.selectedIndices() {
		d := o.devices[i]
		samples, ret := d.GetProcessUtilization(o.lastSeen[i])
		if ret != nvml.SUCCESS {
			continue
		}
		for _, s := range samples {
			if int(s.Pid) != o.PID() {
				continue
			}
			usageTotal += float64(s.SmUtil)
			memTotal += float64(s.MemUtil) / 10
			count++
		}
		if len(samples) > 0 {
			o.lastSeen[i] = samples[len(samples)-1].TimeStamp
		}
	}

	o.gpu = &readings.GPUReading{
		Base:          readings.Base{ReadingType: readings.GPU | readings.VRAM | readings.Interval, Timestamp: ts, Difference: diff},
		OverallUsage:  usageTotal,
		OverallMemory: memTotal,
	}
	_ = count
	return o.SetStatus(status.OKStatus)
}

func (o *Observer) selectedIndices() []int {
	if o.selected < 0 || o.selected >= len(o.devices) {
		indices := make([]int, len(o.devices))
		for i := range o.devices {
			indices[i] = i
		}
		return indices
	}
	return []int{o.selected}
}

func sumOver(vs []float64, indices []int) float64 {
	sum := 0.0
	for _, i := range indices {
		sum += vs[i]
	}
	return sum
}

func (o *Observer) Readings() []observer.Reading {
	if o.gpu == nil {
		return nil
	}
	return []observer.Reading{o.gpu}
}

func (o *Observer) Shutdown() error {
	if ret := o.lib.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml shutdown failed: %s", o.lib.ErrorString(ret))
	}
	return nil
}
