// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package rapl implements the powercap (RAPL) observer: per-socket
// energy deltas read from the kernel's powercap sysfs nodes.
package rapl

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs/sysfs"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
)

// Observer reads /sys/class/powercap/intel-rapl:<n>/energy_uj for every
// socket. Per-socket "power" is, verbatim, the energy delta in joules
// since the previous trigger - not watts; see DESIGN.md for why that
// unit ambiguity from the reference implementation is preserved rather
// than silently fixed.
type Observer struct {
	observer.Base

	fs sysfs.FS

	socketCount int
	selected    int // -1 means "all sockets"

	before, after []float64
	warm          bool

	cpu *readings.CPUReading
}

// New opens the powercap sysfs tree and seeds the socket count from the
// number of RAPL zones discovered there.
func New(sysfsPath string) (*Observer, error) {
	fs, err := sysfs.NewFS(sysfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sysfs at %s: %w", sysfsPath, err)
	}

	o := &Observer{
		Base:     observer.NewBase(observer.Capabilities{Types: readings.CPU | readings.Power | readings.Interval, Scope: readings.System}),
		fs:       fs,
		selected: -1,
	}
	if err := o.Reset().AsError(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Observer) Reset() status.Status {
	zones, err := sysfs.GetRaplZones(o.fs)
	if err != nil {
		return o.SetStatus(status.Newf(status.FileError, "failed to read rapl zones: %v", err))
	}
	o.socketCount = len(zones)
	o.before = make([]float64, o.socketCount)
	o.after = make([]float64, o.socketCount)
	o.warm = false
	return status.OKStatus
}

// SelectDevice restricts the scan to one socket. Overrunning the socket
// count reverts to scanning all sockets, matching the reference
// implementation's fallback rather than returning an error.
func (o *Observer) SelectDevice(id int) status.Status {
	if id < 0 || id >= o.socketCount {
		o.selected = -1
		return status.OKStatus
	}
	o.selected = id
	return status.OKStatus
}

func (o *Observer) SetScope(scope readings.Scope) status.Status {
	if scope != readings.System {
		return o.Reject("SetScope(process)")
	}
	o.SetScopeRaw(scope)
	return status.OKStatus
}

func (o *Observer) SetPID(int) status.Status                { return o.Reject("SetPID") }
func (o *Observer) SetInterval(time.Duration) status.Status { return status.OKStatus }
func (o *Observer) ClearInterval() status.Status            { return status.OKStatus }

// Trigger reads every selected socket's energy_uj, converts microjoules
// to joules, and shifts after -> before for the next call. The first
// trigger fills both `before` and `after` so the reported delta is zero.
func (o *Observer) Trigger() status.Status {
	zones, err := sysfs.GetRaplZones(o.fs)
	if err != nil {
		return o.SetStatus(status.Newf(status.FileError, "failed to read rapl zones: %v", err))
	}

	ts, diff := o.Tick()

	perSocket := make([]float64, o.socketCount)
	overall := 0.0
	for i, zone := range zones {
		if i >= o.socketCount {
			break
		}
		if o.selected != -1 && i != o.selected {
			continue
		}

		microjoules, err := zone.GetEnergyMicrojoules()
		if err != nil {
			continue
		}
		joules := float64(microjoules) / 1e6

		if o.warm {
			o.before[i] = o.after[i]
		} else {
			o.before[i] = joules
		}
		o.after[i] = joules

		delta := o.after[i] - o.before[i]
		perSocket[i] = delta
		overall += delta
	}
	o.warm = true

	o.cpu = &readings.CPUReading{
		Base:            readings.Base{ReadingType: readings.CPU | readings.Power | readings.Interval, Timestamp: ts, Difference: diff},
		OverallPower:    overall,
		PerSocketPower:  perSocket,
		PerSocketEnergy: append([]float64(nil), o.after...),
	}
	return o.SetStatus(status.OKStatus)
}

func (o *Observer) Readings() []observer.Reading {
	if o.cpu == nil {
		return nil
	}
	return []observer.Reading{o.cpu}
}
