// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package procfsobs

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
)

// IO reports per-process read/write volume and bandwidth from
// /proc/<pid>/io's rchar/wchar counters.
type IO struct {
	observer.Base

	fs procfs.FS

	prevRead, prevWrite float64
	warm                bool

	io *readings.IOReading
}

func NewIO(procPath string, pid int) (*IO, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	o := &IO{
		Base: observer.NewBase(observer.Capabilities{Types: readings.IO | readings.Interval, Scope: readings.Process}),
		fs:   fs,
	}
	o.SetPIDRaw(pid)
	return o, nil
}

func (o *IO) SetScope(scope readings.Scope) status.Status {
	if scope != readings.Process {
		return o.Reject("SetScope(system)")
	}
	o.SetScopeRaw(scope)
	return status.OKStatus
}

func (o *IO) SetPID(pid int) status.Status {
	o.SetPIDRaw(pid)
	o.warm = false
	return status.OKStatus
}

func (o *IO) SelectDevice(int) status.Status          { return o.Reject("SelectDevice") }
func (o *IO) SetInterval(time.Duration) status.Status { return status.OKStatus }
func (o *IO) ClearInterval() status.Status            { return status.OKStatus }
func (o *IO) Reset() status.Status {
	o.warm = false
	return status.OKStatus
}

func (o *IO) Trigger() status.Status {
	proc, err := o.fs.Proc(o.PID())
	if err != nil {
		return o.SetStatus(status.Newf(status.NotFound, "pid %d not found: %v", o.PID(), err))
	}
	io, err := proc.IO()
	if err != nil {
		return o.SetStatus(status.Newf(status.NotFound, "failed to read io for pid %d: %v", o.PID(), err))
	}

	ts, diff := o.Tick()

	readKiB := float64(io.RChar) / 1024
	writeKiB := float64(io.WChar) / 1024

	var readBW, writeBW float64
	if o.warm && diff > 0 {
		readBW = (readKiB - o.prevRead) * 1000 / float64(diff)
		writeBW = (writeKiB - o.prevWrite) * 1000 / float64(diff)
	} else {
		o.warm = true
	}
	o.prevRead, o.prevWrite = readKiB, writeKiB

	o.io = &readings.IOReading{
		Base:                readings.Base{ReadingType: readings.IO | readings.Interval, Timestamp: ts, Difference: diff},
		ReadKiB:             readKiB,
		WriteKiB:            writeKiB,
		ReadBandwidthKiBs:   readBW,
		WriteBandwidthKiBs:  writeBW,
		ReadPowerW:          -1,
		WritePowerW:         -1,
	}
	return o.SetStatus(status.OKStatus)
}

func (o *IO) Readings() []observer.Reading {
	if o.io == nil {
		return nil
	}
	return []observer.Reading{o.io}
}
