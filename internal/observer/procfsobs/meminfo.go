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

// MemInfo reports system-wide memory and swap usage from /proc/meminfo.
// RAM used = total-available, swap used = total-free, total memory used
// is the sum of both.
type MemInfo struct {
	observer.Base

	fs procfs.FS

	ram *readings.RAMReading
}

func NewMemInfo(procPath string) (*MemInfo, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	return &MemInfo{
		Base: observer.NewBase(observer.Capabilities{Types: readings.RAM | readings.Interval, Scope: readings.System}),
		fs:   fs,
	}, nil
}

func (o *MemInfo) SetScope(scope readings.Scope) status.Status {
	if scope != readings.System {
		return o.Reject("SetScope(process)")
	}
	o.SetScopeRaw(scope)
	return status.OKStatus
}

func (o *MemInfo) SetPID(int) status.Status                { return o.Reject("SetPID") }
func (o *MemInfo) SelectDevice(int) status.Status          { return o.Reject("SelectDevice") }
func (o *MemInfo) SetInterval(time.Duration) status.Status { return status.OKStatus }
func (o *MemInfo) ClearInterval() status.Status            { return status.OKStatus }
func (o *MemInfo) Reset() status.Status                    { return status.OKStatus }

func (o *MemInfo) Trigger() status.Status {
	mi, err := o.fs.Meminfo()
	if err != nil {
		return o.SetStatus(status.Newf(status.FileError, "failed to read /proc/meminfo: %v", err))
	}

	ts, diff := o.Tick()

	total := kibToMiB(mi.MemTotal)
	available := kibToMiB(mi.MemAvailable)
	swapTotal := kibToMiB(mi.SwapTotal)
	swapFree := kibToMiB(mi.SwapFree)

	ramUsed := total - available
	swapUsed := swapTotal - swapFree

	o.ram = &readings.RAMReading{
		Base:                readings.Base{ReadingType: readings.RAM | readings.Interval, Timestamp: ts, Difference: diff},
		TotalMemoryUsedMiB:  ramUsed + swapUsed,
		OverallRSSMiB:       ramUsed,
		SwapUsedMiB:         swapUsed,
		OverallBandwidthMiB: -1,
		OverallPowerW:       -1,
	}
	return o.SetStatus(status.OKStatus)
}

func kibToMiB(v *uint64) float64 {
	if v == nil {
		return 0
	}
	return float64(*v) / 1024
}

func (o *MemInfo) Readings() []observer.Reading {
	if o.ram == nil {
		return nil
	}
	return []observer.Reading{o.ram}
}
