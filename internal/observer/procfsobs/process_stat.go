// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package procfsobs implements the family of /proc-backed observers:
// per-process and system CPU time, RAM totals, I/O bytes, network
// devices, process/thread trees and the liveness-diffing process lister.
package procfsobs

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/procfs"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
)

// clockTicksPerSecond mirrors the kernel's USER_HZ, hardcoded like the
// rest of the procfs ecosystem rather than read from sysconf.
const clockTicksPerSecond = 100

// ProcessStat reports per-process CPU usage by differencing
// /proc/<pid>/stat's utime+stime+cutime+cstime against the process's
// elapsed lifetime. It also derives RSS/virtual-memory RAM figures from
// the same stat line.
type ProcessStat struct {
	observer.Base

	fs procfs.FS

	prevActiveMS float64
	prevTotalMS  float64
	warm         bool

	cpu *readings.CPUReading
	ram *readings.RAMReading
}

func NewProcessStat(procPath string, pid int) (*ProcessStat, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	o := &ProcessStat{
		Base: observer.NewBase(observer.Capabilities{Types: readings.CPU | readings.RAM | readings.Interval, Scope: readings.Process}),
		fs:   fs,
	}
	o.SetPIDRaw(pid)
	return o, nil
}

func (o *ProcessStat) SetScope(scope readings.Scope) status.Status {
	if scope != readings.Process {
		return o.Reject("SetScope(system)")
	}
	o.SetScopeRaw(scope)
	return status.OKStatus
}

func (o *ProcessStat) SetPID(pid int) status.Status {
	o.SetPIDRaw(pid)
	o.warm = false
	return status.OKStatus
}

func (o *ProcessStat) SelectDevice(int) status.Status          { return o.Reject("SelectDevice") }
func (o *ProcessStat) SetInterval(time.Duration) status.Status { return status.OKStatus }
func (o *ProcessStat) ClearInterval() status.Status            { return status.OKStatus }

func (o *ProcessStat) Reset() status.Status {
	o.warm = false
	o.prevActiveMS = 0
	o.prevTotalMS = 0
	return status.OKStatus
}

// Trigger recomputes active = (utime+stime+cutime+cstime)*1000/clockTick
// (milliseconds), total = uptime-starttime (also converted to
// milliseconds), and reports
// overall_usage = 100 * d(active) / d(total) / num_online_cpus. The
// first tick is a warmup: difference is zero and usage is zero.
// Zombie/dead processes yield no update and a NOT_FOUND status so the
// worker that owns this observer can self-stop.
func (o *ProcessStat) Trigger() status.Status {
	proc, err := o.fs.Proc(o.PID())
	if err != nil {
		return o.SetStatus(status.Newf(status.NotFound, "pid %d not found: %v", o.PID(), err))
	}
	st, err := proc.Stat()
	if err != nil {
		return o.SetStatus(status.Newf(status.NotFound, "failed to stat pid %d: %v", o.PID(), err))
	}
	if st.State == "Z" || st.State == "X" {
		return o.SetStatus(status.Newf(status.NotFound, "pid %d is %s", o.PID(), st.State))
	}

	uptimeSeconds, err := readUptimeSeconds()
	if err != nil {
		return o.SetStatus(status.Newf(status.FileError, "failed to read /proc/uptime: %v", err))
	}

	ts, diff := o.Tick()

	activeMS := float64(int64(st.UTime)+int64(st.STime)+int64(st.CUTime)+int64(st.CSTime)) * 1000 / clockTicksPerSecond
	startMS := float64(st.Starttime) * 1000 / clockTicksPerSecond
	totalMS := uptimeSeconds*1000 - startMS

	usage := 0.0
	if o.warm {
		dActive := activeMS - o.prevActiveMS
		dTotal := totalMS - o.prevTotalMS
		if dTotal > 0 {
			usage = 100 * dActive / dTotal / float64(numOnlineCPUs())
		}
	} else {
		o.warm = true
	}
	o.prevActiveMS = activeMS
	o.prevTotalMS = totalMS

	o.cpu = &readings.CPUReading{
		Base:         readings.Base{ReadingType: readings.CPU | readings.Interval, Timestamp: ts, Difference: diff},
		OverallUsage: usage,
	}

	pageSize := int64(os.Getpagesize())
	o.ram = &readings.RAMReading{
		Base:                readings.Base{ReadingType: readings.RAM | readings.Interval, Timestamp: ts, Difference: diff},
		OverallRSSMiB:       float64(st.RSS) * float64(pageSize) / (1 << 20),
		TotalMemoryUsedMiB:  float64(st.VSize) / (1 << 20),
		OverallBandwidthMiB: -1,
		OverallPowerW:       -1,
	}

	return o.SetStatus(status.OKStatus)
}

func (o *ProcessStat) Readings() []observer.Reading {
	if o.cpu == nil {
		return nil
	}
	return []observer.Reading{o.cpu, o.ram}
}

func numOnlineCPUs() int {
	n := runtime.NumCPU()
	if n <= 0 {
		return 1
	}
	return n
}

func readUptimeSeconds() (float64, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	var seconds float64
	if _, err := fmt.Sscanf(string(data), "%f", &seconds); err != nil {
		return 0, err
	}
	return seconds, nil
}
