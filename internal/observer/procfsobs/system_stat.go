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

// SystemStat reports whole-host CPU usage from /proc/stat. Per-core
// fraction is `delta(active) / delta(total)` where
// `active = user+nice+system+iowait + 0.01*idle` - the 0.01 coefficient
// on idle is preserved verbatim from the reference implementation; see
// DESIGN.md for why it is not "corrected" to exclude idle entirely.
type SystemStat struct {
	observer.Base

	fs procfs.FS

	prevPerCPU []procfs.CPUStat
	warm       bool

	cpu *readings.CPUReading
}

func NewSystemStat(procPath string) (*SystemStat, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	return &SystemStat{
		Base: observer.NewBase(observer.Capabilities{Types: readings.CPU | readings.Interval, Scope: readings.System}),
		fs:   fs,
	}, nil
}

func (o *SystemStat) SetScope(scope readings.Scope) status.Status {
	if scope != readings.System {
		return o.Reject("SetScope(process)")
	}
	o.SetScopeRaw(scope)
	return status.OKStatus
}

func (o *SystemStat) SetPID(int) status.Status                { return o.Reject("SetPID") }
func (o *SystemStat) SelectDevice(int) status.Status          { return o.Reject("SelectDevice") }
func (o *SystemStat) SetInterval(time.Duration) status.Status { return status.OKStatus }
func (o *SystemStat) ClearInterval() status.Status            { return status.OKStatus }

func (o *SystemStat) Reset() status.Status {
	o.warm = false
	o.prevPerCPU = nil
	return status.OKStatus
}

func cpuActive(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.Iowait + 0.01*c.Idle
}

func cpuTotal(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}

func (o *SystemStat) Trigger() status.Status {
	st, err := o.fs.Stat()
	if err != nil {
		return o.SetStatus(status.Newf(status.FileError, "failed to read /proc/stat: %v", err))
	}

	ts, diff := o.Tick()

	perCore := make([]float64, len(st.CPU))
	sum := 0.0
	if o.warm && len(o.prevPerCPU) == len(st.CPU) {
		for i, cur := range st.CPU {
			prev := o.prevPerCPU[i]
			dActive := cpuActive(cur) - cpuActive(prev)
			dTotal := cpuTotal(cur) - cpuTotal(prev)
			frac := 0.0
			if dTotal > 0 {
				frac = 100 * dActive / dTotal
			}
			perCore[i] = frac
			sum += frac
		}
	} else {
		o.warm = true
	}
	o.prevPerCPU = st.CPU

	overall := 0.0
	if len(perCore) > 0 {
		overall = sum / float64(len(perCore))
	}

	o.cpu = &readings.CPUReading{
		Base:         readings.Base{ReadingType: readings.CPU | readings.Interval, Timestamp: ts, Difference: diff},
		OverallUsage: overall,
		PerCoreUsage: perCore,
	}
	return o.SetStatus(status.OKStatus)
}

func (o *SystemStat) Readings() []observer.Reading {
	if o.cpu == nil {
		return nil
	}
	return []observer.Reading{o.cpu}
}
