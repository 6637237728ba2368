// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package procfsobs

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/procfs"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
)

type netCounters struct {
	txKiB, rxKiB         float64
	txPackets, rxPackets float64
}

// Net reports one reading per network device from /proc/net/dev: the
// cumulative TX/RX byte and packet counters, plus the TX/RX byte
// counters differenced into bandwidth since the last trigger.
type Net struct {
	observer.Base

	fs procfs.FS

	prev map[string]netCounters
	warm bool

	readings []*readings.NetReading
}

func NewNet(procPath string) (*Net, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	return &Net{
		Base: observer.NewBase(observer.Capabilities{Types: readings.Network | readings.Interval, Scope: readings.System}),
		fs:   fs,
		prev: map[string]netCounters{},
	}, nil
}

func (o *Net) SetScope(scope readings.Scope) status.Status {
	if scope != readings.System {
		return o.Reject("SetScope(process)")
	}
	o.SetScopeRaw(scope)
	return status.OKStatus
}

func (o *Net) SetPID(int) status.Status                { return o.Reject("SetPID") }
func (o *Net) SelectDevice(int) status.Status          { return o.Reject("SelectDevice") }
func (o *Net) SetInterval(time.Duration) status.Status { return status.OKStatus }
func (o *Net) ClearInterval() status.Status            { return status.OKStatus }
func (o *Net) Reset() status.Status {
	o.warm = false
	o.prev = map[string]netCounters{}
	return status.OKStatus
}

func (o *Net) Trigger() status.Status {
	devs, err := o.fs.NetDev()
	if err != nil {
		return o.SetStatus(status.Newf(status.FileError, "failed to read /proc/net/dev: %v", err))
	}

	ts, diff := o.Tick()

	names := make([]string, 0, len(devs))
	for name := range devs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*readings.NetReading, 0, len(names))
	for _, name := range names {
		line := devs[name]
		cur := netCounters{
			txKiB:     float64(line.TxBytes) / 1024,
			rxKiB:     float64(line.RxBytes) / 1024,
			txPackets: float64(line.TxPackets),
			rxPackets: float64(line.RxPackets),
		}

		var txBW, rxBW float64
		if o.warm && diff > 0 {
			if p, ok := o.prev[name]; ok {
				txBW = (cur.txKiB - p.txKiB) * 1000 / float64(diff)
				rxBW = (cur.rxKiB - p.rxKiB) * 1000 / float64(diff)
			}
		}
		o.prev[name] = cur

		out = append(out, &readings.NetReading{
			Base:            readings.Base{ReadingType: readings.Network | readings.Interval, Timestamp: ts, Difference: diff},
			Device:          name,
			TXKiB:           cur.txKiB,
			RXKiB:           cur.rxKiB,
			TXPackets:       cur.txPackets,
			RXPackets:       cur.rxPackets,
			TXBandwidthKiBs: txBW,
			RXBandwidthKiBs: rxBW,
			TXPowerW:        -1,
			RXPowerW:        -1,
		})
	}
	o.warm = true
	o.readings = out
	return o.SetStatus(status.OKStatus)
}

func (o *Net) Readings() []observer.Reading {
	out := make([]observer.Reading, len(o.readings))
	for i, r := range o.readings {
		out[i] = r
	}
	return out
}
