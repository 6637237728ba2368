// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipmi implements the out-of-band power observer: it shells out
// to a vendor OEM CLI to read PSU wattage and fan tachometer data.
package ipmi

import (
	"bufio"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
)

// Runner abstracts process execution so tests can substitute canned
// output instead of spawning the real OEM CLI.
type Runner interface {
	Run(args ...string) (string, error)
}

// execRunner shells out to the configured binary, blocking until it
// exits.
type execRunner struct {
	bin string
}

func (r execRunner) Run(args ...string) (string, error) {
	out, err := exec.Command(r.bin, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", r.bin, strings.Join(args, " "), err)
	}
	return string(out), nil
}

var ratedWattsRe = regexp.MustCompile(`Rated Watts\s*:\s*([0-9.]+)\s*W`)
var instPowerRe = regexp.MustCompile(`Instantaneous Power\s*:\s*([0-9.]+)\s*W`)

// Observer integrates power x delta-time into per-PSU and overall joules
// across the lifetime of the observer, and tracks fan RPM on each
// trigger. SYSTEM scope only.
type Observer struct {
	observer.Base

	runner   Runner
	infoArgs []string
	powerArgs func(psu int) []string
	sensorArgs []string

	psuCount   int
	ratedWatts []float64

	perPSUEnergy []float64
	overallEnergy float64

	selected int // -1 means "all PSUs"

	psu *readings.PSUReading
	fan *readings.FanReading
}

// New constructs the observer, running the info command once to
// discover PSU count and rated wattage. NOT_FOUND is returned at
// construction if no PSU is found.
func New(bin string, infoArgs []string, powerArgs func(int) []string, sensorArgs []string) (*Observer, error) {
	o := &Observer{
		Base:       observer.NewBase(observer.Capabilities{Types: readings.Power | readings.Interval, Scope: readings.System}),
		runner:     execRunner{bin: bin},
		infoArgs:   infoArgs,
		powerArgs:  powerArgs,
		sensorArgs: sensorArgs,
		selected:   -1,
	}

	out, err := o.runner.Run(o.infoArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to run PSU info command: %w", err)
	}

	rated := parseRatedWatts(out)
	if len(rated) == 0 {
		return nil, status.New(status.NotFound, "no PSU found in OEM CLI output").AsError()
	}
	o.ratedWatts = rated
	o.psuCount = len(rated)
	o.perPSUEnergy = make([]float64, o.psuCount)

	return o, nil
}

func parseRatedWatts(out string) []float64 {
	var rated []float64
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		m := ratedWattsRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		w, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		rated = append(rated, w)
	}
	return rated
}

func parseInstantaneousPower(out string) (float64, bool) {
	m := instPowerRe.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	w, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return w, true
}

// parseFanRPMs reads sensor rows whose third pipe-delimited field is the
// current RPM for each fan.
func parseFanRPMs(out string) []float64 {
	var rpms []float64
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "|")
		if len(fields) < 3 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			continue
		}
		rpms = append(rpms, v)
	}
	return rpms
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

func (o *Observer) SelectDevice(id int) status.Status {
	if id < 0 || id >= o.psuCount {
		o.selected = -1
		return status.OKStatus
	}
	o.selected = id
	return status.OKStatus
}

func (o *Observer) Reset() status.Status {
	o.perPSUEnergy = make([]float64, o.psuCount)
	o.overallEnergy = 0
	return status.OKStatus
}

// Trigger refreshes fan RPMs, then either one or all PSU powers, and
// integrates energy += power * dt_ms * 1e-3 per PSU and globally.
func (o *Observer) Trigger() status.Status {
	ts, diff := o.Tick()

	sensorOut, err := o.runner.Run(o.sensorArgs...)
	if err != nil {
		return o.SetStatus(status.Newf(status.FileError, "failed to read fan sensors: %v", err))
	}
	fanRPMs := parseFanRPMs(sensorOut)
	fanOverall := mean(fanRPMs)

	perPSUPower := make([]float64, o.psuCount)
	for i := 0; i < o.psuCount; i++ {
		if o.selected != -1 && i != o.selected {
			continue
		}
		out, err := o.runner.Run(o.powerArgs(i)...)
		if err != nil {
			continue
		}
		w, ok := parseInstantaneousPower(out)
		if !ok {
			continue
		}
		perPSUPower[i] = w

		o.perPSUEnergy[i] += w * float64(diff) * 1e-3
		o.overallEnergy += w * float64(diff) * 1e-3
	}

	overallPower := 0.0
	for _, w := range perPSUPower {
		overallPower += w
	}

	o.psu = &readings.PSUReading{
		Base:           readings.Base{ReadingType: readings.Power | readings.Interval, Timestamp: ts, Difference: diff},
		OverallPowerW:  overallPower,
		OverallEnergyJ: o.overallEnergy,
		PerPSUPowerW:   perPSUPower,
		PerPSURatedW:   append([]float64(nil), o.ratedWatts...),
		PerPSUEnergyJ:  append([]float64(nil), o.perPSUEnergy...),
	}
	o.fan = &readings.FanReading{
		Base:       readings.Base{ReadingType: readings.Power | readings.Interval, Timestamp: ts, Difference: diff},
		OverallRPM: fanOverall,
		PerFanRPM:  fanRPMs,
	}
	return o.SetStatus(status.OKStatus)
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func (o *Observer) Readings() []observer.Reading {
	if o.psu == nil {
		return nil
	}
	return []observer.Reading{o.psu, o.fan}
}
