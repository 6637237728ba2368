// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/efimon/efimon/internal/observer"
	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
)

// DefaultAnnotateThreshold is the minimum per-sample weight, in the same
// percent units `perf annotate --percent-type global-period` reports
// (0-100, not a 0-1 fraction), a disassembly line must carry to be kept
// in the histogram and taxonomy.
const DefaultAnnotateThreshold = 1e-2

// Annotate wraps `perf annotate` over a trace captured by an upstream
// Record. Record is the only legal way to obtain a trace: Trigger
// refuses when the upstream record has never produced a valid trace.
type Annotate struct {
	observer.Base

	record     *Record
	classifier Classifier
	threshold  float64

	instr *readings.InstructionReading
}

// NewAnnotate binds an Annotate to its upstream Record and Classifier.
// threshold <= 0 selects DefaultAnnotateThreshold.
func NewAnnotate(record *Record, classifier Classifier, threshold float64) *Annotate {
	if threshold <= 0 {
		threshold = DefaultAnnotateThreshold
	}
	return &Annotate{
		Base:       observer.NewBase(observer.Capabilities{Types: readings.CPUInstructions | readings.Interval, Scope: readings.Process}),
		record:     record,
		classifier: classifier,
		threshold:  threshold,
	}
}

func (a *Annotate) SetScope(scope readings.Scope) status.Status {
	if scope != readings.Process {
		return a.Reject("SetScope(system)")
	}
	a.SetScopeRaw(scope)
	return status.OKStatus
}

func (a *Annotate) SetPID(int) status.Status       { return a.Reject("SetPID") }
func (a *Annotate) SelectDevice(int) status.Status { return a.Reject("SelectDevice") }
func (a *Annotate) SetInterval(time.Duration) status.Status {
	return a.Reject("SetInterval")
}

// Reset clears the last produced reading; the upstream Record owns its
// own trigger cadence.
func (a *Annotate) Reset() status.Status {
	a.instr = nil
	return status.OKStatus
}

// Trigger runs `perf annotate` against the upstream record's current
// trace, sorted by descending period percentage, and folds every line
// at or above the threshold into the histogram and taxonomy.
func (a *Annotate) Trigger() status.Status {
	if !a.record.IsValid() {
		return a.SetStatus(status.Newf(status.NotReady, "upstream record has no valid trace"))
	}

	ts, diff := a.Tick()

	cmd := exec.Command("sh", "-c", fmt.Sprintf(
		"perf annotate -q --percent-type global-period -i %s | sort -r -k2,1n",
		shellQuote(a.record.TracePath())))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return a.SetStatus(status.Newf(status.FileError, "perf annotate pipe failed: %v", err))
	}
	if err := cmd.Start(); err != nil {
		return a.SetStatus(status.Newf(status.FileError, "perf annotate start failed: %v", err))
	}

	histogram, taxonomy := accumulateAnnotation(stdout, a.classifier, a.threshold)
	_ = cmd.Wait()

	a.instr = &readings.InstructionReading{
		Base:      readings.Base{ReadingType: readings.CPUInstructions | readings.Interval, Timestamp: ts, Difference: diff},
		Histogram: histogram,
		Taxonomy:  taxonomy,
	}
	return a.SetStatus(status.OKStatus)
}

// accumulateAnnotation reads `perf annotate` disassembly output line by
// line, folding every line at or above threshold into a mnemonic/operand
// histogram and a (type, family, origin) taxonomy. Split out of Trigger
// so the parsing/aggregation logic can be exercised without spawning a
// real perf subprocess.
func accumulateAnnotation(r io.Reader, classifier Classifier, threshold float64) (
	map[string]float64,
	map[readings.InstructionType]map[readings.InstructionFamily]map[readings.Origin]float64,
) {
	histogram := map[string]float64{}
	taxonomy := map[readings.InstructionType]map[readings.InstructionFamily]map[readings.Origin]float64{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		percent, mnemonic, operands, ok := parseAnnotateLine(scanner.Text())
		if !ok || percent < threshold {
			continue
		}

		operandTypes := classifier.OperandTypes(operands)
		instrType, family := classify(classifier, mnemonic, operandTypes, operands)
		origin := PackOperandTypes(operandTypes)

		key := mnemonic + "_" + operandTypes
		histogram[key] += percent

		byFamily, ok := taxonomy[instrType]
		if !ok {
			byFamily = map[readings.InstructionFamily]map[readings.Origin]float64{}
			taxonomy[instrType] = byFamily
		}
		byOrigin, ok := byFamily[family]
		if !ok {
			byOrigin = map[readings.Origin]float64{}
			byFamily[family] = byOrigin
		}
		byOrigin[origin] += percent
	}

	return histogram, taxonomy
}

// classify dispatches to the raw-operand-aware entry point when the
// configured classifier exposes one (PTX vectorness needs the operand
// braces, not just the mnemonic), falling back to the plain Classify
// method for classifiers that don't.
func classify(c Classifier, mnemonic, operandTypes, rawOperands string) (readings.InstructionType, readings.InstructionFamily) {
	if withOperands, ok := c.(interface {
		ClassifyWithOperands(mnemonic, operands string) (readings.InstructionType, readings.InstructionFamily)
	}); ok {
		return withOperands.ClassifyWithOperands(mnemonic, rawOperands)
	}
	return c.Classify(mnemonic, operandTypes)
}

// parseAnnotateLine parses a `perf annotate --percent-type global-period`
// disassembly line of the form "<percent> : <address>: <mnemonic> <ops>".
// Lines whose leading token is not a percentage (headers, blanks, symbol
// banners) are rejected.
func parseAnnotateLine(line string) (percent float64, mnemonic, operands string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, "", "", false
	}

	fields := strings.SplitN(line, ":", 2)
	if len(fields) < 2 {
		return 0, "", "", false
	}

	pctField := strings.TrimSpace(fields[0])
	pctField = strings.TrimSuffix(pctField, "%")
	pct, err := strconv.ParseFloat(pctField, 64)
	if err != nil {
		return 0, "", "", false
	}

	rest := strings.TrimSpace(fields[1])
	// rest is now "<address>: <mnemonic> <operands>" or just
	// "<mnemonic> <operands>" depending on perf's output mode.
	if idx := strings.Index(rest, ":"); idx >= 0 && looksLikeAddress(rest[:idx]) {
		rest = strings.TrimSpace(rest[idx+1:])
	}
	if rest == "" {
		return 0, "", "", false
	}

	parts := strings.SplitN(rest, "\t", 2)
	if len(parts) == 1 {
		parts = strings.SplitN(rest, " ", 2)
	}
	mnemonic = strings.TrimSpace(parts[0])
	if mnemonic == "" {
		return 0, "", "", false
	}
	if len(parts) > 1 {
		operands = strings.TrimSpace(parts[1])
	}

	return pct, mnemonic, operands, true
}

func looksLikeAddress(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

func (a *Annotate) Readings() []observer.Reading {
	if a.instr == nil {
		return nil
	}
	return []observer.Reading{a.instr}
}
