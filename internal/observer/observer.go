// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package observer defines the common lifecycle every signal source in
// efimon implements: configure (pid, scope, interval, device), trigger,
// fetch readings, reset. Observers do not schedule themselves; callers
// drive their cadence by calling Trigger.
package observer

import (
	"time"

	"github.com/efimon/efimon/internal/readings"
	"github.com/efimon/efimon/internal/status"
)

// Capabilities is the (type bitset, scope) pair an observer advertises so
// that callers can decide whether it fits a requested role without
// attempting an unsupported method.
type Capabilities struct {
	Types readings.Type
	Scope readings.Scope
}

// Reading is satisfied by every specialised reading in package readings;
// it lets Observer.Readings return a heterogeneous, order-contract-defined
// sequence without exposing a closed type switch here.
type Reading interface {
	Type() readings.Type
	TimestampMS() int64
	DifferenceMS() int64
}

// Observer is the contract every signal source implements. Trigger is
// the only path that mutates observer state and consults the outside
// world; it is idempotent on failure - a failed trigger leaves the
// previous readings intact. Readings returned by Readings remain valid
// until the next Trigger call.
type Observer interface {
	Trigger() status.Status
	Readings() []Reading

	SelectDevice(id int) status.Status
	SetScope(scope readings.Scope) status.Status
	SetPID(pid int) status.Status
	SetInterval(d time.Duration) status.Status
	ClearInterval() status.Status
	Reset() status.Status

	Scope() readings.Scope
	PID() int
	Capabilities() Capabilities
	Status() status.Status
}

// Base implements the bookkeeping shared by every observer: scope/pid
// storage, the last status, and the monotonic uptime clock used to stamp
// Timestamp/Difference on readings. Concrete observers embed Base and
// implement every setter themselves; Base supplies no setter defaults,
// so each concrete type forwards to Base.Reject for anything it does
// not honor.
type Base struct {
	scope        readings.Scope
	pid          int
	lastStatus   status.Status
	capabilities Capabilities

	started        time.Time
	lastTimestamp  int64
	haveTriggered  bool
}

func NewBase(caps Capabilities) Base {
	return Base{
		scope:        caps.Scope,
		capabilities: caps,
		started:      time.Now(),
	}
}

func (b *Base) Capabilities() Capabilities { return b.capabilities }
func (b *Base) Scope() readings.Scope      { return b.scope }
func (b *Base) PID() int                   { return b.pid }
func (b *Base) Status() status.Status      { return b.lastStatus }

func (b *Base) SetStatus(s status.Status) status.Status {
	b.lastStatus = s
	return s
}

// Reject is the canned NOT_IMPLEMENTED reply for methods a concrete
// observer does not support.
func (b *Base) Reject(op string) status.Status {
	return b.SetStatus(status.Newf(status.NotImplemented, "%s not implemented for this observer", op))
}

// SetScopeRaw stores the scope without validation; concrete SetScope
// implementations call this after checking compatibility.
func (b *Base) SetScopeRaw(scope readings.Scope) { b.scope = scope }

// SetPIDRaw stores the pid without validation.
func (b *Base) SetPIDRaw(pid int) { b.pid = pid }

// Tick advances the observer's (timestamp, difference) pair for the
// current trigger and returns the pair to stamp into the produced
// reading's Base. The first call yields difference 0.
func (b *Base) Tick() (timestampMS, differenceMS int64) {
	now := time.Since(b.started).Milliseconds()
	if !b.haveTriggered {
		b.haveTriggered = true
		b.lastTimestamp = now
		return now, 0
	}
	diff := now - b.lastTimestamp
	b.lastTimestamp = now
	return now, diff
}
