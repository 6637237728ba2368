// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package launcher spawns or attaches to a target process, registers it
// with the daemon over the control socket, polls until completion, and
// requests teardown.
package launcher

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/efimon/efimon/internal/status"
	"github.com/efimon/efimon/internal/supervisor"
)

// Options configures one launcher run.
type Options struct {
	SocketPath string
	Command    []string // spawn mode; mutually exclusive with PID
	PID        int      // attach mode

	Samples     int
	Unbounded   bool
	Delay       time.Duration
	Frequency   int
	EnablePerf  bool
	WorkerName  string

	PollInterval time.Duration
	Log          *slog.Logger
}

type controlRequest struct {
	Transaction string  `json:"transaction"`
	State       bool    `json:"state"`
	PID         uint    `json:"pid"`
	Delay       *uint   `json:"delay,omitempty"`
	Samples     *int    `json:"samples,omitempty"`
	Perf        *bool   `json:"perf,omitempty"`
	Frequency   *int    `json:"frequency,omitempty"`
	Name        *string `json:"name,omitempty"`
}

type controlReply struct {
	Result string `json:"result"`
	Code   int    `json:"code"`
	Name   string `json:"name,omitempty"`
}

// Launcher owns the spawned/attached target and the connection to the
// daemon's control socket.
type Launcher struct {
	opts Options

	sup  *supervisor.Supervisor
	pid  int
	conn net.Conn

	closing atomic.Bool
}

// New spawns opts.Command or verifies opts.PID is a live process,
// depending on which was set.
func New(opts Options) (*Launcher, status.Status) {
	l := &Launcher{opts: opts}

	if len(opts.Command) > 0 {
		l.sup = supervisor.New(supervisor.Silent, nil)
		if st := l.sup.Open(opts.Command[0], opts.Command[1:]...); !st.Ok() {
			return nil, st
		}
		l.pid = l.sup.PID()
	} else {
		if _, err := os.Stat(fmt.Sprintf("/proc/%d", opts.PID)); err != nil {
			return nil, status.Newf(status.NotFound, "pid %d not found: %v", opts.PID, err)
		}
		l.pid = opts.PID
	}

	conn, err := net.Dial("unix", opts.SocketPath)
	if err != nil {
		return nil, status.Newf(status.FileError, "failed to connect to daemon: %v", err)
	}
	l.conn = conn

	return l, status.OKStatus
}

// Run registers the target with the daemon, installs the SIGINT
// handler, and polls until the target terminates or the sample budget
// is met.
func (l *Launcher) Run() status.Status {
	if st := l.register(); !st.Ok() {
		return st
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT)
	defer signal.Stop(sigc)

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigc:
			l.closing.Store(true)
			if l.sup != nil {
				l.sup.Sync(false)
				l.sup.Signal(syscall.SIGINT)
			}
		case <-ticker.C:
		}

		if l.closing.Load() {
			return l.teardown()
		}

		st, code := l.poll()
		if !st.Ok() {
			l.opts.Log.Warn("poll failed", "pid", l.pid, "error", st.Error())
			continue
		}
		if code == status.Stopped {
			return l.teardown()
		}
		if l.sup != nil && !l.sup.IsRunning() {
			return l.teardown()
		}
	}
}

func (l *Launcher) register() status.Status {
	samples := &l.opts.Samples
	if l.opts.Unbounded {
		samples = nil
	}
	delay := uint(l.opts.Delay / time.Second)
	enablePerf := l.opts.EnablePerf
	freq := l.opts.Frequency
	name := l.opts.WorkerName

	req := controlRequest{
		Transaction: "process",
		State:       true,
		PID:         uint(l.pid),
		Delay:       &delay,
		Samples:     samples,
		Perf:        &enablePerf,
		Frequency:   &freq,
		Name:        &name,
	}
	rep, st := l.roundTrip(req)
	if !st.Ok() {
		return st
	}
	if status.Kind(rep.Code) != status.OK {
		return status.New(status.Kind(rep.Code), rep.Result)
	}
	return status.OKStatus
}

func (l *Launcher) poll() (status.Status, status.Kind) {
	req := controlRequest{Transaction: "poll", PID: uint(l.pid)}
	rep, st := l.roundTrip(req)
	if !st.Ok() {
		return st, 0
	}
	return status.OKStatus, status.Kind(rep.Code)
}

func (l *Launcher) teardown() status.Status {
	req := controlRequest{Transaction: "process", State: false, PID: uint(l.pid)}
	_, st := l.roundTrip(req)
	l.conn.Close()
	if l.sup != nil {
		l.sup.Close()
	}
	return st
}

func (l *Launcher) roundTrip(req controlRequest) (controlReply, status.Status) {
	body, err := json.Marshal(req)
	if err != nil {
		return controlReply{}, status.Newf(status.InvalidParameter, "marshal request: %v", err)
	}
	body = append(body, '\n')
	if _, err := l.conn.Write(body); err != nil {
		return controlReply{}, status.Newf(status.FileError, "write request: %v", err)
	}

	scanner := bufio.NewScanner(l.conn)
	if !scanner.Scan() {
		return controlReply{}, status.Newf(status.FileError, "no reply from daemon: %v", scanner.Err())
	}
	var rep controlReply
	if err := json.Unmarshal(scanner.Bytes(), &rep); err != nil {
		return controlReply{}, status.Newf(status.InvalidParameter, "malformed reply: %v", err)
	}
	return rep, status.OKStatus
}
