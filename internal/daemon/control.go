// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/efimon/efimon/internal/status"
)

// request is the wire shape of every control-socket message. Unknown or
// malformed requests are rejected with INVALID_PARAMETER rather than
// causing a protocol error, per §6: the control loop never crashes on
// bad input.
type request struct {
	Transaction string `json:"transaction"`

	State bool `json:"state"`
	PID   uint `json:"pid"`

	Delay     *uint   `json:"delay,omitempty"`
	Samples   *int    `json:"samples,omitempty"`
	Perf      *bool   `json:"perf,omitempty"`
	Frequency *int    `json:"frequency,omitempty"`
	Name      *string `json:"name,omitempty"`
}

type reply struct {
	Result string `json:"result"`
	Code   int    `json:"code"`
	Name   string `json:"name,omitempty"`
}

// ControlServer listens on a Unix-domain socket and dispatches each
// connection's newline-delimited JSON requests to the analyser. Out of
// scope per the specification: the wire encoding is treated as an
// external collaborator, so this is a minimal fixed implementation
// rather than a pluggable transport.
type ControlServer struct {
	analyser *Analyser
	log      *slog.Logger

	listener net.Listener
}

// NewControlServer binds the given socket path, removing any stale
// socket file left by a previous run.
func NewControlServer(analyser *Analyser, socketPath string, log *slog.Logger) (*ControlServer, error) {
	_ = os.Remove(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &ControlServer{analyser: analyser, log: log, listener: l}, nil
}

// Serve accepts connections until the listener is closed or ctx-like
// shutdown is requested via Close.
func (s *ControlServer) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *ControlServer) Close() error {
	return s.listener.Close()
}

func (s *ControlServer) handle(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(reply{Result: "malformed request", Code: int(status.InvalidParameter)})
			continue
		}
		enc.Encode(s.dispatch(req))
	}
}

func (s *ControlServer) dispatch(req request) reply {
	switch req.Transaction {
	case "system":
		return s.handleSystem(req)
	case "process":
		return s.handleProcess(req)
	case "poll":
		return s.handlePoll(req)
	default:
		return reply{Result: "unknown transaction", Code: int(status.InvalidParameter)}
	}
}

func (s *ControlServer) handleSystem(req request) reply {
	delay := 1 * time.Second
	if req.Delay != nil {
		delay = time.Duration(*req.Delay) * time.Second
	}

	var st status.Status
	if req.State {
		st = s.analyser.StartSystem(delay)
	} else {
		st = s.analyser.StopSystem()
	}
	return statusReply(st)
}

func (s *ControlServer) handleProcess(req request) reply {
	if req.PID == 0 {
		return reply{Result: "missing pid", Code: int(status.InvalidParameter)}
	}
	pid := int(req.PID)

	if !req.State {
		return statusReply(s.analyser.StopWorker(pid))
	}

	delay := 1 * time.Second
	if req.Delay != nil {
		delay = time.Duration(*req.Delay) * time.Second
	}
	samples, unbounded := 0, true
	if req.Samples != nil {
		samples, unbounded = *req.Samples, false
	}
	enablePerf := false
	if req.Perf != nil {
		enablePerf = *req.Perf
	}
	freq := 99
	if req.Frequency != nil {
		freq = *req.Frequency
	}
	name := ""
	if req.Name != nil {
		name = *req.Name
	}

	resolved, st := s.analyser.StartWorker(name, pid, delay, samples, unbounded, enablePerf, freq)
	r := statusReply(st)
	r.Name = resolved
	return r
}

// handlePoll reports worker state with `result` carrying the decimal
// status code, per the poll transaction's wire contract - unlike every
// other transaction, where `result` carries a human message.
func (s *ControlServer) handlePoll(req request) reply {
	if req.PID == 0 {
		return reply{Result: "missing pid", Code: int(status.InvalidParameter)}
	}
	st := s.analyser.CheckWorker(int(req.PID))
	return reply{Result: strconv.Itoa(int(st.Code)), Code: int(st.Code)}
}

func statusReply(st status.Status) reply {
	return reply{Result: st.Message, Code: int(st.Code)}
}
