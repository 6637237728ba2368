// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efimon/efimon/internal/status"
)

// fakeDaemon is a minimal control-socket peer: it replies to every
// transaction with the next reply queued for it, in transaction order.
type fakeDaemon struct {
	listener net.Listener
	replies  map[string][]controlReply
}

func startFakeDaemon(t *testing.T, replies map[string][]controlReply) (socketPath string, stop func()) {
	t.Helper()
	socketPath = filepath.Join(t.TempDir(), "control.sock")

	l, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	d := &fakeDaemon{listener: l, replies: replies}
	go d.serve()

	return socketPath, func() { l.Close() }
}

func (d *fakeDaemon) serve() {
	conn, err := d.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		var req controlRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}
		queue := d.replies[req.Transaction]
		if len(queue) == 0 {
			return
		}
		rep := queue[0]
		d.replies[req.Transaction] = queue[1:]
		if err := enc.Encode(rep); err != nil {
			return
		}
	}
}

func TestNewAttachModeVerifiesPIDExists(t *testing.T) {
	socketPath, stop := startFakeDaemon(t, map[string][]controlReply{})
	defer stop()

	l, st := New(Options{SocketPath: socketPath, PID: os.Getpid()})
	require.True(t, st.Ok())
	assert.Equal(t, os.Getpid(), l.pid)
	l.conn.Close()
}

func TestNewAttachModeRejectsMissingPID(t *testing.T) {
	socketPath, stop := startFakeDaemon(t, map[string][]controlReply{})
	defer stop()

	_, st := New(Options{SocketPath: socketPath, PID: 999999999})
	assert.Equal(t, status.NotFound, st.Code)
}

func TestNewFailsWhenDaemonUnreachable(t *testing.T) {
	_, st := New(Options{SocketPath: filepath.Join(t.TempDir(), "no.sock"), PID: os.Getpid()})
	assert.Equal(t, status.FileError, st.Code)
}

func TestRegisterPollTeardownRoundTrip(t *testing.T) {
	socketPath, stop := startFakeDaemon(t, map[string][]controlReply{
		"process": {
			{Result: "", Code: int(status.OK)},
			{Result: "", Code: int(status.OK)},
		},
		"poll": {
			{Result: "14", Code: int(status.Running)},
			{Result: "15", Code: int(status.Stopped)},
		},
	})
	defer stop()

	l, st := New(Options{SocketPath: socketPath, PID: os.Getpid(), Unbounded: true})
	require.True(t, st.Ok())

	require.True(t, l.register().Ok())

	pollSt, code := l.poll()
	require.True(t, pollSt.Ok())
	assert.Equal(t, status.Running, code)

	pollSt, code = l.poll()
	require.True(t, pollSt.Ok())
	assert.Equal(t, status.Stopped, code)

	require.True(t, l.teardown().Ok())
}

func TestRegisterPropagatesDaemonError(t *testing.T) {
	socketPath, stop := startFakeDaemon(t, map[string][]controlReply{
		"process": {{Result: "already running", Code: int(status.ResourceBusy)}},
	})
	defer stop()

	l, st := New(Options{SocketPath: socketPath, PID: os.Getpid(), Unbounded: true})
	require.True(t, st.Ok())

	got := l.register()
	assert.Equal(t, status.ResourceBusy, got.Code)
}
