// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/efimon/efimon/internal/status"
)

func startTestServer(t *testing.T) (net.Conn, func()) {
	t.Helper()
	a := newTestAnalyser()
	socketPath := filepath.Join(t.TempDir(), "control.sock")

	srv, err := NewControlServer(a, socketPath, discardLogger())
	require.NoError(t, err)
	go srv.Serve()

	var conn net.Conn
	require.Eventually(t, func() bool {
		conn, err = net.Dial("unix", socketPath)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func roundTrip(t *testing.T, conn net.Conn, req request) reply {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())
	var r reply
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
	return r
}

// TestControlSocketSystemLifecycle exercises the start/stop system
// transaction sequence: start, duplicate start, stop, duplicate stop.
func TestControlSocketSystemLifecycle(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	r := roundTrip(t, conn, request{Transaction: "system", State: true})
	require.Equal(t, int(status.OK), r.Code)

	r = roundTrip(t, conn, request{Transaction: "system", State: true})
	require.Equal(t, int(status.ResourceBusy), r.Code)

	r = roundTrip(t, conn, request{Transaction: "system", State: false})
	require.Equal(t, int(status.OK), r.Code)

	r = roundTrip(t, conn, request{Transaction: "system", State: false})
	require.Equal(t, int(status.NotFound), r.Code)
}

func TestControlSocketUnknownTransaction(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	r := roundTrip(t, conn, request{Transaction: "bogus"})
	require.Equal(t, int(status.InvalidParameter), r.Code)
}

func TestControlSocketProcessRequiresPID(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	r := roundTrip(t, conn, request{Transaction: "process", State: true})
	require.Equal(t, int(status.InvalidParameter), r.Code)
}

func TestControlSocketPollUnknownPID(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	r := roundTrip(t, conn, request{Transaction: "poll", PID: 4242})
	require.Equal(t, int(status.NotFound), r.Code)
}

// TestControlSocketProcessEchoesResolvedName confirms the reply carries
// the monitoring file name the daemon actually picked, not just an
// echo of the (possibly empty) request field.
func TestControlSocketProcessEchoesResolvedName(t *testing.T) {
	a := newTestAnalyser()
	a.opts.ProcPath = "/proc"
	a.opts.OutputFolder = t.TempDir()
	socketPath := filepath.Join(t.TempDir(), "control.sock")

	srv, err := NewControlServer(a, socketPath, discardLogger())
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	var conn net.Conn
	require.Eventually(t, func() bool {
		conn, err = net.Dial("unix", socketPath)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	defer conn.Close()

	pid := uint(os.Getpid())
	r := roundTrip(t, conn, request{Transaction: "process", State: true, PID: pid})
	require.Equal(t, int(status.OK), r.Code)
	require.Equal(t, filepath.Join(a.opts.OutputFolder, fmt.Sprintf("efimon-%d-1.csv", pid)), r.Name)

	r = roundTrip(t, conn, request{Transaction: "process", State: false, PID: pid})
	require.Equal(t, int(status.OK), r.Code)
}
