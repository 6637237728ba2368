// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor forks a child command with a chosen stdio capture
// mode and exposes its pid and running state; the launcher uses it to
// hold the target workload.
package supervisor

import (
	"bufio"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/efimon/efimon/internal/status"
)

// CaptureMode selects which of the child's std streams are piped back
// for reading.
type CaptureMode int

const (
	Silent CaptureMode = iota
	Stdout
	Stderr
	Both
)

// Supervisor forks and reaps a single child process at a time.
type Supervisor struct {
	mu sync.Mutex

	mode CaptureMode
	cmd  *exec.Cmd

	stdout *bufio.Reader
	stderr *bufio.Reader

	out io.Writer // optional forwarding target for sync()

	running bool
}

// New builds a Supervisor with the given capture mode. out, when
// non-nil, receives every line drained by sync(); when nil, drained
// lines that would otherwise go to standard error are discarded.
func New(mode CaptureMode, out io.Writer) *Supervisor {
	return &Supervisor{mode: mode, out: out}
}

// Open forks the child with the requested descriptor plumbing. Only one
// child may be open at a time; opening while a previous child is still
// running returns RESOURCE_BUSY.
func (s *Supervisor) Open(name string, args ...string) status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return status.Newf(status.ResourceBusy, "supervisor already running pid %d", s.cmd.Process.Pid)
	}

	cmd := exec.Command(name, args...)
	// Own process group so Signal can reach grandchildren the target
	// spawns, not just the immediate child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdoutPipe, stderrPipe io.ReadCloser
	var err error

	if s.mode == Stdout || s.mode == Both {
		if stdoutPipe, err = cmd.StdoutPipe(); err != nil {
			return status.Newf(status.FileError, "stdout pipe: %v", err)
		}
	}
	if s.mode == Stderr || s.mode == Both {
		if stderrPipe, err = cmd.StderrPipe(); err != nil {
			return status.Newf(status.FileError, "stderr pipe: %v", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return status.Newf(status.FileError, "start: %v", err)
	}

	s.cmd = cmd
	s.running = true
	if stdoutPipe != nil {
		s.stdout = bufio.NewReader(stdoutPipe)
	}
	if stderrPipe != nil {
		s.stderr = bufio.NewReader(stderrPipe)
	}
	return status.OKStatus
}

// Sync drains captured output. drainAll selects between draining to EOF
// (the default full sync) and reading a single line (a quick check).
// Lines are forwarded to the configured output writer, or discarded if
// none was set.
func (s *Supervisor) Sync(drainAll bool) status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	reader := s.stdout
	if reader == nil {
		reader = s.stderr
	}
	if reader == nil {
		return status.OKStatus
	}

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && s.out != nil {
			io.WriteString(s.out, line)
		}
		if err != nil {
			if err == io.EOF {
				return status.OKStatus
			}
			return status.Newf(status.FileError, "sync: %v", err)
		}
		if !drainAll {
			return status.OKStatus
		}
	}
}

// PID returns the child's pid, or 0 if no child has been opened.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// IsRunning is a liveness check that does not wait for the child to
// exit; a child that has exited is reaped here, and Close then has
// nothing left to wait for. As a side effect it drains a single line of
// output, matching the quick-check half of Sync; with a capture mode
// other than Silent that read waits for the child's next line or the
// end of its output.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return false
	}
	s.Sync(false)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd.ProcessState != nil {
		s.running = false
		return false
	}
	var ws syscall.WaitStatus
	if wpid, err := syscall.Wait4(s.cmd.Process.Pid, &ws, syscall.WNOHANG, nil); wpid == s.cmd.Process.Pid || err != nil {
		s.running = false
		return false
	}
	return s.running
}

// Signal delivers sig to the child's whole process group.
func (s *Supervisor) Signal(sig syscall.Signal) status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.cmd.Process == nil {
		return status.New(status.NotFound, "supervisor has no running child")
	}
	if err := unix.Kill(-s.cmd.Process.Pid, sig); err != nil {
		return status.Newf(status.FileError, "signal: %v", err)
	}
	return status.OKStatus
}

// Close terminates reading and reaps the child.
func (s *Supervisor) Close() status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return status.OKStatus
	}
	s.running = false

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if err := s.cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return status.Newf(status.FileError, "wait: %v", err)
		}
	}
	return status.OKStatus
}
