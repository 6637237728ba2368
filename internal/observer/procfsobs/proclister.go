// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package procfsobs

import (
	"fmt"
	"os/user"

	"github.com/prometheus/procfs"

	"github.com/efimon/efimon/internal/status"
)

// ProcessRecord is one entry in a ProcessLister enumeration.
type ProcessRecord struct {
	PID     int
	Command string
	Owner   string
}

// ProcessLister enumerates all running processes and maintains three
// sets across successive Detect calls: Last (most recent enumeration),
// New (present now, absent before) and Dead (present before, absent
// now).
type ProcessLister struct {
	fs procfs.FS

	last map[int]ProcessRecord
	New  []ProcessRecord
	Dead []ProcessRecord
	Last []ProcessRecord
}

func NewProcessLister(procPath string) (*ProcessLister, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	return &ProcessLister{fs: fs, last: map[int]ProcessRecord{}}, nil
}

// Detect recomputes Last/New/Dead against the previous enumeration.
func (l *ProcessLister) Detect() status.Status {
	procs, err := l.fs.AllProcs()
	if err != nil {
		return status.Newf(status.FileError, "failed to enumerate processes: %v", err)
	}

	current := map[int]ProcessRecord{}
	for _, p := range procs {
		rec := ProcessRecord{PID: p.PID}
		if comm, err := p.Comm(); err == nil {
			rec.Command = comm
		}
		rec.Owner = ownerOf(p)
		current[p.PID] = rec
	}

	var newProcs, deadProcs, lastProcs []ProcessRecord
	for pid, rec := range current {
		lastProcs = append(lastProcs, rec)
		if _, existed := l.last[pid]; !existed {
			newProcs = append(newProcs, rec)
		}
	}
	for pid, rec := range l.last {
		if _, stillAlive := current[pid]; !stillAlive {
			deadProcs = append(deadProcs, rec)
		}
	}

	l.last = current
	l.Last = lastProcs
	l.New = newProcs
	l.Dead = deadProcs

	return status.OKStatus
}

// ownerOf resolves the numeric UID of a process's status file to a
// username via the kernel's user database; it falls back to the UID
// string when lookup fails (e.g. no nsswitch data in a minimal
// container).
func ownerOf(p procfs.Proc) string {
	status, err := p.NewStatus()
	if err != nil {
		return ""
	}
	uids := status.UIDs
	if len(uids) == 0 {
		return ""
	}
	u, err := user.LookupId(uids[0])
	if err != nil {
		return uids[0]
	}
	return u.Username
}
