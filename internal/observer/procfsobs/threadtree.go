// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package procfsobs

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/efimon/efimon/internal/status"
)

// ThreadTree enumerates directory entries under /proc/<pid>/task; each
// entry name is a TID.
type ThreadTree struct {
	procPath string
	pid      int

	tids []int
}

func NewThreadTree(procPath string, pid int) *ThreadTree {
	return &ThreadTree{procPath: procPath, pid: pid}
}

func (t *ThreadTree) SetPID(pid int) { t.pid = pid }

func (t *ThreadTree) Refresh() status.Status {
	path := filepath.Join(t.procPath, strconv.Itoa(t.pid), "task")
	entries, err := os.ReadDir(path)
	if err != nil {
		return status.Newf(status.NotFound, "failed to read %s: %v", path, err)
	}

	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	t.tids = tids
	return status.OKStatus
}

func (t *ThreadTree) TIDs() []int { return t.tids }
