// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package procfsobs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/efimon/efimon/internal/status"
)

// ProcessTree reads /proc/<pid>/task/<pid>/children, a whitespace
// separated list of child pids on a single line, and returns
// [pid, child1, child2, ...].
type ProcessTree struct {
	procPath string
	pid      int

	members []int
}

func NewProcessTree(procPath string, pid int) *ProcessTree {
	return &ProcessTree{procPath: procPath, pid: pid}
}

func (t *ProcessTree) SetPID(pid int) { t.pid = pid }

// Refresh re-reads the children file.
func (t *ProcessTree) Refresh() status.Status {
	path := filepath.Join(t.procPath, strconv.Itoa(t.pid), "task", strconv.Itoa(t.pid), "children")
	data, err := os.ReadFile(path)
	if err != nil {
		return status.Newf(status.NotFound, "failed to read %s: %v", path, err)
	}

	members := []int{t.pid}
	for _, field := range strings.Fields(string(data)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		members = append(members, pid)
	}
	t.members = members
	return status.OKStatus
}

// Members returns [pid, child1, child2, ...] from the last Refresh.
func (t *ProcessTree) Members() []int { return t.members }
