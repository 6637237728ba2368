// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology parses the kernel's CPU-info pseudo-file into a
// socket -> ordered (logical, physical, MHz) map, refreshable on demand.
package topology

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/prometheus/procfs"
)

// Core describes one logical CPU as reported by /proc/cpuinfo.
type Core struct {
	LogicalID  int
	PhysicalID int
	MHz        float64
}

// Socket is the ordered (by logical id) list of cores that belong to one
// physical package.
type Socket struct {
	ID    int
	Cores []Core
}

// Topology is immutable for the duration of a single Refresh call; the
// next Refresh rebuilds it from scratch so it reflects current frequency
// scaling state.
type Topology struct {
	sockets map[int]*Socket
}

// New builds an empty topology; call Refresh before first use.
func New() *Topology {
	return &Topology{sockets: map[int]*Socket{}}
}

// Reader abstracts the procfs source so tests can supply a fixture
// rooted elsewhere than the real /proc.
type Reader interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

// procFSReader is the production Reader, backed by github.com/prometheus/procfs.
type procFSReader struct {
	fs procfs.FS
}

func NewProcFSReader(procPath string) (Reader, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	return &procFSReader{fs: fs}, nil
}

func (r *procFSReader) CPUInfo() ([]procfs.CPUInfo, error) {
	return r.fs.CPUInfo()
}

// Refresh re-parses /proc/cpuinfo and rebuilds the socket map. Socket
// count is derived from max physical id + 1, logical-core count from max
// processor id + 1; within a socket, cores are sorted by logical id.
func (t *Topology) Refresh(r Reader) error {
	infos, err := r.CPUInfo()
	if err != nil {
		return fmt.Errorf("failed to read cpuinfo: %w", err)
	}

	sockets := map[int]*Socket{}
	for _, info := range infos {
		socketID := parseIntDefault(info.PhysicalID, 0)
		physicalID := parseIntDefault(info.CoreID, 0)

		s, ok := sockets[socketID]
		if !ok {
			s = &Socket{ID: socketID}
			sockets[socketID] = s
		}
		s.Cores = append(s.Cores, Core{
			LogicalID:  int(info.Processor),
			PhysicalID: physicalID,
			MHz:        info.CPUMHz,
		})
	}

	for _, s := range sockets {
		sort.Slice(s.Cores, func(i, j int) bool { return s.Cores[i].LogicalID < s.Cores[j].LogicalID })
	}

	t.sockets = sockets
	return nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// SocketIDs returns the known socket ids in ascending order.
func (t *Topology) SocketIDs() []int {
	ids := make([]int, 0, len(t.sockets))
	for id := range t.sockets {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SocketCount is max-socket-id + 1.
func (t *Topology) SocketCount() int {
	max := -1
	for id := range t.sockets {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// LogicalCoreCount is max-logical-id + 1.
func (t *Topology) LogicalCoreCount() int {
	max := -1
	for _, s := range t.sockets {
		for _, c := range s.Cores {
			if c.LogicalID > max {
				max = c.LogicalID
			}
		}
	}
	return max + 1
}

// PhysicalCoreCount is max-physical-core-id + 1.
func (t *Topology) PhysicalCoreCount() int {
	max := -1
	for _, s := range t.sockets {
		for _, c := range s.Cores {
			if c.PhysicalID > max {
				max = c.PhysicalID
			}
		}
	}
	return max + 1
}

// MeanFrequencyMHz returns the arithmetic mean of the socket's core
// frequencies, or 0 if the socket is unknown or has no cores.
func (t *Topology) MeanFrequencyMHz(socketID int) float64 {
	s, ok := t.sockets[socketID]
	if !ok || len(s.Cores) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range s.Cores {
		sum += c.MHz
	}
	return sum / float64(len(s.Cores))
}

// PerSocketMeanFrequencyMHz returns the mean frequency for every known
// socket, ordered by socket id, suitable for direct placement into a CPU
// reading's PerSocketFrequencyMHz field.
func (t *Topology) PerSocketMeanFrequencyMHz() []float64 {
	ids := t.SocketIDs()
	out := make([]float64, len(ids))
	for i, id := range ids {
		out[i] = t.MeanFrequencyMHz(id)
	}
	return out
}
