// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	infos []procfs.CPUInfo
	err   error
}

func (f *fakeReader) CPUInfo() ([]procfs.CPUInfo, error) { return f.infos, f.err }

func twoSocketFixture() []procfs.CPUInfo {
	return []procfs.CPUInfo{
		{Processor: 0, PhysicalID: "0", CoreID: "0", CPUMHz: 2000},
		{Processor: 1, PhysicalID: "0", CoreID: "1", CPUMHz: 2400},
		{Processor: 2, PhysicalID: "1", CoreID: "0", CPUMHz: 1800},
		{Processor: 3, PhysicalID: "1", CoreID: "1", CPUMHz: 2200},
	}
}

func TestRefreshBuildsSocketMap(t *testing.T) {
	top := New()
	require.NoError(t, top.Refresh(&fakeReader{infos: twoSocketFixture()}))

	assert.Equal(t, []int{0, 1}, top.SocketIDs())
	assert.Equal(t, 2, top.SocketCount())
	assert.Equal(t, 4, top.LogicalCoreCount())
	assert.Equal(t, 2, top.PhysicalCoreCount())
}

func TestMeanFrequencyMHz(t *testing.T) {
	top := New()
	require.NoError(t, top.Refresh(&fakeReader{infos: twoSocketFixture()}))

	assert.InDelta(t, 2200.0, top.MeanFrequencyMHz(0), 1e-9)
	assert.InDelta(t, 2000.0, top.MeanFrequencyMHz(1), 1e-9)
	assert.Equal(t, 0.0, top.MeanFrequencyMHz(99))
}

func TestPerSocketMeanFrequencyMHz(t *testing.T) {
	top := New()
	require.NoError(t, top.Refresh(&fakeReader{infos: twoSocketFixture()}))

	freqs := top.PerSocketMeanFrequencyMHz()
	require.Len(t, freqs, 2)
	assert.InDelta(t, 2200.0, freqs[0], 1e-9)
	assert.InDelta(t, 2000.0, freqs[1], 1e-9)
}

func TestRefreshPropagatesReaderError(t *testing.T) {
	top := New()
	err := top.Refresh(&fakeReader{err: assertError{"boom"}})
	assert.Error(t, err)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestEmptyTopologyCountsAreZero(t *testing.T) {
	top := New()
	assert.Equal(t, 0, top.SocketCount())
	assert.Equal(t, 0, top.LogicalCoreCount())
	assert.Equal(t, 0, top.PhysicalCoreCount())
	assert.Empty(t, top.SocketIDs())
}
