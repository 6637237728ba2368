// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package csvlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efimon/efimon/internal/status"
)

func schema() []Column {
	return []Column{
		{Name: "name", Type: String},
		{Name: "count", Type: Integer64},
		{Name: "ratio", Type: Float},
	}
}

func TestNewWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l, st := New(path, schema())
	require.True(t, st.Ok())
	require.NoError(t, l.Close().AsError())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ID,name,count,ratio\n", string(data))
}

func TestInsertRowAppendsAndIncrementsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l, st := New(path, schema())
	require.True(t, st.Ok())

	require.True(t, l.InsertRow(map[string]any{
		"name": "alpha", "count": int64(1), "ratio": 0.5,
	}).Ok())
	require.True(t, l.InsertRow(map[string]any{
		"name": "beta", "count": 2, "ratio": 1.5,
	}).Ok())
	require.NoError(t, l.Close().AsError())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ID,name,count,ratio\n0,alpha,1,0.5\n1,beta,2,1.5\n", string(data))
}

func TestInsertRowMissingFieldStillOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l, st := New(path, schema())
	require.True(t, st.Ok())
	defer l.Close()

	got := l.InsertRow(map[string]any{"name": "alpha"})
	assert.True(t, got.Ok())
	assert.Contains(t, got.Message, "count")
	assert.Contains(t, got.Message, "ratio")
}

func TestInsertRowWrongTypeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l, st := New(path, schema())
	require.True(t, st.Ok())
	defer l.Close()

	got := l.InsertRow(map[string]any{
		"name": "alpha", "count": "not-a-number", "ratio": 0.5,
	})
	assert.Equal(t, status.LoggerCannotInsert, got.Code)
}

func TestInsertRowAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l, st := New(path, schema())
	require.True(t, st.Ok())
	require.True(t, l.Close().Ok())

	got := l.InsertRow(map[string]any{"name": "alpha", "count": 1, "ratio": 0.1})
	assert.Equal(t, status.LoggerCannotInsert, got.Code)
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l, st := New(path, schema())
	require.True(t, st.Ok())

	assert.True(t, l.Close().Ok())
	assert.True(t, l.Close().Ok())
}
