// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package recorder

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/sensors"
	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

func TestToggleWritesSession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rec")
	r := New(dir)
	assert.False(t, r.Active())
	require.NoError(t, r.Record(sensors.Sample{}), "no-op while off")

	on, err := r.Toggle()
	require.NoError(t, err)
	require.True(t, on)
	path := r.Path()
	require.NotEmpty(t, path)

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, r.Record(sensors.Sample{Raw: vecmath.Vec(1.5, -2, 3), Orientation: vecmath.Identity(), Time: at}))
	require.NoError(t, r.Record(sensors.Sample{Raw: vecmath.Vec(4, 5, 6), Orientation: vecmath.Identity(), Time: at}))

	on, err = r.Toggle()
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, r.Active())
	assert.Empty(t, r.Path())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, []string{"2026-03-04T05:06:07Z", "1.5", "-2", "3", "1", "0", "0", "0"}, rows[1])
}

func TestToggleTwiceOpensNewFile(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 2; i++ {
		_, err := r.Toggle()
		require.NoError(t, err)
		_, err = r.Toggle()
		require.NoError(t, err)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestToggleReportsOpenError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	r := New(filepath.Join(blocker, "sub"))
	on, err := r.Toggle()
	assert.Error(t, err)
	assert.False(t, on)
	assert.False(t, r.Active())
}

func TestCloseIsIdempotent(t *testing.T) {
	r := New(t.TempDir())
	require.NoError(t, r.Close())
	_, err := r.Toggle()
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
