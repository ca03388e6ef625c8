// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

func TestLabelMetaIsExhaustive(t *testing.T) {
	names := map[string]bool{}
	offsets := map[[2]int]Label{}
	for l := None; l < numLabels; l++ {
		m := l.Meta()
		off := [2]int{m.OffsetX, m.OffsetY}
		prev, dup := offsets[off]
		require.False(t, dup, "%s and %s share offset %v", prev, l, off)
		offsets[off] = l
		require.NotEmpty(t, m.Name, "label %d", int(l))
		require.NotEmpty(t, m.Color)
		require.NotEmpty(t, m.Icon)
		require.False(t, names[m.Name], "duplicate name %q", m.Name)
		names[m.Name] = true

		back, err := ParseLabel(m.Name)
		require.NoError(t, err)
		assert.Equal(t, l, back)
	}
	assert.Len(t, Labels, int(numLabels)-1)
	assert.False(t, Label(99).Valid())
	assert.Equal(t, "label(99)", Label(99).String())
}

func TestLabelJSONMapKeys(t *testing.T) {
	in := map[Label]float64{Up: 0.75, Down: 0.25}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"up":0.75,"down":0.25}`, string(b))

	var out map[Label]float64
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestCentroidClassifiesAxes(t *testing.T) {
	c, err := OpenCentroid("")
	require.NoError(t, err)

	cases := map[Label]vecmath.Vector3{
		Up:    vecmath.Vec(5, -3, 180),
		Down:  vecmath.Vec(0, 10, -150),
		Left:  vecmath.Vec(-200, 0, 30),
		Right: vecmath.Vec(120, 5, 5),
		Front: vecmath.Vec(10, 300, 0),
		Back:  vecmath.Vec(0, -101, 0),
	}
	for want, field := range cases {
		res, err := c.Classify(context.Background(), field)
		require.NoError(t, err)
		assert.Equal(t, want, res.Label)

		sum := 0.0
		for _, p := range res.Probabilities {
			require.GreaterOrEqual(t, p, 0.0)
			require.LessOrEqual(t, p, 1.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.Greater(t, res.Confidence(), 0.5)
	}
}

func TestCentroidRejectsDirectionlessInput(t *testing.T) {
	c, err := OpenCentroid("")
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), vecmath.Vector3{})
	require.ErrorIs(t, err, ErrClassificationFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Classify(ctx, vecmath.Vec(1, 0, 0))
	require.ErrorIs(t, err, ErrClassificationFailed)
}

func TestLoadModelFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
temperature: 0.5
centroids:
  left:  {x: -1, y: 0, z: 0}
  right: {x: 2, y: 0, z: 0}
`), 0o644))

	c, err := OpenCentroid(path)
	require.NoError(t, err)
	res, err := c.Classify(context.Background(), vecmath.Vec(3, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, Right, res.Label)
	assert.Len(t, res.Probabilities, 2)
}

func TestLoadModelFailuresAreUnavailable(t *testing.T) {
	_, err := OpenCentroid(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrClassifierUnavailable)

	_, err = NewCentroid(Model{Temperature: 0, Centroids: DefaultModel().Centroids})
	require.ErrorIs(t, err, ErrClassifierUnavailable)

	_, err = NewCentroid(Model{Temperature: 1, Centroids: map[string]vecmath.Vector3{"sideways": vecmath.Vec(1, 0, 0)}})
	require.ErrorIs(t, err, ErrClassifierUnavailable)

	_, err = NewCentroid(Model{Temperature: 1, Centroids: map[string]vecmath.Vector3{"up": {}}})
	require.ErrorIs(t, err, ErrClassifierUnavailable)
}

func TestNoMagnet(t *testing.T) {
	r := NoMagnet()
	assert.Equal(t, None, r.Label)
	assert.Equal(t, 1.0, r.Confidence())
}

type collector struct {
	mu  sync.Mutex
	out []Outcome
	got chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 64)}
}

func (c *collector) deliver(o Outcome) {
	c.mu.Lock()
	c.out = append(c.out, o)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Outcome {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for outcome %d", i+1)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Outcome(nil), c.out...)
}

func TestDispatcherDropsNewestWhenBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	slow := Func(func(ctx context.Context, v vecmath.Vector3) (Result, error) {
		started <- struct{}{}
		<-release
		return Result{Label: Up, Probabilities: map[Label]float64{Up: 1}}, nil
	})

	col := newCollector()
	d := NewDispatcher(slow, 1, 0, col.deliver)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.True(t, d.Submit(1, vecmath.Vec(1, 0, 0)))
	<-started // worker busy with #1

	assert.True(t, d.Submit(2, vecmath.Vec(2, 0, 0)), "fills the queue")
	assert.False(t, d.Submit(3, vecmath.Vec(3, 0, 0)), "queue full: newest dropped")

	close(release)
	out := col.wait(t, 2)
	require.Len(t, out, 2)
	assert.Equal(t, uint64(1), out[0].Seq)
	assert.Equal(t, uint64(2), out[1].Seq)
}

func TestDispatcherSurfacesErrors(t *testing.T) {
	failing := Func(func(ctx context.Context, v vecmath.Vector3) (Result, error) {
		return Result{}, ErrClassifierUnavailable
	})
	col := newCollector()
	d := NewDispatcher(failing, 4, time.Second, col.deliver)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.True(t, d.Submit(7, vecmath.Vec(0, 0, 150)))
	out := col.wait(t, 1)
	assert.True(t, errors.Is(out[0].Err, ErrClassifierUnavailable))
	assert.Equal(t, uint64(7), out[0].Seq)
}

func TestDispatcherTimeout(t *testing.T) {
	blocking := Func(func(ctx context.Context, v vecmath.Vector3) (Result, error) {
		<-ctx.Done()
		return Result{}, ErrClassificationFailed
	})
	col := newCollector()
	d := NewDispatcher(blocking, 1, 20*time.Millisecond, col.deliver)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.True(t, d.Submit(1, vecmath.Vec(1, 1, 1)))
	out := col.wait(t, 1)
	assert.ErrorIs(t, out[0].Err, ErrClassificationFailed)
	assert.GreaterOrEqual(t, out[0].Latency, 20*time.Millisecond)
}
