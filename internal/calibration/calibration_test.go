// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/frame"
	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// ellipsoid samples a lat/long grid over an axis-aligned ellipsoid. The
// grid contains the six axis extremes exactly.
func ellipsoid(center, semi vecmath.Vector3) []Sample {
	var out []Sample
	for i := 0; i <= 8; i++ {
		phi := -math.Pi/2 + float64(i)*math.Pi/8
		for j := 0; j < 16; j++ {
			theta := float64(j) * math.Pi / 8
			out = append(out, Sample{
				Raw: vecmath.Vec(
					center.X+semi.X*math.Cos(phi)*math.Cos(theta),
					center.Y+semi.Y*math.Cos(phi)*math.Sin(theta),
					center.Z+semi.Z*math.Sin(phi),
				),
				Orientation: vecmath.Identity(),
			})
		}
	}
	return out
}

func TestEstimatorRecoversEllipsoid(t *testing.T) {
	center := vecmath.Vec(30, -12, 8)
	semi := vecmath.Vec(40, 50, 60)

	e := NewEstimator(DefaultMinSamples, 0)
	e.Begin()
	for _, s := range ellipsoid(center, semi) {
		require.NoError(t, e.Accept(s))
	}
	p, err := e.Finish()
	require.NoError(t, err)

	assert.True(t, p.Calibrated)
	assert.InDelta(t, center.X, p.HardIronOffset.X, 1e-9)
	assert.InDelta(t, center.Y, p.HardIronOffset.Y, 1e-9)
	assert.InDelta(t, center.Z, p.HardIronOffset.Z, 1e-9)

	mean := (semi.X + semi.Y + semi.Z) / 3
	assert.InDelta(t, mean/semi.X, p.SoftIronScale.X, 1e-9)
	assert.InDelta(t, mean/semi.Y, p.SoftIronScale.Y, 1e-9)
	assert.InDelta(t, mean/semi.Z, p.SoftIronScale.Z, 1e-9)
	assert.InDelta(t, 40.0/60.0*100, p.Confidence, 1e-9)
	assert.Equal(t, 144, p.Samples)
	assert.Equal(t, 0, e.Len(), "samples are discarded after a run")
}

func TestEstimatorSampleCountBoundary(t *testing.T) {
	e := NewEstimator(DefaultMinSamples, 0)
	samples := ellipsoid(vecmath.Vector3{}, vecmath.Vec(50, 50, 50))

	e.Begin()
	for _, s := range samples[:100] {
		require.NoError(t, e.Accept(s))
	}
	_, err := e.Finish()
	require.ErrorIs(t, err, ErrInsufficientData)

	e.Begin()
	for _, s := range samples[:101] {
		require.NoError(t, e.Accept(s))
	}
	p, err := e.Finish()
	require.NoError(t, err)
	assert.True(t, p.Calibrated)

	_, err = e.Finish()
	require.ErrorIs(t, err, ErrInsufficientData, "empty run")
}

func TestEstimatorDegenerateAxisFloor(t *testing.T) {
	e := NewEstimator(DefaultMinSamples, 0)
	e.Begin()
	for i := 0; i < 120; i++ {
		// z never moves
		x := float64(i%2)*80 - 40
		y := float64((i/2)%2)*80 - 40
		require.NoError(t, e.Accept(Sample{Raw: vecmath.Vec(x, y, 5), Orientation: vecmath.Identity()}))
	}
	p, err := e.Finish()
	require.NoError(t, err)

	assert.Equal(t, 1.0, p.Range.Z)
	avg := (80.0 + 80.0 + 1.0) / 3
	assert.InDelta(t, avg, p.SoftIronScale.Z, 1e-12)
	assert.InDelta(t, avg/80, p.SoftIronScale.X, 1e-12)
	assert.False(t, math.IsInf(p.SoftIronScale.Z, 0))
}

func TestEstimatorOverflow(t *testing.T) {
	e := NewEstimator(DefaultMinSamples, 3)
	e.Begin()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Accept(Sample{Raw: vecmath.Vec(1, 2, 3)}))
	}
	err := e.Accept(Sample{Raw: vecmath.Vec(1, 2, 3)})
	require.ErrorIs(t, err, ErrSampleOverflow)
	assert.Equal(t, 3, e.Len())
}

func TestBufferCapacity(t *testing.T) {
	assert.Equal(t, 6000, BufferCapacity(30*time.Second, 100, 2))
	assert.Equal(t, 0, BufferCapacity(0, 100, 2))
	assert.Equal(t, 0, BufferCapacity(time.Second, 0, 2))
}

// axisRotations turn a vertical reference field onto every ±device axis.
func axisRotations() []vecmath.Quaternion {
	x := vecmath.Vec(1, 0, 0)
	y := vecmath.Vec(0, 1, 0)
	return []vecmath.Quaternion{
		vecmath.Identity(),
		vecmath.FromAxisAngle(x, math.Pi),
		vecmath.FromAxisAngle(x, math.Pi/2),
		vecmath.FromAxisAngle(x, -math.Pi/2),
		vecmath.FromAxisAngle(y, math.Pi/2),
		vecmath.FromAxisAngle(y, -math.Pi/2),
	}
}

func TestEstimatorReferenceField(t *testing.T) {
	earth := vecmath.Vec(0, 0, -50)
	offset := vecmath.Vec(30, -12, 8)

	e := NewEstimator(DefaultMinSamples, 0)
	e.Begin()
	for i := 0; i < 20; i++ {
		for _, q := range axisRotations() {
			raw := frame.ToDeviceFrame(earth, q).Add(offset)
			require.NoError(t, e.Accept(Sample{Raw: raw, Orientation: q}))
		}
	}
	p, err := e.Finish()
	require.NoError(t, err)

	assert.InDelta(t, 0, p.HardIronOffset.Sub(offset).Norm(), 1e-9)
	assert.InDelta(t, 0, p.SoftIronScale.Sub(vecmath.Vec(1, 1, 1)).Norm(), 1e-9)
	assert.InDelta(t, 0, p.ReferenceField.Sub(earth).Norm(), 1e-9)
}

func TestCorrectIdentityUnderDefaults(t *testing.T) {
	for _, v := range []vecmath.Vector3{
		{},
		vecmath.Vec(1, 2, 3),
		vecmath.Vec(-250.5, 1e-9, 9999),
	} {
		assert.Equal(t, v, Correct(v, DefaultParameters()))
	}
}

func TestCorrectAppliesOffsetThenScale(t *testing.T) {
	p := Parameters{
		HardIronOffset: vecmath.Vec(50, 10, -10),
		SoftIronScale:  vecmath.Vec(2, 1, 0.5),
	}
	assert.Equal(t, vecmath.Vec(200, 0, 10), Correct(vecmath.Vec(150, 10, 10), p))
}

func TestStoreSnapshots(t *testing.T) {
	var s Store
	assert.Equal(t, DefaultParameters(), s.Load())

	s.Set(Parameters{HardIronOffset: vecmath.Vec(1, 1, 1), SoftIronScale: vecmath.Vec(2, 2, 2), Calibrated: true})
	got := s.Load()
	got.HardIronOffset = vecmath.Vec(9, 9, 9)
	assert.Equal(t, vecmath.Vec(1, 1, 1), s.Load().HardIronOffset, "Load returns a copy")
}

func TestStoreConsistentUnderConcurrency(t *testing.T) {
	s := NewStore(DefaultParameters())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 2000; i++ {
			f := float64(i)
			s.Set(Parameters{HardIronOffset: vecmath.Vec(f, f, f), SoftIronScale: vecmath.Vec(f, f, f), Calibrated: true})
		}
	}()
	for i := 0; i < 2000; i++ {
		p := s.Load()
		if p.Calibrated {
			require.Equal(t, p.HardIronOffset.X, p.SoftIronScale.X)
		}
	}
	wg.Wait()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestController(clk *fakeClock) *Controller {
	return NewController(NewStore(DefaultParameters()), Options{
		Window:     30 * time.Second,
		MinSamples: DefaultMinSamples,
		MaxSamples: BufferCapacity(30*time.Second, 100, 2),
		Now:        clk.Now,
	})
}

// feed spreads the samples evenly over the window.
func feed(c *Controller, clk *fakeClock, samples []Sample) {
	step := c.Window() / time.Duration(len(samples)+1)
	for _, s := range samples {
		clk.Advance(step)
		c.Accept(s)
	}
}

func TestControllerCalibratesAfterWindow(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestController(clk)
	assert.Equal(t, PhaseIdle, c.State().Phase())

	center := vecmath.Vec(50, 0, 0)
	samples := ellipsoid(center, vecmath.Vec(45, 45, 45))
	samples = append(samples, samples[:6]...)
	require.Len(t, samples, 150)

	c.Start()
	assert.Equal(t, PhaseCalibrating, c.State().Phase())
	assert.False(t, c.Store().Load().Calibrated)

	feed(c, clk, samples)
	st := c.State().(Calibrating)
	assert.Equal(t, 150, st.Samples)
	assert.Greater(t, c.Progress(), 90.0)

	_, done := c.Poll()
	assert.False(t, done, "window still open")

	clk.Advance(c.Window())
	st2, done := c.Poll()
	require.True(t, done)
	require.Equal(t, PhaseCalibrated, st2.Phase())

	p := c.Store().Load()
	require.True(t, p.Calibrated)
	assert.Equal(t, 150, p.Samples)
	assert.InDelta(t, 0, p.HardIronOffset.Sub(center).Norm(), 1e-9)
	assert.InDelta(t, 0, Correct(center, p).Norm(), 1e-9)
	assert.Equal(t, 100.0, c.Progress())
}

func TestControllerSampleAfterExpiryIsNotConsumed(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := newTestController(clk)
	c.Start()
	feed(c, clk, ellipsoid(vecmath.Vector3{}, vecmath.Vec(40, 40, 40)))

	clk.Advance(c.Window())
	consumed := c.Accept(Sample{Raw: vecmath.Vec(1, 1, 1), Orientation: vecmath.Identity()})
	assert.False(t, consumed)
	assert.Equal(t, PhaseCalibrated, c.State().Phase())
}

func TestControllerInsufficientDataKeepsPrior(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := newTestController(clk)

	// first run succeeds
	c.Start()
	feed(c, clk, ellipsoid(vecmath.Vec(10, 20, 30), vecmath.Vec(40, 40, 40)))
	clk.Advance(c.Window())
	c.Poll()
	good := c.Store().Load()
	require.True(t, good.Calibrated)

	// second run is too short
	c.Start()
	assert.False(t, c.Store().Load().Calibrated, "new run invalidates calibration immediately")
	feed(c, clk, ellipsoid(vecmath.Vector3{}, vecmath.Vec(10, 10, 10))[:50])
	clk.Advance(c.Window())
	st, done := c.Poll()
	require.True(t, done)

	failed, ok := st.(Failed)
	require.True(t, ok)
	assert.True(t, errors.Is(failed.Reason, ErrInsufficientData))
	assert.Equal(t, good, c.Store().Load(), "prior calibration stays in effect")
	assert.Equal(t, good, failed.Params)
}

func TestControllerNeverCalibratedFailureStaysUncalibrated(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := newTestController(clk)
	c.Start()
	clk.Advance(c.Window())
	st, done := c.Poll()
	require.True(t, done)
	assert.Equal(t, PhaseFailed, st.Phase())
	assert.Equal(t, DefaultParameters(), c.Store().Load())
}

func TestControllerRestartDiscardsInFlightSamples(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := newTestController(clk)

	c.Start()
	for i := 0; i < 80; i++ {
		clk.Advance(100 * time.Millisecond)
		c.Accept(Sample{Raw: vecmath.Vec(1000, 1000, 1000), Orientation: vecmath.Identity()})
	}
	restartAt := clk.Now()
	c.Start()

	st := c.State().(Calibrating)
	assert.Equal(t, 0, st.Samples)
	assert.Equal(t, restartAt, st.StartedAt)

	// the first run's samples would have pulled the box far away
	center := vecmath.Vec(-5, 5, 0)
	feed(c, clk, ellipsoid(center, vecmath.Vec(30, 30, 30)))
	clk.Advance(c.Window())
	c.Poll()
	p := c.Store().Load()
	require.True(t, p.Calibrated)
	assert.InDelta(t, 0, p.HardIronOffset.Sub(center).Norm(), 1e-9)
}

func TestControllerRestartKeepsOriginalPrior(t *testing.T) {
	prior := Parameters{HardIronOffset: vecmath.Vec(1, 2, 3), SoftIronScale: vecmath.Vec(1, 1, 1), Calibrated: true}
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := NewController(NewStore(prior), Options{Window: time.Second, MinSamples: DefaultMinSamples, Now: clk.Now})
	assert.Equal(t, PhaseCalibrated, c.State().Phase())

	c.Start()
	c.Start()
	clk.Advance(time.Second)
	c.Poll()
	assert.Equal(t, prior, c.Store().Load())
}

func TestControllerOverflowFailsFast(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := NewController(NewStore(DefaultParameters()), Options{
		Window:     time.Second,
		MinSamples: 2,
		MaxSamples: 5,
		Now:        clk.Now,
	})
	c.Start()
	for i := 0; i < 5; i++ {
		assert.True(t, c.Accept(Sample{Raw: vecmath.Vec(float64(i), 0, 0)}))
	}
	assert.True(t, c.Accept(Sample{}))

	st, ok := c.State().(Failed)
	require.True(t, ok)
	assert.ErrorIs(t, st.Reason, ErrSampleOverflow)
	assert.False(t, c.Accept(Sample{}), "no run active any more")
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "calibrating", PhaseCalibrating.String())
	assert.Equal(t, "calibrated", PhaseCalibrated.String())
	assert.Equal(t, "failed", PhaseFailed.String())
}
