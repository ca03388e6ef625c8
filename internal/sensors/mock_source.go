// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/frame"
	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// MockOptions describes the simulated device.
type MockOptions struct {
	// RateHz paces Next in real time. 0 returns samples as fast as they are
	// asked for (the simulated clock still advances at SimRateHz).
	RateHz    float64
	SimRateHz float64

	EarthField vecmath.Vector3 // reference frame, µT
	HardIron   vecmath.Vector3 // additive sensor bias, µT
	SoftIron   vecmath.Vector3 // diagonal distortion

	// Magnet is the device-frame field of a nearby magnet. It stays away for
	// MagnetDelay, then is present in the second half of every MagnetPeriod;
	// a zero period never shows it.
	Magnet       vecmath.Vector3
	MagnetDelay  time.Duration
	MagnetPeriod time.Duration

	Noise float64 // per-axis gaussian noise stddev, µT
	Seed  int64
}

// DefaultMockOptions is a device tumbling in a mid-latitude earth field
// with a moderate hard/soft iron error. The magnet first shows up 50 s in,
// after a default calibration window started at t=0 has closed, and then
// for 10 s out of every 20 s.
func DefaultMockOptions() MockOptions {
	return MockOptions{
		RateHz:       100,
		SimRateHz:    100,
		EarthField:   vecmath.Vec(20, 0, -45),
		HardIron:     vecmath.Vec(30, -12, 8),
		SoftIron:     vecmath.Vec(1.1, 0.95, 1.0),
		Magnet:       vecmath.Vec(0, 0, 250),
		MagnetDelay:  40 * time.Second,
		MagnetPeriod: 20 * time.Second,
		Noise:        0.3,
		Seed:         1,
	}
}

type mockSource struct {
	opts   MockOptions
	rnd    *rand.Rand
	n      int
	start  time.Time
	ticker *time.Ticker
}

// NewMockSource creates a synthetic sample source.
func NewMockSource(opts MockOptions) Source {
	if opts.SimRateHz <= 0 {
		opts.SimRateHz = 100
	}
	if opts.SoftIron == (vecmath.Vector3{}) {
		opts.SoftIron = vecmath.Vec(1, 1, 1)
	}
	return &mockSource{opts: opts, rnd: rand.New(rand.NewSource(opts.Seed))}
}

func (m *mockSource) Open() error {
	m.start = time.Now()
	if m.opts.RateHz > 0 {
		m.ticker = time.NewTicker(time.Duration(float64(time.Second) / m.opts.RateHz))
	}
	return nil
}

func (m *mockSource) Next(ctx context.Context) (Sample, error) {
	if m.ticker != nil {
		select {
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		case <-m.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	t := float64(m.n) / m.opts.SimRateHz
	elapsed := time.Duration(t * float64(time.Second))
	m.n++

	q := MockOrientation(t)
	field := frame.ToDeviceFrame(m.opts.EarthField, q)
	if m.magnetOn(elapsed) {
		field = field.Add(m.opts.Magnet)
	}
	raw := field.Mul(m.opts.SoftIron).Add(m.opts.HardIron)
	if m.opts.Noise > 0 {
		raw = raw.Add(vecmath.Vec(m.rnd.NormFloat64(), m.rnd.NormFloat64(), m.rnd.NormFloat64()).Scale(m.opts.Noise))
	}
	return Sample{Raw: raw, Orientation: q, Time: m.start.Add(elapsed)}, nil
}

func (m *mockSource) magnetOn(elapsed time.Duration) bool {
	p := m.opts.MagnetPeriod
	if p <= 0 || elapsed < m.opts.MagnetDelay {
		return false
	}
	return (elapsed-m.opts.MagnetDelay)%p >= p/2
}

func (m *mockSource) Close() error {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	return nil
}

// MockOrientation is the tumbling motion of the simulated device at time t
// (seconds). Incommensurate rates on three axes sweep every direction.
func MockOrientation(t float64) vecmath.Quaternion {
	qz := vecmath.FromAxisAngle(vecmath.Vec(0, 0, 1), 0.9*t)
	qx := vecmath.FromAxisAngle(vecmath.Vec(1, 0, 0), 0.61*t+0.3*math.Sin(0.2*t))
	qy := vecmath.FromAxisAngle(vecmath.Vec(0, 1, 0), 0.37*t)
	return qz.Mul(qx).Mul(qy).Normalized()
}
