// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/frame"
	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

const (
	// DefaultMinSamples is the sample count a run must exceed to succeed.
	DefaultMinSamples = 100

	// minRange is the floor applied to each axis range before computing the
	// soft-iron scale, so near-still axes cannot blow the scale up.
	minRange = 1.0
)

var (
	// ErrInsufficientData is returned when a run recorded too few samples.
	ErrInsufficientData = errors.New("insufficient calibration data")
	// ErrSampleOverflow is returned when a run exceeds its sample buffer.
	ErrSampleOverflow = errors.New("calibration sample buffer full")
)

// Sample is one raw reading captured during the recording window together
// with the device orientation at that time.
type Sample struct {
	Raw         vecmath.Vector3
	Orientation vecmath.Quaternion
}

// Estimator accumulates samples for one calibration run and fits a
// bounding-box (offset + diagonal scale) model to them.
type Estimator struct {
	minSamples int
	maxSamples int
	samples    []Sample
}

// NewEstimator returns an Estimator that needs more than minSamples and
// accepts at most maxSamples per run. maxSamples <= 0 disables the cap.
func NewEstimator(minSamples, maxSamples int) *Estimator {
	if minSamples < 0 {
		minSamples = 0
	}
	return &Estimator{minSamples: minSamples, maxSamples: maxSamples}
}

// BufferCapacity derives the per-run sample cap from the window length,
// the expected sampling rate and a safety factor.
func BufferCapacity(window time.Duration, rateHz, safetyFactor float64) int {
	if window <= 0 || rateHz <= 0 || safetyFactor <= 0 {
		return 0
	}
	return int(math.Ceil(window.Seconds() * rateHz * safetyFactor))
}

// Begin clears the sample sequence.
func (e *Estimator) Begin() {
	e.samples = e.samples[:0]
}

// Len returns the number of samples recorded in the current run.
func (e *Estimator) Len() int {
	return len(e.samples)
}

// Accept appends one sample.
func (e *Estimator) Accept(s Sample) error {
	if e.maxSamples > 0 && len(e.samples) >= e.maxSamples {
		return fmt.Errorf("%w: %d samples", ErrSampleOverflow, e.maxSamples)
	}
	e.samples = append(e.samples, s)
	return nil
}

// Finish fits the recorded samples and clears the sequence. It fails with
// ErrInsufficientData when no more than minSamples were recorded.
func (e *Estimator) Finish() (Parameters, error) {
	defer e.Begin()

	n := len(e.samples)
	if n <= e.minSamples {
		return Parameters{}, fmt.Errorf("%w: got %d samples, need more than %d", ErrInsufficientData, n, e.minSamples)
	}

	lo := [3]float64{math.MaxFloat64, math.MaxFloat64, math.MaxFloat64}
	hi := [3]float64{-math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64}
	for _, s := range e.samples {
		for i := 0; i < 3; i++ {
			c := s.Raw.Component(i)
			lo[i] = math.Min(lo[i], c)
			hi[i] = math.Max(hi[i], c)
		}
	}

	var offset, rng, scale [3]float64
	avgRange := 0.0
	for i := 0; i < 3; i++ {
		offset[i] = (lo[i] + hi[i]) / 2
		rng[i] = math.Max(hi[i]-lo[i], minRange)
		avgRange += rng[i]
	}
	avgRange /= 3
	for i := 0; i < 3; i++ {
		scale[i] = avgRange / rng[i]
	}

	p := Parameters{
		HardIronOffset: vecmath.Vec(offset[0], offset[1], offset[2]),
		SoftIronScale:  vecmath.Vec(scale[0], scale[1], scale[2]),
		Range:          vecmath.Vec(rng[0], rng[1], rng[2]),
		Calibrated:     true,
		Samples:        n,
	}
	p.Confidence = math.Min(rng[0], math.Min(rng[1], rng[2])) / math.Max(rng[0], math.Max(rng[1], rng[2])) * 100

	// The earth field is constant in the reference frame, so averaging the
	// corrected samples there leaves its estimate.
	var sum vecmath.Vector3
	for _, s := range e.samples {
		sum = sum.Add(frame.ToReferenceFrame(Correct(s.Raw, p), s.Orientation))
	}
	p.ReferenceField = sum.Scale(1 / float64(n))

	return p, nil
}
