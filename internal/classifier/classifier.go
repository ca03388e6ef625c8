// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package classifier defines the contract of the magnet position classifier,
// an async dispatcher that keeps classification off the sample path, and a
// centroid model adapter.
package classifier

import (
	"context"
	"errors"

	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

var (
	// ErrClassifierUnavailable means the model could not be loaded or reached.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrClassificationFailed means the model could not classify one input.
	ErrClassificationFailed = errors.New("classification failed")
)

// Result is the output of one classification.
type Result struct {
	Label         Label
	Probabilities map[Label]float64
}

// Confidence is the probability of the winning label.
func (r Result) Confidence() float64 {
	return r.Probabilities[r.Label]
}

// NoMagnet is the neutral result published when no magnet is present.
func NoMagnet() Result {
	return Result{Label: None, Probabilities: map[Label]float64{None: 1}}
}

// Classifier maps a device-frame magnet field to a position label.
// Failures must be reported as errors wrapping ErrClassifierUnavailable or
// ErrClassificationFailed, never as a default label.
type Classifier interface {
	Classify(ctx context.Context, field vecmath.Vector3) (Result, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, field vecmath.Vector3) (Result, error)

func (f Func) Classify(ctx context.Context, field vecmath.Vector3) (Result, error) {
	return f(ctx, field)
}
