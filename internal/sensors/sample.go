// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors provides the (raw field, orientation) sample sources the
// tracker consumes.
package sensors

import (
	"context"
	"errors"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// ErrSensorUnavailable means a source could not be started. It is fatal to
// the pipeline.
var ErrSensorUnavailable = errors.New("sensor unavailable")

// Sample is one magnetometer reading in µT with the device orientation at
// the time it was taken.
type Sample struct {
	Raw         vecmath.Vector3    `json:"mag"`
	Orientation vecmath.Quaternion `json:"quat"`
	Time        time.Time          `json:"time"`
}

// Source delivers samples in time order.
type Source interface {
	// Open starts the source. Failures wrap ErrSensorUnavailable.
	Open() error
	// Next blocks until the next sample, ctx is done, or the source ends
	// (io.EOF).
	Next(ctx context.Context) (Sample, error)
	Close() error
}
