// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package detector flags magnet presence from the corrected field magnitude.
package detector

// DefaultThreshold is the presence threshold in µT.
const DefaultThreshold = 100.0

// Detector decides presence from one magnitude sample.
type Detector interface {
	Detect(magnitude float64) bool
}

// Threshold is the stateless presence test: magnitude > Limit. A single
// sample crossing the limit flips presence; there is no debounce.
type Threshold struct {
	Limit float64
}

// NewThreshold returns a Threshold detector with the given limit in µT.
func NewThreshold(limit float64) Threshold {
	return Threshold{Limit: limit}
}

// Detect reports whether magnitude is strictly above the limit.
func (t Threshold) Detect(magnitude float64) bool {
	return magnitude > t.Limit
}
