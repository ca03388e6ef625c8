// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package detector

import "sync"

// Hysteresis wraps a Detector so presence only changes after N consecutive
// samples agree on the new value.
type Hysteresis struct {
	inner Detector
	n     int

	mu      sync.Mutex
	present bool
	run     int
}

// NewHysteresis wraps inner. n <= 1 behaves like inner.
func NewHysteresis(inner Detector, n int) *Hysteresis {
	if n < 1 {
		n = 1
	}
	return &Hysteresis{inner: inner, n: n}
}

// Detect feeds one magnitude and returns the debounced presence.
func (h *Hysteresis) Detect(magnitude float64) bool {
	raw := h.inner.Detect(magnitude)

	h.mu.Lock()
	defer h.mu.Unlock()

	if raw == h.present {
		h.run = 0
		return h.present
	}
	h.run++
	if h.run >= h.n {
		h.present = raw
		h.run = 0
	}
	return h.present
}

// Reset clears the debounced state to "not present".
func (h *Hysteresis) Reset() {
	h.mu.Lock()
	h.present = false
	h.run = 0
	h.mu.Unlock()
}
