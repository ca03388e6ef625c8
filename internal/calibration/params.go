// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration estimates hard-iron offset and soft-iron scale from a
// recorded motion window, applies them to raw magnetometer samples, and runs
// the calibration state machine.
package calibration

import (
	"sync/atomic"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// Parameters is one complete calibration result. Values are never modified
// after publication; a new run publishes a new Parameters.
//
// Corrected = SoftIronScale ⊙ (Raw − HardIronOffset)
type Parameters struct {
	HardIronOffset vecmath.Vector3 `json:"hard_iron_offset"`
	SoftIronScale  vecmath.Vector3 `json:"soft_iron_scale"`
	// ReferenceField is the earth field in reference frame, in corrected units.
	ReferenceField vecmath.Vector3 `json:"reference_field"`
	Calibrated     bool            `json:"calibrated"`

	Range      vecmath.Vector3 `json:"range"`
	Confidence float64         `json:"confidence"` // min/max range ratio, percent
	Samples    int             `json:"samples"`
	At         time.Time       `json:"at"`
}

// DefaultParameters returns the uncalibrated identity parameters.
func DefaultParameters() Parameters {
	return Parameters{
		SoftIronScale: vecmath.Vec(1, 1, 1),
	}
}

// Store publishes Parameters snapshots to concurrent readers. Load always
// returns a set from a single calibration run.
type Store struct {
	p atomic.Pointer[Parameters]
}

// NewStore returns a Store holding p.
func NewStore(p Parameters) *Store {
	s := &Store{}
	s.Set(p)
	return s
}

// Load returns a copy of the current snapshot.
func (s *Store) Load() Parameters {
	if p := s.p.Load(); p != nil {
		return *p
	}
	return DefaultParameters()
}

// Set publishes p as the new snapshot.
func (s *Store) Set(p Parameters) {
	s.p.Store(&p)
}
