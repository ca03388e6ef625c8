// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package frame converts vectors between the device frame and the reference
// (world) frame, and removes the earth field from corrected readings.
//
// The orientation quaternion rotates device-frame vectors into the
// reference frame. Its inverse takes reference-frame vectors (such as the
// earth field) into the current device frame.
package frame

import (
	"fmt"

	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// ToReferenceFrame rotates a device-frame vector into the reference frame.
func ToReferenceFrame(v vecmath.Vector3, orientation vecmath.Quaternion) vecmath.Vector3 {
	return orientation.Rotate(v)
}

// ToDeviceFrame rotates a reference-frame vector into the device frame.
func ToDeviceFrame(v vecmath.Vector3, orientation vecmath.Quaternion) vecmath.Vector3 {
	return orientation.RotateInverse(v)
}

// Policy selects how the earth field is removed from a corrected reading.
type Policy string

const (
	// PolicyReference subtracts the tracked reference-frame earth field,
	// expressed in the current device frame.
	PolicyReference Policy = "reference"
	// PolicyNone leaves the corrected reading untouched.
	PolicyNone Policy = "none"
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyReference, PolicyNone:
		return Policy(s), nil
	case "":
		return PolicyReference, nil
	}
	return "", fmt.Errorf("unknown earth field cancellation policy %q (want %q or %q)", s, PolicyReference, PolicyNone)
}

// Canceller removes the ambient reference field from corrected readings.
type Canceller struct {
	Policy Policy
}

// NewCanceller returns a Canceller for the given policy.
func NewCanceller(p Policy) Canceller {
	return Canceller{Policy: p}
}

// Cancel returns the magnet-only field estimate in device frame:
//
//	corrected − ToDeviceFrame(referenceField, orientation)
func (c Canceller) Cancel(corrected, referenceField vecmath.Vector3, orientation vecmath.Quaternion) vecmath.Vector3 {
	if c.Policy == PolicyNone {
		return corrected
	}
	return corrected.Sub(ToDeviceFrame(referenceField, orientation))
}
