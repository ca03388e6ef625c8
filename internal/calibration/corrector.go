// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import "github.com/relabs-tech/magnet_tracker/internal/vecmath"

// Correct removes the hard-iron offset and applies the diagonal soft-iron
// scale to one raw sample.
func Correct(raw vecmath.Vector3, p Parameters) vecmath.Vector3 {
	return raw.Sub(p.HardIronOffset).Mul(p.SoftIronScale)
}
