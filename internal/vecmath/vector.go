// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package vecmath holds the 3-vector and quaternion arithmetic used by the
// field-correction pipeline. Everything here is a pure value operation.
package vecmath

import "math"

// Vector3 is a 3D vector. Field quantities are in µT.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec creates a Vector3 from its components.
func Vec(x, y, z float64) Vector3 {
	return Vector3{X: x, Y: y, Z: z}
}

// Add returns v + o.
func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v - o.
func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale multiplies every component by k.
func (v Vector3) Scale(k float64) Vector3 { return Vector3{v.X * k, v.Y * k, v.Z * k} }

// Mul is the component-wise product, i.e. diag(o) · v.
func (v Vector3) Mul(o Vector3) Vector3 { return Vector3{v.X * o.X, v.Y * o.Y, v.Z * o.Z} }

// Dot returns the dot product.
func (v Vector3) Dot(o Vector3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Cross returns v × o.
func (v Vector3) Cross(o Vector3) Vector3 {
	return Vector3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Norm returns the Euclidean magnitude.
func (v Vector3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Component returns the i-th component (0=X, 1=Y, 2=Z).
func (v Vector3) Component(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// IsFinite reports whether no component is NaN or ±Inf.
func (v Vector3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
