// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vecmath

import "math"

// Quaternion is an orientation quaternion, W being the real part.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity returns the no-rotation quaternion.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// FromAxisAngle builds the unit quaternion rotating by angle (radians)
// around axis. A zero axis yields the identity.
func FromAxisAngle(axis Vector3, angle float64) Quaternion {
	n := axis.Norm()
	if n == 0 {
		return Identity()
	}
	s := math.Sin(angle/2) / n
	return Quaternion{
		W: math.Cos(angle / 2),
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
	}
}

// Imag returns the vector part.
func (q Quaternion) Imag() Vector3 {
	return Vector3{q.X, q.Y, q.Z}
}

// Norm returns the quaternion length.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalized returns q scaled to unit length. The zero quaternion is
// returned unchanged.
func (q Quaternion) Normalized() Quaternion {
	n := q.Norm()
	if n == 0 {
		return q
	}
	return Quaternion{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// Conjugate returns (w, -x, -y, -z). For unit quaternions this is the inverse.
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{q.W, -q.X, -q.Y, -q.Z}
}

// Inverse returns q⁻¹.
func (q Quaternion) Inverse() Quaternion {
	n2 := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
	if n2 == 0 {
		return q
	}
	c := q.Conjugate()
	return Quaternion{c.W / n2, c.X / n2, c.Y / n2, c.Z / n2}
}

// Mul returns the Hamilton product q·r (apply r first, then q).
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Rotate applies the active rotation of q to v:
//
//	v' = v + 2·(w·(u × v) + u × (u × v)),  u = (x, y, z)
//
// q is expected to be a unit quaternion.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	u := q.Imag()
	uv := u.Cross(v)
	uuv := u.Cross(uv)
	return v.Add(uv.Scale(q.W).Add(uuv).Scale(2))
}

// RotateInverse applies the opposite rotation of Rotate.
func (q Quaternion) RotateInverse(v Vector3) Vector3 {
	return q.Conjugate().Rotate(v)
}

// IsFinite reports whether no component is NaN or ±Inf.
func (q Quaternion) IsFinite() bool {
	return isFinite(q.W) && isFinite(q.X) && isFinite(q.Y) && isFinite(q.Z)
}
