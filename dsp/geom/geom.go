// Package geom provides the vector and quaternion helpers shared by the
// tracker and the distance stage.
//
// World and head frames are right-handed with x to the right, y forward and
// z up. An orientation quaternion rotates head-frame vectors into the world
// frame; azimuth is measured clockwise from the front (x over y) so +90 is
// the right ear.
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Vec is a 3D vector.
type Vec = r3.Vec

// Quat is a quaternion; orientations are kept at unit norm.
type Quat = quat.Number

// Identity returns the unit quaternion with no rotation.
func Identity() Quat {
	return Quat{Real: 1}
}

// Normalize returns q scaled to unit norm. A zero or non-finite quaternion
// yields Identity.
func Normalize(q Quat) Quat {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Identity()
	}
	q = quat.Scale(1/n, q)

	// Keep the real part non-negative so q and -q compare equal.
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// Norm returns the quaternion norm.
func Norm(q Quat) float64 {
	return quat.Abs(q)
}

// FromAxisAngle returns the rotation by angle radians about axis.
func FromAxisAngle(axis Vec, angle float64) Quat {
	n := r3.Norm(axis)
	if n == 0 {
		return Identity()
	}
	u := r3.Scale(1/n, axis)
	s := math.Sin(angle / 2)
	return Quat{Real: math.Cos(angle / 2), Imag: u.X * s, Jmag: u.Y * s, Kmag: u.Z * s}
}

// FromYawPitchRoll composes yaw about z, then pitch about x, then roll about
// y, all in radians and right-handed. Positive yaw turns the head to the left.
func FromYawPitchRoll(yaw, pitch, roll float64) Quat {
	qz := FromAxisAngle(Vec{Z: 1}, yaw)
	qx := FromAxisAngle(Vec{X: 1}, pitch)
	qy := FromAxisAngle(Vec{Y: 1}, roll)
	return Normalize(quat.Mul(quat.Mul(qz, qx), qy))
}

// Mul returns the Hamilton product a*b.
func Mul(a, b Quat) Quat {
	return quat.Mul(a, b)
}

// Conj returns the conjugate, the inverse of a unit quaternion.
func Conj(q Quat) Quat {
	return quat.Conj(q)
}

// Rotate applies q to v.
func Rotate(q Quat, v Vec) Vec {
	p := quat.Mul(quat.Mul(q, Quat{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// RotateInverse applies the inverse of unit quaternion q to v, mapping
// world-frame vectors into the head frame.
func RotateInverse(q Quat, v Vec) Vec {
	return Rotate(quat.Conj(q), v)
}

// RotationVector returns the axis-angle vector (axis * angle) of q.
func RotationVector(q Quat) Vec {
	q = Normalize(q)
	v := Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	s := r3.Norm(v)
	if s < 1e-12 {
		return r3.Scale(2, v)
	}
	angle := 2 * math.Atan2(s, q.Real)
	return r3.Scale(angle/s, v)
}

// FromRotationVector is the inverse of RotationVector.
func FromRotationVector(v Vec) Quat {
	angle := r3.Norm(v)
	if angle < 1e-12 {
		return Normalize(Quat{Real: 1, Imag: v.X / 2, Jmag: v.Y / 2, Kmag: v.Z / 2})
	}
	return FromAxisAngle(v, angle)
}

// Slerp interpolates between unit quaternions a and b along the shorter arc.
func Slerp(a, b Quat, t float64) Quat {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	if dot > 0.9995 {
		return Normalize(quat.Add(a, quat.Scale(t, quat.Sub(b, a))))
	}

	theta := math.Acos(dot)
	sa := math.Sin((1-t)*theta) / math.Sin(theta)
	sb := math.Sin(t*theta) / math.Sin(theta)
	return Normalize(quat.Add(quat.Scale(sa, a), quat.Scale(sb, b)))
}

// Angle returns the rotation angle in radians between two orientations.
func Angle(a, b Quat) float64 {
	return r3.Norm(RotationVector(quat.Mul(quat.Conj(a), b)))
}

// Direction is a source position relative to the listener's head.
type Direction struct {
	Azimuth   float64 // degrees, clockwise from front, in [0, 360)
	Elevation float64 // degrees, positive up
	Distance  float64 // metres
	Unit      Vec     // head-frame unit vector towards the source
}

// HeadDirection maps a world-frame source position into the head frame of a
// listener at position with the given orientation. Distances below
// minDistance are raised to it so the direction stays defined.
func HeadDirection(orientation Quat, listener, source Vec, minDistance float64) Direction {
	rel := RotateInverse(orientation, r3.Sub(source, listener))
	d := r3.Norm(rel)

	var unit Vec
	if d > 0 {
		unit = r3.Scale(1/d, rel)
	} else {
		unit = Vec{Y: 1}
	}
	if d < minDistance {
		d = minDistance
	}

	az := math.Atan2(unit.X, unit.Y) * 180 / math.Pi
	if az < 0 {
		az += 360
	}
	if az >= 360 {
		az = 0
	}
	el := math.Asin(math.Max(-1, math.Min(1, unit.Z))) * 180 / math.Pi

	return Direction{Azimuth: az, Elevation: el, Distance: d, Unit: unit}
}
