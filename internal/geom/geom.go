// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package geom provides the fixed-size float32 linear algebra shared by the
// projector, the compositors and their adjoints.
//
// 4×4 matrices are stored column-major (element (r, c) at index c*4+r), the
// layout training frameworks hand over for view and projection matrices.
// 3×3 matrices are stored row-major.
package geom

import "math"

// Vec3 is a 3-component float32 vector.
type Vec3 struct {
	X, Y, Z float32
}

// V3 is shorthand for Vec3{x, y, z}.
func V3(x, y, z float32) Vec3 { return Vec3{x, y, z} }

// V3At reads the i-th packed triple of s.
func V3At(s []float32, i int) Vec3 {
	return Vec3{s[3*i], s[3*i+1], s[3*i+2]}
}

// Store writes v as the i-th packed triple of s.
func (v Vec3) Store(s []float32, i int) {
	s[3*i], s[3*i+1], s[3*i+2] = v.X, v.Y, v.Z
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z} }

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z} }

// Scale returns v * s.
func (v Vec3) Scale(s float32) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Dot returns the dot product.
func (v Vec3) Dot(w Vec3) float32 { return v.X*w.X + v.Y*w.Y + v.Z*w.Z }

// Len returns the Euclidean length.
func (v Vec3) Len() float32 { return Sqrt(v.Dot(v)) }

// Normalize returns v / |v|. The zero vector is returned unchanged.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// Vec4 is a homogeneous 4-component vector.
type Vec4 struct {
	X, Y, Z, W float32
}

// Mat4 is a column-major 4×4 matrix.
type Mat4 [16]float32

// TransformPoint4x3 applies the affine part of m to p (w assumed 1, result
// w discarded).
func (m *Mat4) TransformPoint4x3(p Vec3) Vec3 {
	return Vec3{
		m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12],
		m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13],
		m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14],
	}
}

// TransformPoint4x4 applies m to the homogeneous point (p, 1).
func (m *Mat4) TransformPoint4x4(p Vec3) Vec4 {
	return Vec4{
		m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12],
		m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13],
		m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14],
		m[3]*p.X + m[7]*p.Y + m[11]*p.Z + m[15],
	}
}

// Rotation returns the upper-left 3×3 block of m in row-major order.
func (m *Mat4) Rotation() Mat3 {
	return Mat3{
		m[0], m[4], m[8],
		m[1], m[5], m[9],
		m[2], m[6], m[10],
	}
}

// Row returns the first three entries of row r.
func (m *Mat4) Row(r int) Vec3 {
	return Vec3{m[r], m[4+r], m[8+r]}
}

// Mat3 is a row-major 3×3 matrix.
type Mat3 [9]float32

// Identity3 returns the 3×3 identity.
func Identity3() Mat3 { return Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1} }

// At returns element (r, c).
func (a *Mat3) At(r, c int) float32 { return a[r*3+c] }

// Mul returns a·b.
func (a Mat3) Mul(b Mat3) Mat3 {
	var out Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = a[r*3]*b[c] + a[r*3+1]*b[3+c] + a[r*3+2]*b[6+c]
		}
	}
	return out
}

// Transpose returns aᵀ.
func (a Mat3) Transpose() Mat3 {
	return Mat3{
		a[0], a[3], a[6],
		a[1], a[4], a[7],
		a[2], a[5], a[8],
	}
}

// MulVec returns a·v.
func (a Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		a[0]*v.X + a[1]*v.Y + a[2]*v.Z,
		a[3]*v.X + a[4]*v.Y + a[5]*v.Z,
		a[6]*v.X + a[7]*v.Y + a[8]*v.Z,
	}
}

// Col returns column c.
func (a Mat3) Col(c int) Vec3 { return Vec3{a[c], a[3+c], a[6+c]} }

// Sym3 is a symmetric 3×3 matrix stored as its upper triangle
// (xx, xy, xz, yy, yz, zz).
type Sym3 [6]float32

// Sym3At reads the i-th packed covariance of s.
func Sym3At(s []float32, i int) Sym3 {
	var c Sym3
	copy(c[:], s[6*i:6*i+6])
	return c
}

// Full expands s into a dense matrix.
func (s Sym3) Full() Mat3 {
	return Mat3{
		s[0], s[1], s[2],
		s[1], s[3], s[4],
		s[2], s[4], s[5],
	}
}

// SymOf packs the upper triangle of a (assumed symmetric).
func SymOf(a Mat3) Sym3 {
	return Sym3{a[0], a[1], a[2], a[4], a[5], a[8]}
}

// Quat is a rotation quaternion w + xi + yj + zk.
type Quat struct {
	W, X, Y, Z float32
}

// QuatAt reads the i-th packed (w, x, y, z) quaternion of s.
func QuatAt(s []float32, i int) Quat {
	return Quat{s[4*i], s[4*i+1], s[4*i+2], s[4*i+3]}
}

// Norm returns |q|.
func (q Quat) Norm() float32 {
	return Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q/|q|. A zero quaternion maps to the identity rotation.
func (q Quat) Normalize() Quat {
	n := q.Norm()
	if n < 1e-12 {
		return Quat{W: 1}
	}
	inv := 1 / n
	return Quat{q.W * inv, q.X * inv, q.Y * inv, q.Z * inv}
}

// Rotation returns the rotation matrix of the unit quaternion q.
func (q Quat) Rotation() Mat3 {
	r, x, y, z := q.W, q.X, q.Y, q.Z
	return Mat3{
		1 - 2*(y*y+z*z), 2 * (x*y - r*z), 2 * (x*z + r*y),
		2 * (x*y + r*z), 1 - 2*(x*x+z*z), 2 * (y*z - r*x),
		2 * (x*z - r*y), 2 * (y*z + r*x), 1 - 2*(x*x+y*y),
	}
}

// RotationGrad pulls a gradient on the rotation matrix back onto the
// (unit) quaternion components, differentiating Rotation entry by entry.
func (q Quat) RotationGrad(g Mat3) Quat {
	r, x, y, z := q.W, q.X, q.Y, q.Z
	return Quat{
		W: 2 * (z*(g[3]-g[1]) + y*(g[2]-g[6]) + x*(g[7]-g[5])),
		X: 2 * (y*(g[3]+g[1]) + z*(g[6]+g[2]) + r*(g[7]-g[5]) - 2*x*(g[4]+g[8])),
		Y: 2 * (x*(g[3]+g[1]) + r*(g[2]-g[6]) + z*(g[7]+g[5]) - 2*y*(g[0]+g[8])),
		Z: 2 * (r*(g[3]-g[1]) + x*(g[6]+g[2]) + y*(g[7]+g[5]) - 2*z*(g[0]+g[4])),
	}
}

// NormalizeGrad pulls a gradient on q/|q| back onto q.
func (q Quat) NormalizeGrad(g Quat) Quat {
	n := q.Norm()
	if n < 1e-12 {
		return Quat{}
	}
	u := Quat{q.W / n, q.X / n, q.Y / n, q.Z / n}
	d := u.W*g.W + u.X*g.X + u.Y*g.Y + u.Z*g.Z
	inv := 1 / n
	return Quat{
		(g.W - u.W*d) * inv,
		(g.X - u.X*d) * inv,
		(g.Y - u.Y*d) * inv,
		(g.Z - u.Z*d) * inv,
	}
}

// Sqrt is math.Sqrt in float32.
func Sqrt(v float32) float32 { return float32(math.Sqrt(float64(v))) }

// Exp is math.Exp in float32.
func Exp(v float32) float32 { return float32(math.Exp(float64(v))) }

// Clamp limits v to [lo, hi].
func Clamp[T int | int32 | float32](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
