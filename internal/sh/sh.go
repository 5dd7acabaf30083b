// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package sh evaluates real spherical harmonics up to degree 3 as
// view-dependent RGB and pulls color gradients back onto the coefficients
// and the view direction.
package sh

import "github.com/gogpu/gsplat/internal/geom"

// MaxDegree is the highest supported band.
const MaxDegree = 3

// Band constants of the real SH basis.
const (
	c0 = 0.28209479177387814
	c1 = 0.4886025119029199
)

var c2 = [5]float32{
	1.0925484305920792,
	-1.0925484305920792,
	0.31539156525252005,
	-1.0925484305920792,
	0.5462742152960396,
}

var c3 = [7]float32{
	-0.5900435899266435,
	2.890611442640554,
	-0.4570457994644658,
	0.3731763325901154,
	-0.4570457994644658,
	1.445305721320277,
	-0.5900435899266435,
}

// CoeffCount returns the number of coefficients per channel used by degree.
func CoeffCount(degree int) int { return (degree + 1) * (degree + 1) }

// basis fills the first CoeffCount(degree) basis values at the unit
// direction d.
func basis(degree int, d geom.Vec3, b *[16]float32) {
	b[0] = c0
	if degree < 1 {
		return
	}
	x, y, z := d.X, d.Y, d.Z
	b[1] = -c1 * y
	b[2] = c1 * z
	b[3] = -c1 * x
	if degree < 2 {
		return
	}
	xx, yy, zz := x*x, y*y, z*z
	xy, yz, xz := x*y, y*z, x*z
	b[4] = c2[0] * xy
	b[5] = c2[1] * yz
	b[6] = c2[2] * (2*zz - xx - yy)
	b[7] = c2[3] * xz
	b[8] = c2[4] * (xx - yy)
	if degree < 3 {
		return
	}
	b[9] = c3[0] * y * (3*xx - yy)
	b[10] = c3[1] * xy * z
	b[11] = c3[2] * y * (4*zz - xx - yy)
	b[12] = c3[3] * z * (2*zz - 3*xx - 3*yy)
	b[13] = c3[4] * x * (4*zz - xx - yy)
	b[14] = c3[5] * z * (xx - yy)
	b[15] = c3[6] * x * (xx - 3*yy)
}

// basisGrad fills the partial derivatives of each basis value with respect
// to the (unnormalized-independent) direction components.
func basisGrad(degree int, d geom.Vec3, dx, dy, dz *[16]float32) {
	if degree < 1 {
		return
	}
	x, y, z := d.X, d.Y, d.Z
	dy[1] = -c1
	dz[2] = c1
	dx[3] = -c1
	if degree < 2 {
		return
	}
	xx, yy, zz := x*x, y*y, z*z
	xy, yz, xz := x*y, y*z, x*z

	dx[4], dy[4] = c2[0]*y, c2[0]*x
	dy[5], dz[5] = c2[1]*z, c2[1]*y
	dx[6], dy[6], dz[6] = -2*c2[2]*x, -2*c2[2]*y, 4*c2[2]*z
	dx[7], dz[7] = c2[3]*z, c2[3]*x
	dx[8], dy[8] = 2*c2[4]*x, -2*c2[4]*y
	if degree < 3 {
		return
	}
	dx[9], dy[9] = c3[0]*6*xy, c3[0]*3*(xx-yy)
	dx[10], dy[10], dz[10] = c3[1]*yz, c3[1]*xz, c3[1]*xy
	dx[11], dy[11], dz[11] = c3[2]*(-2*xy), c3[2]*(4*zz-xx-3*yy), c3[2]*8*yz
	dx[12], dy[12], dz[12] = c3[3]*(-6*xz), c3[3]*(-6*yz), c3[3]*(6*zz-3*xx-3*yy)
	dx[13], dy[13], dz[13] = c3[4]*(4*zz-3*xx-yy), c3[4]*(-2*xy), c3[4]*8*xz
	dx[14], dy[14], dz[14] = c3[5]*2*xz, c3[5]*(-2*yz), c3[5]*(xx-yy)
	dx[15], dy[15] = c3[6]*3*(xx-yy), c3[6]*(-6*xy)
}

// Eval returns the color of one Gaussian seen along dir (camera to mean,
// not necessarily normalized). coeffs holds at least CoeffCount(degree)
// RGB triples. The result is offset by 0.5 and clamped at zero; clamped
// reports which channels hit the clamp.
func Eval(degree int, coeffs []float32, dir geom.Vec3) (rgb geom.Vec3, clamped [3]bool) {
	var b [16]float32
	basis(degree, dir.Normalize(), &b)
	for k := range CoeffCount(degree) {
		rgb = rgb.Add(geom.V3At(coeffs, k).Scale(b[k]))
	}
	rgb = rgb.Add(geom.V3(0.5, 0.5, 0.5))
	if rgb.X < 0 {
		rgb.X, clamped[0] = 0, true
	}
	if rgb.Y < 0 {
		rgb.Y, clamped[1] = 0, true
	}
	if rgb.Z < 0 {
		rgb.Z, clamped[2] = 0, true
	}
	return rgb, clamped
}

// Backward accumulates the coefficient gradient into dCoeffs (same layout
// as coeffs) and returns the gradient with respect to the Gaussian mean,
// through the normalized view direction. Channels clamped in Eval pass no
// gradient.
func Backward(degree int, coeffs []float32, dir geom.Vec3, clamped [3]bool, dRGB geom.Vec3, dCoeffs []float32) geom.Vec3 {
	if clamped[0] {
		dRGB.X = 0
	}
	if clamped[1] {
		dRGB.Y = 0
	}
	if clamped[2] {
		dRGB.Z = 0
	}

	d := dir.Normalize()
	var b, bx, by, bz [16]float32
	basis(degree, d, &b)
	basisGrad(degree, d, &bx, &by, &bz)

	var dRGBdx, dRGBdy, dRGBdz geom.Vec3
	for k := range CoeffCount(degree) {
		dCoeffs[3*k] += b[k] * dRGB.X
		dCoeffs[3*k+1] += b[k] * dRGB.Y
		dCoeffs[3*k+2] += b[k] * dRGB.Z

		c := geom.V3At(coeffs, k)
		dRGBdx = dRGBdx.Add(c.Scale(bx[k]))
		dRGBdy = dRGBdy.Add(c.Scale(by[k]))
		dRGBdz = dRGBdz.Add(c.Scale(bz[k]))
	}

	dDir := geom.V3(dRGBdx.Dot(dRGB), dRGBdy.Dot(dRGB), dRGBdz.Dot(dRGB))
	return NormalizeGrad(dir, dDir)
}

// NormalizeGrad pulls a gradient on v/|v| back onto v.
func NormalizeGrad(v, dv geom.Vec3) geom.Vec3 {
	sum2 := v.Dot(v)
	if sum2 == 0 {
		return geom.Vec3{}
	}
	inv := 1 / (sum2 * geom.Sqrt(sum2))
	return geom.V3(
		((sum2-v.X*v.X)*dv.X-v.Y*v.X*dv.Y-v.Z*v.X*dv.Z)*inv,
		(-v.X*v.Y*dv.X+(sum2-v.Y*v.Y)*dv.Y-v.Z*v.Y*dv.Z)*inv,
		(-v.X*v.Z*dv.X-v.Y*v.Z*dv.Y+(sum2-v.Z*v.Z)*dv.Z)*inv,
	)
}
