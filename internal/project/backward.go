// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package project

import (
	"github.com/gogpu/gsplat/internal/buffers"
	"github.com/gogpu/gsplat/internal/geom"
	"github.com/gogpu/gsplat/internal/parallel"
	"github.com/gogpu/gsplat/internal/sh"
)

// ScreenGrads are the per-Gaussian gradients reduced by the backward
// compositor.
type ScreenGrads struct {
	Means2D []float32 // 2 per Gaussian, with respect to NDC
	Conic   []float32 // 3 per Gaussian: A, B, C
	Colors  []float32 // 3 per Gaussian
	Depths  []float32 // rich output only
	Normals []float32 // 3 per Gaussian, rich output only
}

// ParamGrads receives the lifted gradients. Slices for the variant that
// was not used stay untouched; all slices must be zeroed by the caller.
type ParamGrads struct {
	Means3D   []float32
	Cov3D     []float32
	SH        []float32
	Scales    []float32
	Rotations []float32
}

// Backward lifts sg onto the 3D parameters of every visible Gaussian.
func Backward(pool *parallel.WorkerPool, p *Params, in *Inputs, geo *buffers.Geometry, sg *ScreenGrads, out *ParamGrads) {
	pool.For(in.Count, pool.Grain(in.Count, minGrain), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if geo.Radii[i] > 0 {
				p.backwardOne(i, in, geo, sg, out)
			}
		}
	})
}

func (p *Params) backwardOne(i int, in *Inputs, geo *buffers.Geometry, sg *ScreenGrads, out *ParamGrads) {
	mean := geom.V3At(in.Means, i)
	cov := geom.Sym3At(geo.Cov3D, i)

	a, b, c, jac := p.cov2D(mean, cov)
	da, db, dc := conicGrad(a, b, c, sg.Conic[3*i], sg.Conic[3*i+1], sg.Conic[3*i+2])
	dCov, dMean := cov2DGrad(&jac, cov, da, db, dc)

	dMean = dMean.Add(p.ndcGrad(mean, sg.Means2D[2*i], sg.Means2D[2*i+1]))
	if sg.Depths != nil {
		dMean = dMean.Add(p.View.Row(2).Scale(sg.Depths[i]))
	}

	if in.SH != nil {
		n := in.SHCount * 3
		dDir := sh.Backward(p.SHDegree, in.coeffs(i), mean.Sub(p.Position),
			ClampedChannels(geo.Clamped[i]), geom.V3At(sg.Colors, i), out.SH[i*n:(i+1)*n])
		dMean = dMean.Add(dDir)
	}
	dMean.Store(out.Means3D, i)

	if in.Cov != nil {
		copy(out.Cov3D[6*i:6*i+6], dCov[:])
		return
	}

	scale := geom.V3At(in.Scales, i)
	q := geom.QuatAt(in.Rotations, i)
	var dN *geom.Vec3
	if sg.Normals != nil {
		v := geom.V3At(sg.Normals, i)
		dN = &v
	}
	dScale, dq := p.scaleRotGrad(scale, q, mean, dCov, dN)
	dScale.Store(out.Scales, i)
	out.Rotations[4*i] = dq.W
	out.Rotations[4*i+1] = dq.X
	out.Rotations[4*i+2] = dq.Y
	out.Rotations[4*i+3] = dq.Z
}

// conicGrad pulls a gradient on conic = inverse(Σ2D) back onto the
// entries (a, b, c) of Σ2D. gB is the gradient of the full off-diagonal
// conic entry.
func conicGrad(a, b, c, gA, gB, gC float32) (da, db, dc float32) {
	det := a*c - b*b
	inv := 1 / (det*det + 1e-7)
	da = (-c*c*gA + b*c*gB + (det-a*c)*gC) * inv
	dc = (-a*a*gC + a*b*gB + (det-a*c)*gA) * inv
	db = (2*b*c*gA - (det+2*b*b)*gB + 2*a*b*gC) * inv
	return da, db, dc
}

// cov2DGrad pulls (da, db, dc) back onto the packed 3D covariance and,
// through the perspective Jacobian, onto the mean.
func cov2DGrad(jac *jacobian, cov geom.Sym3, da, db, dc float32) (geom.Sym3, geom.Vec3) {
	m0, m1 := jac.m0, jac.m1
	dCov := geom.Sym3{
		m0.X*m0.X*da + m0.X*m1.X*db + m1.X*m1.X*dc,
		2*m0.X*m0.Y*da + (m0.X*m1.Y+m0.Y*m1.X)*db + 2*m1.X*m1.Y*dc,
		2*m0.X*m0.Z*da + (m0.X*m1.Z+m0.Z*m1.X)*db + 2*m1.X*m1.Z*dc,
		m0.Y*m0.Y*da + m0.Y*m1.Y*db + m1.Y*m1.Y*dc,
		2*m0.Y*m0.Z*da + (m0.Y*m1.Z+m0.Z*m1.Y)*db + 2*m1.Y*m1.Z*dc,
		m0.Z*m0.Z*da + m0.Z*m1.Z*db + m1.Z*m1.Z*dc,
	}

	full := cov.Full()
	sm0, sm1 := full.MulVec(m0), full.MulVec(m1)
	dm0 := sm0.Scale(2 * da).Add(sm1.Scale(db))
	dm1 := sm1.Scale(2 * dc).Add(sm0.Scale(db))
	dj0 := jac.rotation.MulVec(dm0)
	dj1 := jac.rotation.MulVec(dm1)

	t := jac.t
	tz2 := t.Z * t.Z
	tz3 := tz2 * t.Z
	kx, ky := float32(2), float32(2)
	xmul, ymul := float32(1), float32(1)
	if jac.clampX {
		kx, xmul = 1, 0
	}
	if jac.clampY {
		ky, ymul = 1, 0
	}
	dt := geom.V3(
		xmul*(-jac.fx/tz2)*dj0.Z,
		ymul*(-jac.fy/tz2)*dj1.Z,
		-jac.fx/tz2*dj0.X-jac.fy/tz2*dj1.Y+kx*jac.fx*t.X/tz3*dj0.Z+ky*jac.fy*t.Y/tz3*dj1.Z,
	)
	return dCov, jac.rotation.Transpose().MulVec(dt)
}

// ndcGrad pulls a gradient on the NDC position back onto the mean.
func (p *Params) ndcGrad(mean geom.Vec3, gx, gy float32) geom.Vec3 {
	m := &p.Proj
	hom := m.TransformPoint4x4(mean)
	mw := 1 / (hom.W + 1e-7)
	mw2 := mw * mw
	var d [3]float32
	for k := range 3 {
		d[k] = (m[4*k]*mw-m[4*k+3]*hom.X*mw2)*gx + (m[4*k+1]*mw-m[4*k+3]*hom.Y*mw2)*gy
	}
	return geom.V3(d[0], d[1], d[2])
}

// scaleRotGrad pulls the packed covariance gradient, and optionally a
// camera-space normal gradient, onto the scale and the raw quaternion.
func (p *Params) scaleRotGrad(scale geom.Vec3, q geom.Quat, mean geom.Vec3, dCov geom.Sym3, dN *geom.Vec3) (geom.Vec3, geom.Quat) {
	qn := q.Normalize()
	r := qn.Rotation()
	mod := p.ScaleModifier
	s := [3]float32{mod * scale.X, mod * scale.Y, mod * scale.Z}
	m := rotScale(scale, mod, qn)

	// Off-diagonal entries appear twice in Σ.
	g := geom.Mat3{
		dCov[0], dCov[1] / 2, dCov[2] / 2,
		dCov[1] / 2, dCov[3], dCov[4] / 2,
		dCov[2] / 2, dCov[4] / 2, dCov[5],
	}
	dM := g.Mul(m)

	var dR geom.Mat3
	var dS [3]float32
	for row := range 3 {
		for k := range 3 {
			v := 2 * dM[row*3+k]
			dR[row*3+k] = v * s[k]
			dS[k] += v * r[row*3+k]
		}
	}

	if dN != nil {
		pView := p.View.TransformPoint4x3(mean)
		_, sign := p.normal(scale, q, pView)
		axis := normalAxis(scale)
		back := p.View.Rotation().Transpose().MulVec(*dN).Scale(sign)
		dR[axis] += back.X
		dR[3+axis] += back.Y
		dR[6+axis] += back.Z
	}

	dScale := geom.V3(mod*dS[0], mod*dS[1], mod*dS[2])
	return dScale, q.NormalizeGrad(qn.RotationGrad(dR))
}
