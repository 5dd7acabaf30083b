// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package project maps 3D Gaussians to screen-space footprints and pulls
// screen-space gradients back onto the 3D parameters.
//
// The forward side runs in three stages so that the middle one can be
// replaced by a GPU kernel:
//
//	Covariances  3D covariance per Gaussian
//	Project      mean2D, depth, conic, radius and tiles touched
//	Shade        color and camera-space normal, visible Gaussians only
//
// Backward is the exact adjoint of all three.
package project

import (
	"errors"

	"github.com/gogpu/gsplat/internal/geom"
)

// ErrPrefilterViolation reports that a Gaussian failed the near-plane
// test although the caller promised all of them pass.
var ErrPrefilterViolation = errors.New("gsplat: prefiltered Gaussian failed the frustum test")

// DefaultNear is the view-space near plane used when none is configured.
const DefaultNear = 0.2

const (
	// covBlur is added to the diagonal of every 2D covariance, so each
	// footprint is at least about one pixel wide.
	covBlur = 0.3
	// tanClamp widens the frustum for the Jacobian evaluation.
	tanClamp = 1.3
	// sigmas is the confidence multiplier of the screen radius.
	sigmas = 3
)

// Params is the per-call camera state in the form the kernels use.
type Params struct {
	View, Proj       geom.Mat4
	TanFovX, TanFovY float32
	Width, Height    int
	Position         geom.Vec3
	ScaleModifier    float32
	SHDegree         int
	Near             float32
	GuardBand        float32
	Prefiltered      bool
	Rich             bool
}

// Focal returns the focal lengths in pixels.
func (p *Params) Focal() (fx, fy float32) {
	return float32(p.Width) / (2 * p.TanFovX), float32(p.Height) / (2 * p.TanFovY)
}

// Inputs holds the raw per-Gaussian arrays of one call. Exactly one of
// SH / Colors and exactly one of (Scales, Rotations) / Cov is non-nil;
// the caller has validated that.
type Inputs struct {
	Count     int
	Means     []float32 // 3 per Gaussian
	Opacities []float32 // 1 per Gaussian; may be nil for radius-only queries

	SH      []float32 // SHCount*3 per Gaussian
	SHCount int
	Colors  []float32 // 3 per Gaussian

	Scales    []float32 // 3 per Gaussian
	Rotations []float32 // 4 per Gaussian, (w, x, y, z)
	Cov       []float32 // 6 per Gaussian
}

func (in *Inputs) coeffs(i int) []float32 {
	n := in.SHCount * 3
	return in.SH[i*n : (i+1)*n]
}

// InFrustum reports whether mean passes the near-plane test and, when a
// guard band is configured, the lateral NDC test. It also returns the
// view-space position.
func (p *Params) InFrustum(mean geom.Vec3) (geom.Vec3, bool) {
	pView := p.View.TransformPoint4x3(mean)
	if pView.Z <= p.Near {
		return pView, false
	}
	if p.GuardBand > 0 {
		ndc, _ := p.ndc(mean)
		if ndc.X < -p.GuardBand || ndc.X > p.GuardBand || ndc.Y < -p.GuardBand || ndc.Y > p.GuardBand {
			return pView, false
		}
	}
	return pView, true
}

// ndc returns the normalized device coordinates of mean and the clip w.
func (p *Params) ndc(mean geom.Vec3) (geom.Vec3, geom.Vec4) {
	hom := p.Proj.TransformPoint4x4(mean)
	w := 1 / (hom.W + 1e-7)
	return geom.V3(hom.X*w, hom.Y*w, hom.Z*w), hom
}

// NDCToPixel maps an NDC coordinate to a pixel coordinate along an axis of
// size s.
func NDCToPixel(v float32, s int) float32 {
	return ((v+1)*float32(s) - 1) * 0.5
}

// Cov3D returns R·diag(mod·s)²·Rᵀ for the normalized rotation of q.
func Cov3D(scale geom.Vec3, mod float32, q geom.Quat) geom.Sym3 {
	m := rotScale(scale, mod, q.Normalize())
	return geom.SymOf(m.Mul(m.Transpose()))
}

// rotScale returns R·S.
func rotScale(scale geom.Vec3, mod float32, q geom.Quat) geom.Mat3 {
	r := q.Rotation()
	sx, sy, sz := mod*scale.X, mod*scale.Y, mod*scale.Z
	return geom.Mat3{
		r[0] * sx, r[1] * sy, r[2] * sz,
		r[3] * sx, r[4] * sy, r[5] * sz,
		r[6] * sx, r[7] * sy, r[8] * sz,
	}
}

// jacobian holds the rows of the view rotation composed with the
// perspective Jacobian, plus what backward needs to differentiate them.
type jacobian struct {
	t        geom.Vec3 // view-space mean, lateral part clamped
	clampX   bool
	clampY   bool
	fx, fy   float32
	m0, m1   geom.Vec3 // Wᵀ·j0, Wᵀ·j1
	rotation geom.Mat3 // W
}

func (p *Params) jacobianAt(mean geom.Vec3) jacobian {
	fx, fy := p.Focal()
	t := p.View.TransformPoint4x3(mean)
	limX, limY := tanClamp*p.TanFovX, tanClamp*p.TanFovY
	txtz, tytz := t.X/t.Z, t.Y/t.Z
	jac := jacobian{fx: fx, fy: fy, rotation: p.View.Rotation()}
	jac.clampX = txtz < -limX || txtz > limX
	jac.clampY = tytz < -limY || tytz > limY
	t.X = geom.Clamp(txtz, -limX, limX) * t.Z
	t.Y = geom.Clamp(tytz, -limY, limY) * t.Z
	jac.t = t

	j0 := geom.V3(fx/t.Z, 0, -fx*t.X/(t.Z*t.Z))
	j1 := geom.V3(0, fy/t.Z, -fy*t.Y/(t.Z*t.Z))
	wt := jac.rotation.Transpose()
	jac.m0 = wt.MulVec(j0)
	jac.m1 = wt.MulVec(j1)
	return jac
}

// quad returns uᵀ·S·v.
func quad(s geom.Sym3, u, v geom.Vec3) float32 {
	return u.Dot(s.Full().MulVec(v))
}

// cov2D returns the blurred 2D covariance (a, b, c) of a Gaussian.
func (p *Params) cov2D(mean geom.Vec3, cov geom.Sym3) (a, b, c float32, jac jacobian) {
	jac = p.jacobianAt(mean)
	a = quad(cov, jac.m0, jac.m0) + covBlur
	b = quad(cov, jac.m0, jac.m1)
	c = quad(cov, jac.m1, jac.m1) + covBlur
	return a, b, c, jac
}

// normalAxis returns the index of the smallest scale, first on ties.
func normalAxis(s geom.Vec3) int {
	axis, v := 0, s.X
	if s.Y < v {
		axis, v = 1, s.Y
	}
	if s.Z < v {
		axis = 2
	}
	return axis
}

// normal returns the camera-space normal of a flat Gaussian and the sign
// applied to face the camera.
func (p *Params) normal(scale geom.Vec3, q geom.Quat, pView geom.Vec3) (geom.Vec3, float32) {
	n := q.Normalize().Rotation().Col(normalAxis(scale))
	nCam := p.View.Rotation().MulVec(n)
	if nCam.Dot(pView) > 0 {
		return nCam.Scale(-1), -1
	}
	return nCam, 1
}
