// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package project

import (
	"math"
	"sync/atomic"

	"github.com/gogpu/gsplat/internal/binning"
	"github.com/gogpu/gsplat/internal/buffers"
	"github.com/gogpu/gsplat/internal/geom"
	"github.com/gogpu/gsplat/internal/parallel"
	"github.com/gogpu/gsplat/internal/sh"
)

const minGrain = 256

// Covariances fills geo.Cov3D, either from the precomputed covariances or
// from scale and rotation.
func Covariances(pool *parallel.WorkerPool, p *Params, in *Inputs, geo *buffers.Geometry) {
	if in.Cov != nil {
		copy(geo.Cov3D, in.Cov[:6*in.Count])
		return
	}
	mod := p.ScaleModifier
	pool.For(in.Count, pool.Grain(in.Count, minGrain), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			c := Cov3D(geom.V3At(in.Scales, i), mod, geom.QuatAt(in.Rotations, i))
			copy(geo.Cov3D[6*i:6*i+6], c[:])
		}
	})
}

// Footprint is the screen-space projection of one Gaussian.
type Footprint struct {
	Mean2D [2]float32 // pixels
	Depth  float32
	Conic  [3]float32
	Radius int32
	Tiles  uint32
}

// ProjectOne projects a single Gaussian. ok is false when it is culled;
// inFrustum distinguishes a frustum cull from a degenerate footprint.
func (p *Params) ProjectOne(mean geom.Vec3, cov geom.Sym3, grid binning.Grid) (f Footprint, ok, inFrustum bool) {
	pView, visible := p.InFrustum(mean)
	if !visible {
		return f, false, false
	}
	a, b, c, _ := p.cov2D(mean, cov)
	det := a*c - b*b
	if det == 0 {
		return f, false, true
	}
	inv := 1 / det
	f.Conic = [3]float32{c * inv, -b * inv, a * inv}

	mid := 0.5 * (a + c)
	disc := geom.Sqrt(max(0.1, mid*mid-det))
	lambda := max(mid+disc, mid-disc)
	radius := int32(math.Ceil(float64(sigmas * geom.Sqrt(lambda))))

	ndc, _ := p.ndc(mean)
	f.Mean2D = [2]float32{NDCToPixel(ndc.X, p.Width), NDCToPixel(ndc.Y, p.Height)}
	area := binning.TileRect(f.Mean2D[0], f.Mean2D[1], radius, grid).Area()
	if area == 0 {
		return Footprint{}, false, true
	}
	f.Depth = pView.Z
	f.Radius = radius
	f.Tiles = uint32(area)
	return f, true, true
}

// Project fills the screen-space part of geo from geo.Cov3D. Culled
// Gaussians get radius 0 and touch no tiles.
func Project(pool *parallel.WorkerPool, p *Params, in *Inputs, geo *buffers.Geometry, grid binning.Grid) error {
	var violated atomic.Bool
	pool.For(in.Count, pool.Grain(in.Count, minGrain), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			f, ok, inFrustum := p.ProjectOne(geom.V3At(in.Means, i), geom.Sym3At(geo.Cov3D, i), grid)
			if !inFrustum && p.Prefiltered {
				violated.Store(true)
			}
			StoreFootprint(geo, i, f, ok)
			if ok && in.Opacities != nil {
				geo.ConicOpacity[4*i+3] = in.Opacities[i]
			}
		}
	})
	if violated.Load() {
		return ErrPrefilterViolation
	}
	return nil
}

// StoreFootprint writes f as Gaussian i of geo, or a culled entry.
func StoreFootprint(geo *buffers.Geometry, i int, f Footprint, ok bool) {
	if !ok {
		geo.Radii[i] = 0
		geo.TilesTouched[i] = 0
		return
	}
	geo.Radii[i] = f.Radius
	geo.TilesTouched[i] = f.Tiles
	geo.Depths[i] = f.Depth
	geo.Means2D[2*i], geo.Means2D[2*i+1] = f.Mean2D[0], f.Mean2D[1]
	copy(geo.ConicOpacity[4*i:4*i+3], f.Conic[:])
}

// CheckPrefiltered verifies the near-plane promise without projecting.
func CheckPrefiltered(pool *parallel.WorkerPool, p *Params, means []float32, n int) error {
	var violated atomic.Bool
	pool.For(n, pool.Grain(n, minGrain), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if _, ok := p.InFrustum(geom.V3At(means, i)); !ok {
				violated.Store(true)
				return
			}
		}
	})
	if violated.Load() {
		return ErrPrefilterViolation
	}
	return nil
}

// Shade resolves color, clamp flags and, with rich output, the
// camera-space normal of every visible Gaussian.
func Shade(pool *parallel.WorkerPool, p *Params, in *Inputs, geo *buffers.Geometry) {
	pool.For(in.Count, pool.Grain(in.Count, minGrain), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if geo.Radii[i] <= 0 {
				continue
			}
			mean := geom.V3At(in.Means, i)
			if in.SH != nil {
				rgb, clamped := sh.Eval(p.SHDegree, in.coeffs(i), mean.Sub(p.Position))
				rgb.Store(geo.RGB, i)
				var bits uint8
				for c, cl := range clamped {
					if cl {
						bits |= 1 << c
					}
				}
				geo.Clamped[i] = bits
			} else {
				copy(geo.RGB[3*i:3*i+3], in.Colors[3*i:3*i+3])
				geo.Clamped[i] = 0
			}

			if geo.Normals == nil {
				continue
			}
			var n geom.Vec3
			if in.Scales != nil {
				pView := p.View.TransformPoint4x3(mean)
				n, _ = p.normal(geom.V3At(in.Scales, i), geom.QuatAt(in.Rotations, i), pView)
			}
			n.Store(geo.Normals, i)
		}
	})
}

// ClampedChannels unpacks the clamp bits stored by Shade.
func ClampedChannels(bits uint8) [3]bool {
	return [3]bool{bits&1 != 0, bits&2 != 0, bits&4 != 0}
}
