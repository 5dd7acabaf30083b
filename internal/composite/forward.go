// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package composite alpha-blends depth-sorted Gaussians per pixel and
// replays the blend in reverse to produce gradients.
//
// Work is split by tile: every tile is independent, and within a tile the
// pixels walk the same Gaussian list. Per-Gaussian outputs written by many
// pixels at once (contribution statistics, gradients) use atomic float
// adds.
package composite

import (
	"github.com/gogpu/gsplat/internal/binning"
	"github.com/gogpu/gsplat/internal/geom"
	"github.com/gogpu/gsplat/internal/parallel"
)

const (
	// MaxAlpha caps per-Gaussian alpha so that 1-α stays invertible.
	MaxAlpha = 0.99
	// MinAlpha is the smallest alpha that contributes.
	MinAlpha = 1.0 / 255
	// MinTransmittance ends a pixel's walk.
	MinTransmittance = 1e-4
)

// Scene is the sorted, projected input shared by both passes.
type Scene struct {
	Width, Height int
	Grid          binning.Grid
	Ranges        []uint32 // 2 per tile
	PointList     []uint32

	Means2D      []float32 // 2 per Gaussian, pixels
	ConicOpacity []float32 // 4 per Gaussian
	Colors       []float32 // 3 per Gaussian
	Depths       []float32 // per Gaussian; only read with rich output
	Normals      []float32 // 3 per Gaussian; nil without rich output
	Background   [3]float32
}

// ForwardOut receives the forward results. Depth, Normal, ContribSum and
// ContribMax are nil unless rich output was requested. ContribSum and
// ContribMax must be zeroed by the caller.
type ForwardOut struct {
	Color    []float32 // 3×H×W planar
	FinalT   []float32 // H×W
	NContrib []uint32  // H×W

	Depth      []float32 // H×W
	Normal     []float32 // 3×H×W planar
	ContribSum []float32 // per Gaussian
	ContribMax []float32 // per Gaussian
}

// Forward composites every tile of s into out.
func Forward(pool *parallel.WorkerPool, s *Scene, out *ForwardOut) {
	tiles := s.Grid.Tiles()
	pool.For(tiles, 1, func(lo, hi int) {
		for tile := lo; tile < hi; tile++ {
			forwardTile(s, out, tile)
		}
	})
}

// pixelRect returns the pixel bounds of a tile clipped to the image.
func (s *Scene) pixelRect(tile int) (x0, y0, x1, y1 int) {
	tx, ty := tile%s.Grid.X, tile/s.Grid.X
	x0, y0 = tx*binning.TileSize, ty*binning.TileSize
	return x0, y0, min(x0+binning.TileSize, s.Width), min(y0+binning.TileSize, s.Height)
}

// weightAt evaluates Gaussian id at pixel (px, py): the exponent of the
// conic quadratic form and the offset from the pixel to the mean.
func (s *Scene) weightAt(id uint32, px, py float32) (power, dx, dy float32) {
	dx = s.Means2D[2*id] - px
	dy = s.Means2D[2*id+1] - py
	co := s.ConicOpacity[4*id : 4*id+4]
	power = -0.5*(co[0]*dx*dx+co[2]*dy*dy) - co[1]*dx*dy
	return power, dx, dy
}

func forwardTile(s *Scene, out *ForwardOut, tile int) {
	start, end := s.Ranges[2*tile], s.Ranges[2*tile+1]
	x0, y0, x1, y1 := s.pixelRect(tile)
	plane := s.Width * s.Height
	rich := out.Depth != nil

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			pix := y*s.Width + x
			px, py := float32(x), float32(y)

			t := float32(1)
			var c, n [3]float32
			var d float32
			var last, contributor uint32

			for j := start; j < end; j++ {
				contributor++
				id := s.PointList[j]
				power, _, _ := s.weightAt(id, px, py)
				if power > 0 {
					continue
				}
				alpha := min(MaxAlpha, s.ConicOpacity[4*id+3]*geom.Exp(power))
				if alpha < MinAlpha {
					continue
				}
				testT := t * (1 - alpha)
				if testT < MinTransmittance {
					break
				}
				w := alpha * t
				for ch := range 3 {
					c[ch] += s.Colors[3*id+uint32(ch)] * w
				}
				if rich {
					d += s.Depths[id] * w
					if s.Normals != nil {
						for ch := range 3 {
							n[ch] += s.Normals[3*id+uint32(ch)] * w
						}
					}
					addFloat32(&out.ContribSum[id], w)
					maxFloat32(&out.ContribMax[id], w)
				}
				t = testT
				last = contributor
			}

			out.FinalT[pix] = t
			out.NContrib[pix] = last
			for ch := range 3 {
				out.Color[ch*plane+pix] = c[ch] + t*s.Background[ch]
			}
			if rich {
				out.Depth[pix] = d
				for ch := range 3 {
					out.Normal[ch*plane+pix] = n[ch]
				}
			}
		}
	}
}
