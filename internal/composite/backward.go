// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package composite

import (
	"github.com/gogpu/gsplat/internal/geom"
	"github.com/gogpu/gsplat/internal/parallel"
)

// PixelGrads are the incoming per-pixel gradients. Depth and Normal may be
// nil.
type PixelGrads struct {
	Color  []float32 // 3×H×W planar
	Depth  []float32 // H×W
	Normal []float32 // 3×H×W planar
}

// Saved is the per-pixel state the forward pass left behind.
type Saved struct {
	FinalT   []float32
	NContrib []uint32
}

// GaussianGrads receives the per-Gaussian gradients. All slices must be
// zeroed; Depths and Normals may be nil when the matching pixel gradients
// are nil.
type GaussianGrads struct {
	Means2D   []float32 // 2 per Gaussian, with respect to NDC
	Conic     []float32 // 3 per Gaussian
	Opacities []float32
	Colors    []float32 // 3 per Gaussian
	Depths    []float32
	Normals   []float32 // 3 per Gaussian
}

// Backward replays every pixel's forward walk back to front and
// accumulates per-Gaussian gradients into out.
func Backward(pool *parallel.WorkerPool, s *Scene, saved *Saved, dPix *PixelGrads, out *GaussianGrads) {
	tiles := s.Grid.Tiles()
	pool.For(tiles, 1, func(lo, hi int) {
		for tile := lo; tile < hi; tile++ {
			backwardTile(s, saved, dPix, out, tile)
		}
	})
}

func backwardTile(s *Scene, saved *Saved, dPix *PixelGrads, out *GaussianGrads, tile int) {
	start := int(s.Ranges[2*tile])
	x0, y0, x1, y1 := s.pixelRect(tile)
	plane := s.Width * s.Height
	halfW, halfH := 0.5*float32(s.Width), 0.5*float32(s.Height)
	withDepth := dPix.Depth != nil
	withNormal := dPix.Normal != nil && s.Normals != nil

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			pix := y*s.Width + x
			px, py := float32(x), float32(y)

			finalT := saved.FinalT[pix]
			t := finalT
			var g, gN [3]float32
			for ch := range 3 {
				g[ch] = dPix.Color[ch*plane+pix]
			}
			var gD float32
			if withDepth {
				gD = dPix.Depth[pix]
			}
			if withNormal {
				for ch := range 3 {
					gN[ch] = dPix.Normal[ch*plane+pix]
				}
			}
			bgDot := s.Background[0]*g[0] + s.Background[1]*g[1] + s.Background[2]*g[2]

			var accum, lastColor, accumN, lastNormal [3]float32
			var accumD, lastDepth, lastAlpha float32

			for j := start + int(saved.NContrib[pix]) - 1; j >= start; j-- {
				id := s.PointList[j]
				power, dx, dy := s.weightAt(id, px, py)
				if power > 0 {
					continue
				}
				co := s.ConicOpacity[4*id : 4*id+4]
				gauss := geom.Exp(power)
				alpha := min(MaxAlpha, co[3]*gauss)
				if alpha < MinAlpha {
					continue
				}
				t /= 1 - alpha
				w := alpha * t

				var dAlpha float32
				for ch := range 3 {
					c := s.Colors[3*int(id)+ch]
					accum[ch] = lastAlpha*lastColor[ch] + (1-lastAlpha)*accum[ch]
					lastColor[ch] = c
					dAlpha += (c - accum[ch]) * g[ch]
					addFloat32(&out.Colors[3*int(id)+ch], w*g[ch])
				}
				if withDepth {
					z := s.Depths[id]
					accumD = lastAlpha*lastDepth + (1-lastAlpha)*accumD
					lastDepth = z
					dAlpha += (z - accumD) * gD
					addFloat32(&out.Depths[id], w*gD)
				}
				if withNormal {
					for ch := range 3 {
						nv := s.Normals[3*int(id)+ch]
						accumN[ch] = lastAlpha*lastNormal[ch] + (1-lastAlpha)*accumN[ch]
						lastNormal[ch] = nv
						dAlpha += (nv - accumN[ch]) * gN[ch]
						addFloat32(&out.Normals[3*int(id)+ch], w*gN[ch])
					}
				}
				dAlpha *= t
				lastAlpha = alpha
				dAlpha += -finalT / (1 - alpha) * bgDot

				if co[3]*gauss > MaxAlpha {
					// Clamped alpha is flat in the Gaussian's parameters.
					continue
				}

				dG := co[3] * dAlpha
				gdx, gdy := gauss*dx, gauss*dy
				dGdx := -gdx*co[0] - gdy*co[1]
				dGdy := -gdy*co[2] - gdx*co[1]

				addFloat32(&out.Means2D[2*id], dG*dGdx*halfW)
				addFloat32(&out.Means2D[2*id+1], dG*dGdy*halfH)
				addFloat32(&out.Conic[3*id], -0.5*gdx*dx*dG)
				addFloat32(&out.Conic[3*id+1], -gdx*dy*dG)
				addFloat32(&out.Conic[3*id+2], -0.5*gdy*dy*dG)
				addFloat32(&out.Opacities[id], gauss*dAlpha)
			}
		}
	}
}
