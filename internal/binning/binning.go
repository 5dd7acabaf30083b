// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package binning assigns projected Gaussians to screen tiles, sorts the
// resulting (tile, depth) keys and derives the per-tile ranges the
// compositors walk.
//
// The pipeline is count-then-fill: every projected Gaussian reports how
// many tiles it touches, an inclusive scan turns the counts into write
// offsets, and DuplicateWithKeys fills a key array sized exactly to the
// scan total.
package binning

import (
	"math"
	"math/bits"

	"github.com/gogpu/gsplat/internal/buffers"
	"github.com/gogpu/gsplat/internal/parallel"
)

// TileSize is the edge length of a square screen tile in pixels.
const TileSize = 16

// Grid is the tile grid covering an image.
type Grid struct {
	X, Y int
}

// NewGrid returns the grid covering a w×h image, rounding partial tiles up.
func NewGrid(w, h int) Grid {
	return Grid{
		X: (w + TileSize - 1) / TileSize,
		Y: (h + TileSize - 1) / TileSize,
	}
}

// Tiles returns the number of tiles in the grid.
func (g Grid) Tiles() int { return g.X * g.Y }

// KeyBits returns the number of low key bits that carry information:
// 32 depth bits plus enough bits for the largest tile index.
func (g Grid) KeyBits() int {
	return 32 + bits.Len(uint(g.Tiles()))
}

// Rect is a half-open rectangle of tiles.
type Rect struct {
	MinX, MinY, MaxX, MaxY int32
}

// Area returns the number of tiles in r.
func (r Rect) Area() int {
	if r.MaxX <= r.MinX || r.MaxY <= r.MinY {
		return 0
	}
	return int(r.MaxX-r.MinX) * int(r.MaxY-r.MinY)
}

// TileRect returns the tiles overlapped by the square of half-size radius
// centred at (px, py), clamped to g.
func TileRect(px, py float32, radius int32, g Grid) Rect {
	r := float32(radius)
	gx, gy := int32(g.X), int32(g.Y)
	return Rect{
		MinX: min(gx, max(0, int32((px-r)/TileSize))),
		MinY: min(gy, max(0, int32((py-r)/TileSize))),
		MaxX: min(gx, max(0, int32((px+r+TileSize-1)/TileSize))),
		MaxY: min(gy, max(0, int32((py+r+TileSize-1)/TileSize))),
	}
}

// Key packs a tile index and a positive view depth into a sort key. For
// positive floats the IEEE bit pattern orders like the value.
func Key(tile int, depth float32) uint64 {
	return uint64(tile)<<32 | uint64(math.Float32bits(depth))
}

// KeyTile extracts the tile index from a key.
func KeyTile(k uint64) int { return int(k >> 32) }

// DuplicateWithKeys emits one key per (Gaussian, tile) pair into
// bin.KeysUnsorted / bin.PointListUnsorted. Gaussian i writes at offset
// ScanSum[i-1], walking its tile rectangle row by row, so equal keys end up
// in Gaussian index order.
func DuplicateWithKeys(pool *parallel.WorkerPool, geo *buffers.Geometry, bin *buffers.Binning, g Grid) {
	pool.For(geo.Count, pool.Grain(geo.Count, 1024), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			radius := geo.Radii[i]
			if radius <= 0 {
				continue
			}
			var off uint32
			if i > 0 {
				off = geo.ScanSum[i-1]
			}
			rect := TileRect(geo.Means2D[2*i], geo.Means2D[2*i+1], radius, g)
			depth := geo.Depths[i]
			for y := rect.MinY; y < rect.MaxY; y++ {
				for x := rect.MinX; x < rect.MaxX; x++ {
					bin.KeysUnsorted[off] = Key(int(y)*g.X+int(x), depth)
					bin.PointListUnsorted[off] = uint32(i)
					off++
				}
			}
		}
	})
}

// IdentifyTileRanges writes [start, end) for every occupied tile into
// ranges (two entries per tile). Tiles with no keys are left as [0, 0).
func IdentifyTileRanges(pool *parallel.WorkerPool, keys []uint64, ranges []uint32) {
	// Chunks from a caller-supplied allocator are not guaranteed to be zeroed.
	clear(ranges)
	n := len(keys)
	pool.For(n, pool.Grain(n, 4096), func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			tile := KeyTile(keys[idx])
			if idx == 0 {
				ranges[2*tile] = 0
			} else if prev := KeyTile(keys[idx-1]); prev != tile {
				ranges[2*prev+1] = uint32(idx)
				ranges[2*tile] = uint32(idx)
			}
			if idx == n-1 {
				ranges[2*tile+1] = uint32(n)
			}
		}
	})
}
