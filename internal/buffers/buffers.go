// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package buffers defines the three saved states that bridge a forward
// render and its backward pass, and carves them out of caller-allocated
// byte chunks.
//
// Every state is sized exactly before allocation: the caller asks for
// GeometrySize / BinningSize / ImageSize, obtains one chunk of that many
// bytes from an Allocator, and the New* constructor slices the chunk into
// typed arrays. Nothing grows after creation.
package buffers

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrAllocation reports that a state chunk could not be obtained.
var ErrAllocation = errors.New("gsplat: buffer allocation failed")

// alignment of every carved array, matching typical GPU buffer offset
// requirements so the same chunk can be uploaded without repacking.
const alignment = 128

// Allocator returns a byte chunk of exactly size bytes.
type Allocator func(size int) ([]byte, error)

// BudgetAllocator returns an Allocator that serves chunks with make and
// refuses any request larger than budget bytes.
func BudgetAllocator(budget int64) Allocator {
	return func(size int) ([]byte, error) {
		if size < 0 || int64(size) > budget {
			return nil, fmt.Errorf("%w: %d bytes requested, budget %d", ErrAllocation, size, budget)
		}
		return make([]byte, size), nil
	}
}

// Obtain calls alloc and validates the chunk it returns.
func Obtain(alloc Allocator, size int) ([]byte, error) {
	chunk, err := alloc(size)
	if err != nil {
		if errors.Is(err, ErrAllocation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	if len(chunk) < size {
		return nil, fmt.Errorf("%w: allocator returned %d bytes, need %d", ErrAllocation, len(chunk), size)
	}
	return chunk, nil
}

// carver hands out aligned typed slices from a byte chunk. With a nil
// chunk it only measures.
type carver struct {
	chunk []byte
	off   int
}

func carve[T any](c *carver, n int) []T {
	if n == 0 {
		return nil
	}
	var zero T
	size := n * int(unsafe.Sizeof(zero))
	if c.chunk == nil {
		// Worst-case padding, since the chunk's base address is not known yet.
		c.off += size + alignment
		return nil
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(c.chunk)))
	start := alignUp(base+uintptr(c.off), alignment) - base
	c.off = int(start) + size
	return unsafe.Slice((*T)(unsafe.Pointer(&c.chunk[start])), n)
}

func alignUp(v, a uintptr) uintptr { return (v + a - 1) &^ (a - 1) }

// Geometry is the per-Gaussian projection state.
type Geometry struct {
	Count int

	Depths       []float32 // view-space z
	Clamped      []uint8   // bit c set when color channel c was clamped
	Radii        []int32   // screen radius in pixels, 0 when culled
	Means2D      []float32 // 2 per Gaussian, pixel coordinates
	Cov3D        []float32 // 6 per Gaussian
	ConicOpacity []float32 // 4 per Gaussian: conic (A, B, C) and opacity
	RGB          []float32 // 3 per Gaussian, resolved color
	Normals      []float32 // 3 per Gaussian, camera space (rich output only)
	TilesTouched []uint32
	ScanSum      []uint32 // inclusive prefix sum of TilesTouched
}

func (g *Geometry) layout(c *carver, n int, rich bool) {
	g.Count = n
	g.Depths = carve[float32](c, n)
	g.Clamped = carve[uint8](c, n)
	g.Radii = carve[int32](c, n)
	g.Means2D = carve[float32](c, 2*n)
	g.Cov3D = carve[float32](c, 6*n)
	g.ConicOpacity = carve[float32](c, 4*n)
	g.RGB = carve[float32](c, 3*n)
	if rich {
		g.Normals = carve[float32](c, 3*n)
	}
	g.TilesTouched = carve[uint32](c, n)
	g.ScanSum = carve[uint32](c, n)
}

// GeometrySize returns the chunk size needed for n Gaussians.
func GeometrySize(n int, rich bool) int {
	var c carver
	new(Geometry).layout(&c, n, rich)
	return c.off
}

// NewGeometry carves a Geometry for n Gaussians out of chunk.
func NewGeometry(chunk []byte, n int, rich bool) *Geometry {
	g := &Geometry{}
	g.layout(&carver{chunk: chunk}, n, rich)
	return g
}

// Binning is the sorted (tile, depth) key state, sized by the number of
// rendered (Gaussian, tile) pairs.
type Binning struct {
	Count int

	KeysUnsorted      []uint64
	PointListUnsorted []uint32
	Keys              []uint64
	PointList         []uint32
}

func (b *Binning) layout(c *carver, n int) {
	b.Count = n
	b.KeysUnsorted = carve[uint64](c, n)
	b.PointListUnsorted = carve[uint32](c, n)
	b.Keys = carve[uint64](c, n)
	b.PointList = carve[uint32](c, n)
}

// BinningSize returns the chunk size needed for n rendered pairs.
func BinningSize(n int) int {
	var c carver
	new(Binning).layout(&c, n)
	return c.off
}

// NewBinning carves a Binning for n rendered pairs out of chunk.
func NewBinning(chunk []byte, n int) *Binning {
	b := &Binning{}
	b.layout(&carver{chunk: chunk}, n)
	return b
}

// Image is the per-pixel state plus the per-tile ranges.
type Image struct {
	Width, Height int
	Tiles         int

	Ranges   []uint32  // 2 per tile: [start, end)
	FinalT   []float32 // transmittance after the last contributor
	NContrib []uint32  // last contributor, 1-based within the tile range
	Linear   []float32 // 3 per pixel, pre-gamma color (gamma only)
}

func (im *Image) layout(c *carver, w, h, tiles int, linear bool) {
	im.Width, im.Height, im.Tiles = w, h, tiles
	im.Ranges = carve[uint32](c, 2*tiles)
	im.FinalT = carve[float32](c, w*h)
	im.NContrib = carve[uint32](c, w*h)
	if linear {
		im.Linear = carve[float32](c, 3*w*h)
	}
}

// ImageSize returns the chunk size needed for a w×h image with tiles tiles.
func ImageSize(w, h, tiles int, linear bool) int {
	var c carver
	new(Image).layout(&c, w, h, tiles, linear)
	return c.off
}

// NewImage carves an Image out of chunk.
func NewImage(chunk []byte, w, h, tiles int, linear bool) *Image {
	im := &Image{}
	im.layout(&carver{chunk: chunk}, w, h, tiles, linear)
	return im
}
