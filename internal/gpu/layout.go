// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/gsplat"
	"github.com/gogpu/gsplat/internal/binning"
)

// Byte layouts shared with shaders/*.wgsl. All words are little-endian.
const (
	cameraUniformSize = 176 // struct Camera in preprocess.wgsl
	frameUniformSize  = 32  // struct Frame in composite.wgsl

	preprocessStride = 8  // words per Gaussian in the preprocess output
	splatStride      = 12 // words per Gaussian in the composite input

	// minBufferSize keeps zero-length jobs bindable.
	minBufferSize = 16

	preprocessWorkgroup = 256
)

func putF32(b []byte, word int, v float32) {
	binary.LittleEndian.PutUint32(b[word*4:], math.Float32bits(v))
}

func putU32(b []byte, word int, v uint32) {
	binary.LittleEndian.PutUint32(b[word*4:], v)
}

func getF32(b []byte, word int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[word*4:]))
}

func getU32(b []byte, word int) uint32 {
	return binary.LittleEndian.Uint32(b[word*4:])
}

// bufferSize rounds n bytes up to a bindable size.
func bufferSize(n int) uint64 {
	if n < minBufferSize {
		n = minBufferSize
	}
	return uint64((n + 3) &^ 3) //nolint:gosec // n is non-negative
}

// floatBytes serializes v into a buffer of bufferSize(4*len(v)) bytes.
func floatBytes(v []float32) []byte {
	b := make([]byte, bufferSize(4*len(v)))
	for i, f := range v {
		putF32(b, i, f)
	}
	return b
}

// uintBytes serializes v into a buffer of bufferSize(4*len(v)) bytes.
func uintBytes(v []uint32) []byte {
	b := make([]byte, bufferSize(4*len(v)))
	for i, u := range v {
		putU32(b, i, u)
	}
	return b
}

// packCamera writes the preprocess uniform. cam carries a resolved near
// plane.
func packCamera(cam *gsplat.Camera, count int) []byte {
	b := make([]byte, cameraUniformSize)
	for i, v := range cam.View {
		putF32(b, i, v)
	}
	for i, v := range cam.Proj {
		putF32(b, 16+i, v)
	}
	grid := binning.NewGrid(cam.Width, cam.Height)
	putF32(b, 32, cam.TanFovX)
	putF32(b, 33, cam.TanFovY)
	putF32(b, 34, float32(cam.Width)/(2*cam.TanFovX))
	putF32(b, 35, float32(cam.Height)/(2*cam.TanFovY))
	putU32(b, 36, uint32(cam.Width))  //nolint:gosec // validated positive
	putU32(b, 37, uint32(cam.Height)) //nolint:gosec // validated positive
	putU32(b, 38, uint32(grid.X))     //nolint:gosec // validated positive
	putU32(b, 39, uint32(grid.Y))     //nolint:gosec // validated positive
	putF32(b, 40, cam.NearPlane)
	putF32(b, 41, cam.GuardBand)
	putU32(b, 42, uint32(count)) //nolint:gosec // bounded by the storage limit
	return b
}

// unpackPreprocess copies the kernel output into the job. Culled
// Gaussians get radius 0 and no tiles; their other outputs are left as is.
func unpackPreprocess(raw []byte, job *gsplat.PreprocessJob) {
	for i := range job.Count {
		base := i * preprocessStride
		radius := int32(getU32(raw, base+6)) //nolint:gosec // i32 bit pattern
		if radius <= 0 {
			job.Radii[i], job.TilesTouched[i] = 0, 0
			continue
		}
		job.Means2D[2*i] = getF32(raw, base)
		job.Means2D[2*i+1] = getF32(raw, base+1)
		job.Depths[i] = getF32(raw, base+2)
		job.ConicOpacity[4*i] = getF32(raw, base+3)
		job.ConicOpacity[4*i+1] = getF32(raw, base+4)
		job.ConicOpacity[4*i+2] = getF32(raw, base+5)
		job.Radii[i] = radius
		job.TilesTouched[i] = getU32(raw, base+7)
	}
}

// packFrame writes the composite uniform.
func packFrame(job *gsplat.CompositeJob) []byte {
	b := make([]byte, frameUniformSize)
	grid := binning.NewGrid(job.Width, job.Height)
	putU32(b, 0, uint32(job.Width))  //nolint:gosec // validated positive
	putU32(b, 1, uint32(job.Height)) //nolint:gosec // validated positive
	putU32(b, 2, uint32(grid.X))     //nolint:gosec // validated positive
	putU32(b, 3, uint32(grid.Y))     //nolint:gosec // validated positive
	for c, v := range job.Background {
		putF32(b, 4+c, v)
	}
	return b
}

// packSplats interleaves the per-Gaussian composite inputs.
func packSplats(job *gsplat.CompositeJob) []byte {
	n := len(job.Depths)
	b := make([]byte, bufferSize(4*splatStride*n))
	for i := range n {
		base := i * splatStride
		putF32(b, base, job.Means2D[2*i])
		putF32(b, base+1, job.Means2D[2*i+1])
		for k := range 4 {
			putF32(b, base+2+k, job.ConicOpacity[4*i+k])
		}
		for c := range 3 {
			putF32(b, base+6+c, job.Colors[3*i+c])
		}
	}
	return b
}

// compositeOutputWords is the size of the composite output buffer in words.
func compositeOutputWords(w, h int) int {
	return 5 * w * h
}

// unpackComposite copies the kernel output into the job.
func unpackComposite(raw []byte, job *gsplat.CompositeJob) {
	plane := job.Width * job.Height
	for i := range 3 * plane {
		job.Color[i] = getF32(raw, i)
	}
	for i := range plane {
		job.FinalT[i] = getF32(raw, 3*plane+i)
		job.NContrib[i] = getU32(raw, 4*plane+i)
	}
}
