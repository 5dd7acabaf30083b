// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

// Package gpu implements gsplat.GPUAccelerator on top of gogpu/wgpu HAL
// compute pipelines (zero CGO).
//
// Two kernels are provided:
//
//   - preprocess: per-Gaussian frustum test, 2D covariance, conic, screen
//     radius and tile count (one invocation per Gaussian)
//   - composite: front-to-back alpha blending of the depth-sorted tile
//     lists (one 16×16 workgroup per tile)
//
// Sorting, binning, rich outputs and the whole backward pass stay on the
// CPU. Every job is synchronous: upload, dispatch, WaitIdle, map and copy
// back. Jobs the device cannot hold return gsplat.ErrFallbackToCPU.
//
// WGSL sources are compiled to SPIR-V with gogpu/naga. When naga rejects
// a kernel the WGSL text is handed to the backend as is.
package gpu
