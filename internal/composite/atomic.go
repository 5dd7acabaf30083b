// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package composite

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// addFloat32 atomically adds v to *addr.
func addFloat32(addr *float32, v float32) {
	if v == 0 {
		return
	}
	p := (*uint32)(unsafe.Pointer(addr)) //nolint:gosec // float32 and uint32 share size and alignment
	for {
		old := atomic.LoadUint32(p)
		next := math.Float32bits(math.Float32frombits(old) + v)
		if atomic.CompareAndSwapUint32(p, old, next) {
			return
		}
	}
}

// maxFloat32 atomically raises *addr to v.
func maxFloat32(addr *float32, v float32) {
	p := (*uint32)(unsafe.Pointer(addr)) //nolint:gosec // float32 and uint32 share size and alignment
	for {
		old := atomic.LoadUint32(p)
		if math.Float32frombits(old) >= v {
			return
		}
		if atomic.CompareAndSwapUint32(p, old, math.Float32bits(v)) {
			return
		}
	}
}
