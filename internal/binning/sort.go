// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package binning

import "github.com/gogpu/gsplat/internal/parallel"

const (
	radixBits = 8
	radixSize = 1 << radixBits
)

// SortPairs sorts keysIn/valsIn by the low keyBits bits of the key and
// leaves the result in keysOut/valsOut. keysIn and valsIn are used as
// scratch and hold garbage afterwards.
//
// The sort is a stable LSD radix sort, so pairs with equal keys keep their
// input order. Every pass is split into chunks: each chunk builds a digit
// histogram, the histograms are scanned digit-major then chunk-major, and
// each chunk scatters its elements in order.
func SortPairs(pool *parallel.WorkerPool, keysIn []uint64, valsIn []uint32, keysOut []uint64, valsOut []uint32, keyBits int) {
	n := len(keysIn)
	if n == 0 {
		return
	}
	passes := (keyBits + radixBits - 1) / radixBits

	srcK, srcV, dstK, dstV := keysIn, valsIn, keysOut, valsOut
	if passes%2 == 0 {
		// An even pass count ends where it starts.
		copy(keysOut, keysIn)
		copy(valsOut, valsIn)
		srcK, srcV, dstK, dstV = keysOut, valsOut, keysIn, valsIn
	}

	grain := pool.Grain(n, 1<<14)
	chunks := (n + grain - 1) / grain
	hist := make([][radixSize]uint32, chunks)

	for pass := range passes {
		shift := uint(pass * radixBits)

		pool.For(chunks, 1, func(lo, hi int) {
			for c := lo; c < hi; c++ {
				h := &hist[c]
				*h = [radixSize]uint32{}
				for _, k := range srcK[c*grain : min((c+1)*grain, n)] {
					h[(k>>shift)&(radixSize-1)]++
				}
			}
		})

		var off uint32
		for d := range radixSize {
			for c := range chunks {
				cnt := hist[c][d]
				hist[c][d] = off
				off += cnt
			}
		}

		pool.For(chunks, 1, func(lo, hi int) {
			for c := lo; c < hi; c++ {
				h := &hist[c]
				end := min((c+1)*grain, n)
				for i := c * grain; i < end; i++ {
					k := srcK[i]
					d := (k >> shift) & (radixSize - 1)
					dst := h[d]
					h[d]++
					dstK[dst] = k
					dstV[dst] = srcV[i]
				}
			}
		})

		srcK, dstK = dstK, srcK
		srcV, dstV = dstV, srcV
	}
}
