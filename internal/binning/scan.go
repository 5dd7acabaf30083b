// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package binning

import (
	"golang.org/x/exp/constraints"

	"github.com/gogpu/gsplat/internal/parallel"
)

// InclusiveScan writes the inclusive prefix sum of in to out and returns
// the total. The total is accumulated in 64 bits, so a caller can detect
// that out wrapped around.
//
// The scan runs in three phases like a GPU block scan: per-chunk totals,
// a serial scan over the chunk totals, then a per-chunk local scan seeded
// with the chunk's offset.
func InclusiveScan[T constraints.Unsigned](pool *parallel.WorkerPool, in, out []T) uint64 {
	n := len(in)
	if n == 0 {
		return 0
	}
	grain := pool.Grain(n, 4096)
	chunks := (n + grain - 1) / grain

	sums := make([]uint64, chunks)
	pool.For(chunks, 1, func(lo, hi int) {
		for c := lo; c < hi; c++ {
			var s uint64
			for _, v := range in[c*grain : min((c+1)*grain, n)] {
				s += uint64(v)
			}
			sums[c] = s
		}
	})

	var total uint64
	for c, s := range sums {
		sums[c] = total
		total += s
	}

	pool.For(chunks, 1, func(lo, hi int) {
		for c := lo; c < hi; c++ {
			acc := T(sums[c])
			end := min((c+1)*grain, n)
			for i := c * grain; i < end; i++ {
				acc += in[i]
				out[i] = acc
			}
		}
	})
	return total
}
