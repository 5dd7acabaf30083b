package gsplat

import "github.com/gogpu/gsplat/internal/buffers"

// DefaultMemoryBudget is the largest single state buffer the default
// allocator hands out.
const DefaultMemoryBudget = 2 << 30

// Allocator returns a byte buffer of exactly size bytes for one of the
// saved forward states. Returning an error fails the call with
// ErrAllocation. The buffer need not be zeroed.
type Allocator func(size int) ([]byte, error)

// Option configures a Rasterizer during creation.
//
// Example:
//
//	r := gsplat.New(
//	    gsplat.WithWorkers(8),
//	    gsplat.WithMemoryBudget(512<<20),
//	)
type Option func(*options)

// options holds optional configuration for Rasterizer creation.
type options struct {
	workers     int
	alloc       Allocator
	budget      int64
	snapshotDir string
	noAccel     bool
	inference   bool
}

// defaultOptions returns the default rasterizer options.
func defaultOptions() options {
	return options{
		workers: 0, // GOMAXPROCS
		budget:  DefaultMemoryBudget,
	}
}

// WithWorkers sets the number of CPU workers. Zero or negative means
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithAllocator routes every saved-state allocation through alloc, e.g. to
// draw from a pool or device-visible memory. It overrides
// WithMemoryBudget.
func WithAllocator(alloc Allocator) Option {
	return func(o *options) {
		o.alloc = alloc
	}
}

// WithMemoryBudget caps each state buffer of the default allocator at
// bytes.
func WithMemoryBudget(bytes int64) Option {
	return func(o *options) {
		o.budget = bytes
	}
}

// WithDebugSnapshot makes every failing Forward or Backward write a
// snapshot of its inputs under dir for offline reproduction. See
// LoadSnapshot.
func WithDebugSnapshot(dir string) Option {
	return func(o *options) {
		o.snapshotDir = dir
	}
}

// WithoutAccelerator forces the CPU path even when a GPU accelerator is
// registered.
func WithoutAccelerator() Option {
	return func(o *options) {
		o.noAccel = true
	}
}

// WithInferenceOnly lets a registered accelerator run the forward blend.
// Its results cannot be differentiated: Backward replays the blend on the
// CPU and must make the same per-pixel decisions, which device math does
// not guarantee. Backward on such a result fails with ErrInferenceOnly.
func WithInferenceOnly() Option {
	return func(o *options) {
		o.inference = true
	}
}

func (o *options) allocator() buffers.Allocator {
	if o.alloc != nil {
		return buffers.Allocator(o.alloc)
	}
	return buffers.BudgetAllocator(o.budget)
}
