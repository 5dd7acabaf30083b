package gsplat

import (
	"errors"
	"sync"
)

// ErrFallbackToCPU indicates the GPU accelerator cannot handle this job.
// The rasterizer transparently runs the stage on the CPU instead.
var ErrFallbackToCPU = errors.New("gsplat: falling back to CPU rasterization")

// AcceleratedOp describes pipeline stages for GPU capability checking.
type AcceleratedOp uint32

const (
	// AccelPreprocess is the per-Gaussian projection stage.
	AccelPreprocess AcceleratedOp = 1 << iota

	// AccelComposite is the per-pixel forward blend.
	AccelComposite
)

// PreprocessJob is the projection stage of one forward call. The
// accelerator reads Means and Cov3D and writes the outputs for every
// Gaussian. Culled Gaussians get radius 0 and no tiles.
type PreprocessJob struct {
	Camera *Camera
	Count  int

	Means []float32 // 3 per Gaussian
	Cov3D []float32 // 6 per Gaussian

	Means2D      []float32 // out: 2 per Gaussian, pixels
	Depths       []float32 // out
	ConicOpacity []float32 // out: the first 3 of every 4 values
	Radii        []int32   // out
	TilesTouched []uint32  // out
}

// CompositeJob is the forward blend of one call, without rich output.
type CompositeJob struct {
	Width, Height int
	Background    [3]float32

	Ranges    []uint32 // 2 per 16×16 tile, row-major tiles
	PointList []uint32

	Means2D      []float32 // 2 per Gaussian, pixels
	ConicOpacity []float32 // 4 per Gaussian
	Colors       []float32 // 3 per Gaussian
	Depths       []float32

	Color    []float32 // out: 3×H×W planar
	FinalT   []float32 // out: H×W
	NContrib []uint32  // out: H×W
}

// GPUAccelerator is an optional GPU provider for the projection and blend
// stages. Sorting, binning and the whole backward pass stay on the CPU.
//
// Implementations are provided by GPU backend packages. Users opt in via
// blank import:
//
//	import _ "github.com/gogpu/gsplat/gpu" // enables GPU acceleration
type GPUAccelerator interface {
	// Name returns the accelerator name (e.g., "wgpu").
	Name() string

	// Init initializes GPU resources. Called once during registration.
	Init() error

	// Close releases GPU resources.
	Close()

	// CanAccelerate reports whether the accelerator supports the stage.
	CanAccelerate(op AcceleratedOp) bool

	// Preprocess runs the projection stage.
	// Returns ErrFallbackToCPU if the job cannot be GPU-accelerated.
	Preprocess(job *PreprocessJob) error

	// Composite runs the forward blend.
	// Returns ErrFallbackToCPU if the job cannot be GPU-accelerated.
	Composite(job *CompositeJob) error
}

// DeviceProviderAware is an optional interface for accelerators that can
// share a GPU device with an external provider. When SetDeviceProvider is
// called, the accelerator reuses the provided device instead of creating
// its own.
type DeviceProviderAware interface {
	SetDeviceProvider(provider any) error
}

var (
	accelMu sync.RWMutex
	accel   GPUAccelerator
)

// RegisterAccelerator registers a GPU accelerator.
//
// Only one accelerator can be registered. Subsequent calls replace the
// previous one. Init is called during registration; if it fails, the
// accelerator is not registered and the error is returned.
func RegisterAccelerator(a GPUAccelerator) error {
	if a == nil {
		return errors.New("gsplat: accelerator must not be nil")
	}
	if err := a.Init(); err != nil {
		return err
	}
	propagateLogger(a, Logger())
	accelMu.Lock()
	old := accel
	accel = a
	accelMu.Unlock()
	if old != nil {
		old.Close()
	}
	Logger().Info("gsplat: accelerator registered", "name", a.Name())
	return nil
}

// Accelerator returns the currently registered GPU accelerator, or nil.
func Accelerator() GPUAccelerator {
	accelMu.RLock()
	a := accel
	accelMu.RUnlock()
	return a
}

// SetAcceleratorDeviceProvider passes a device provider to the registered
// accelerator, enabling GPU device sharing. If no accelerator is registered
// or it does not support device sharing, this is a no-op.
//
// The provider should implement HalDevice() any and HalQueue() any methods
// that return wgpu/hal types.
func SetAcceleratorDeviceProvider(provider any) error {
	a := Accelerator()
	if a == nil {
		return nil
	}
	if dpa, ok := a.(DeviceProviderAware); ok {
		return dpa.SetDeviceProvider(provider)
	}
	return nil
}
