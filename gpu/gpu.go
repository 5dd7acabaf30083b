//go:build !nogpu

// Package gpu registers the wgpu compute accelerator for the projection
// and forward blend stages.
//
// If GPU initialization fails (no Vulkan device available), the
// accelerator stays registered and every job falls back to the CPU.
//
// Usage:
//
//	import _ "github.com/gogpu/gsplat/gpu" // enable GPU acceleration
package gpu

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gsplat"
	gpuimpl "github.com/gogpu/gsplat/internal/gpu"
)

func init() {
	accel := &gpuimpl.SplatAccelerator{}
	if err := gsplat.RegisterAccelerator(accel); err != nil {
		gsplat.Logger().Warn("GPU accelerator not available", "err", err)
	}
}

// SetDeviceProvider configures the GPU accelerator to use a shared GPU
// device from an external provider (e.g., gogpu). Its Device and Queue
// must be wgpu/hal values; software adapters are refused.
//
// Call this before the first Forward, typically right after the host
// application has opened its device.
func SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	return gsplat.SetAcceleratorDeviceProvider(provider)
}
