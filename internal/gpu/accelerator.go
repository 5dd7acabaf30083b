// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/gsplat"
	"github.com/gogpu/gsplat/internal/binning"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// kernel is one compute pipeline with its layouts.
type kernel struct {
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

// SplatAccelerator runs the projection and forward blend stages on a
// wgpu/hal device. It implements gsplat.GPUAccelerator.
//
// Jobs are serialized by a mutex; each one uploads its inputs, dispatches
// a single compute pass and blocks until the results are read back.
type SplatAccelerator struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	limits   gputypes.Limits

	preprocess kernel
	composite  kernel

	gpuReady       bool
	externalDevice bool // true when using shared device (don't destroy on Close)
}

var _ gsplat.GPUAccelerator = (*SplatAccelerator)(nil)

func (a *SplatAccelerator) Name() string { return acceleratorName }

func (a *SplatAccelerator) CanAccelerate(op gsplat.AcceleratedOp) bool {
	return op&(gsplat.AccelPreprocess|gsplat.AccelComposite) != 0
}

// SetLogger routes internal/gpu logging through l.
func (a *SplatAccelerator) SetLogger(l *slog.Logger) { setLogger(l) }

// Init opens a Vulkan device. A machine without one keeps the accelerator
// registered: every job then reports gsplat.ErrFallbackToCPU.
func (a *SplatAccelerator) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.initGPU(); err != nil {
		slogger().Warn("gpu: init failed, using CPU fallback", "err", err)
	}
	return nil
}

func (a *SplatAccelerator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked()
}

func (a *SplatAccelerator) releaseLocked() {
	a.destroyPipelines()
	if !a.externalDevice {
		if a.device != nil {
			a.device.Destroy()
		}
		if a.instance != nil {
			a.instance.Destroy()
		}
	}
	a.device = nil
	a.instance = nil
	a.queue = nil
	a.gpuReady = false
	a.externalDevice = false
}

// Ready reports whether jobs run on a device.
func (a *SplatAccelerator) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gpuReady
}

// SetDeviceProvider switches the accelerator to a shared GPU device. The
// provider either exposes HalDevice() any and HalQueue() any, or is a
// gpucontext.DeviceProvider whose Device and Queue are hal types.
// Software adapters are refused: the CPU path is faster than emulated
// compute.
func (a *SplatAccelerator) SetDeviceProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	var dev, q any
	switch p := provider.(type) {
	case halProvider:
		dev, q = p.HalDevice(), p.HalQueue()
	case gpucontext.DeviceProvider:
		if p.AdapterInfo().Type == gpucontext.AdapterTypeSoftware {
			return fmt.Errorf("gpu: refusing software adapter %q", p.AdapterInfo().Name)
		}
		dev, q = p.Device(), p.Queue()
	default:
		return fmt.Errorf("gpu: provider %T does not expose HAL types", provider)
	}
	device, ok := dev.(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("gpu: provider device %T is not hal.Device", dev)
	}
	queue, ok := q.(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("gpu: provider queue %T is not hal.Queue", q)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked()
	if err := a.initWith(device, queue, gputypes.DefaultLimits()); err != nil {
		return fmt.Errorf("gpu: create pipelines with shared device: %w", err)
	}
	a.externalDevice = true
	slogger().Info("gpu: switched to shared GPU device")
	return nil
}

func (a *SplatAccelerator) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	a.instance = instance
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	if err := a.initWith(openDev.Device, openDev.Queue, limits); err != nil {
		openDev.Device.Destroy()
		return err
	}
	slogger().Info("gpu: accelerator initialized", "adapter", selected.Info.Name)
	return nil
}

// initWith builds both pipelines on device. On failure the accelerator
// holds no device.
func (a *SplatAccelerator) initWith(device hal.Device, queue hal.Queue, limits gputypes.Limits) error {
	a.device = device
	a.queue = queue
	a.limits = limits
	if err := a.createPipelines(); err != nil {
		a.destroyPipelines()
		a.device = nil
		a.queue = nil
		return fmt.Errorf("create pipelines: %w", err)
	}
	a.gpuReady = true
	return nil
}

func (a *SplatAccelerator) createPipelines() error {
	var err error
	a.preprocess, err = a.createKernel("splat_preprocess", preprocessShaderWGSL,
		gputypes.BufferBindingTypeUniform,
		gputypes.BufferBindingTypeReadOnlyStorage,
		gputypes.BufferBindingTypeReadOnlyStorage,
		gputypes.BufferBindingTypeStorage,
	)
	if err != nil {
		return err
	}
	a.composite, err = a.createKernel("splat_composite", compositeShaderWGSL,
		gputypes.BufferBindingTypeUniform,
		gputypes.BufferBindingTypeReadOnlyStorage,
		gputypes.BufferBindingTypeReadOnlyStorage,
		gputypes.BufferBindingTypeReadOnlyStorage,
		gputypes.BufferBindingTypeStorage,
	)
	return err
}

// createKernel builds a pipeline whose bindings are all buffers, numbered
// in the order given.
func (a *SplatAccelerator) createKernel(label, src string, bindings ...gputypes.BufferBindingType) (kernel, error) {
	var k kernel
	shader, err := a.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: shaderSource(label, src),
	})
	if err != nil {
		return k, fmt.Errorf("compile %s shader: %w", label, err)
	}
	k.shader = shader

	entries := make([]gputypes.BindGroupLayoutEntry, len(bindings))
	for i, typ := range bindings {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // a handful of bindings
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		}
	}
	k.bindLayout, err = a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: label + "_bind_layout", Entries: entries,
	})
	if err != nil {
		a.destroyKernel(&k)
		return kernel{}, fmt.Errorf("create %s bind group layout: %w", label, err)
	}

	k.pipeLayout, err = a.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: label + "_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{k.bindLayout},
	})
	if err != nil {
		a.destroyKernel(&k)
		return kernel{}, fmt.Errorf("create %s pipeline layout: %w", label, err)
	}

	k.pipeline, err = a.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: label + "_pipeline", Layout: k.pipeLayout,
		Compute: hal.ComputeState{Module: k.shader, EntryPoint: "main"},
	})
	if err != nil {
		a.destroyKernel(&k)
		return kernel{}, fmt.Errorf("create %s compute pipeline: %w", label, err)
	}
	return k, nil
}

func (a *SplatAccelerator) destroyKernel(k *kernel) {
	if k.pipeline != nil {
		a.device.DestroyComputePipeline(k.pipeline)
	}
	if k.pipeLayout != nil {
		a.device.DestroyPipelineLayout(k.pipeLayout)
	}
	if k.bindLayout != nil {
		a.device.DestroyBindGroupLayout(k.bindLayout)
	}
	if k.shader != nil {
		a.device.DestroyShaderModule(k.shader)
	}
	*k = kernel{}
}

func (a *SplatAccelerator) destroyPipelines() {
	if a.device == nil {
		return
	}
	a.destroyKernel(&a.preprocess)
	a.destroyKernel(&a.composite)
}

// Preprocess projects every Gaussian of the job on the device.
func (a *SplatAccelerator) Preprocess(job *gsplat.PreprocessJob) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.gpuReady {
		return gsplat.ErrFallbackToCPU
	}
	if job.Count == 0 {
		return nil
	}
	groups := (job.Count + preprocessWorkgroup - 1) / preprocessWorkgroup
	if groups > int(a.limits.MaxComputeWorkgroupsPerDimension) {
		return gsplat.ErrFallbackToCPU
	}

	out, err := a.dispatch(&a.preprocess, "splat_preprocess",
		[][]byte{
			packCamera(job.Camera, job.Count),
			floatBytes(job.Means[:3*job.Count]),
			floatBytes(job.Cov3D[:6*job.Count]),
		},
		preprocessStride*job.Count,
		[3]uint32{uint32(groups), 1, 1}, //nolint:gosec // bounded by the workgroup limit
	)
	if err != nil {
		return err
	}
	unpackPreprocess(out, job)
	return nil
}

// Composite blends the sorted tile lists of the job on the device.
func (a *SplatAccelerator) Composite(job *gsplat.CompositeJob) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.gpuReady {
		return gsplat.ErrFallbackToCPU
	}
	grid := binning.NewGrid(job.Width, job.Height)
	maxGroups := int(a.limits.MaxComputeWorkgroupsPerDimension)
	if grid.X > maxGroups || grid.Y > maxGroups {
		return gsplat.ErrFallbackToCPU
	}

	out, err := a.dispatch(&a.composite, "splat_composite",
		[][]byte{
			packFrame(job),
			uintBytes(job.Ranges[:2*grid.Tiles()]),
			uintBytes(job.PointList),
			packSplats(job),
		},
		compositeOutputWords(job.Width, job.Height),
		[3]uint32{uint32(grid.X), uint32(grid.Y), 1}, //nolint:gosec // bounded by the workgroup limit
	)
	if err != nil {
		return err
	}
	unpackComposite(out, job)
	return nil
}

// dispatch runs one compute pass of k. inputs[0] is the uniform, the rest
// are read-only storage bound in order; the read-write output of outWords
// words comes last and is returned.
func (a *SplatAccelerator) dispatch(k *kernel, label string, inputs [][]byte, outWords int, groups [3]uint32) ([]byte, error) {
	outSize := bufferSize(4 * outWords)
	for _, in := range inputs[1:] {
		if uint64(len(in)) > a.limits.MaxStorageBufferBindingSize {
			return nil, gsplat.ErrFallbackToCPU
		}
	}
	if outSize > a.limits.MaxStorageBufferBindingSize {
		return nil, gsplat.ErrFallbackToCPU
	}

	var owned []hal.Buffer
	defer func() {
		for _, b := range owned {
			a.device.DestroyBuffer(b)
		}
	}()
	create := func(name string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
		b, err := a.device.CreateBuffer(&hal.BufferDescriptor{Label: label + "_" + name, Size: size, Usage: usage})
		if err != nil {
			return nil, fmt.Errorf("create %s buffer: %w", name, err)
		}
		owned = append(owned, b)
		return b, nil
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(inputs)+1)
	for i, data := range inputs {
		usage := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
		name := fmt.Sprintf("input%d", i)
		if i == 0 {
			usage = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
			name = "params"
		}
		size := uint64(len(data))
		b, err := create(name, size, usage)
		if err != nil {
			return nil, err
		}
		if err := a.queue.WriteBuffer(b, 0, data); err != nil {
			return nil, fmt.Errorf("upload %s: %w", name, err)
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(i), //nolint:gosec // a handful of bindings
			Resource: gputypes.BufferBinding{Buffer: b.NativeHandle(), Offset: 0, Size: size},
		})
	}

	storageBuf, err := create("output", outSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	entries = append(entries, gputypes.BindGroupEntry{
		Binding:  uint32(len(inputs)), //nolint:gosec // a handful of bindings
		Resource: gputypes.BufferBinding{Buffer: storageBuf.NativeHandle(), Offset: 0, Size: outSize},
	})
	stagingBuf, err := create("staging", outSize, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}

	bg, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: label + "_bind", Layout: k.bindLayout, Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group: %w", err)
	}
	defer a.device.DestroyBindGroup(bg)

	if err := a.submit(k, label, bg, storageBuf, stagingBuf, outSize, groups); err != nil {
		return nil, err
	}
	return a.readback(stagingBuf, outSize)
}

func (a *SplatAccelerator) submit(k *kernel, label string, bg hal.BindGroup, storageBuf, stagingBuf hal.Buffer, size uint64, groups [3]uint32) error {
	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label + "_encoder"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label + "_pass"})
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(groups[0], groups[1], groups[2])
	pass.End()
	encoder.CopyBufferToBuffer(storageBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmdBuf)

	if _, err := a.queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := a.device.WaitIdle(); err != nil {
		return fmt.Errorf("wait for GPU: %w", err)
	}
	return nil
}

func (a *SplatAccelerator) readback(staging hal.Buffer, size uint64) ([]byte, error) {
	m, err := a.device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size)) //nolint:gosec // mapping covers size bytes
	if err := a.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("unmap staging buffer: %w", err)
	}
	return out, nil
}
