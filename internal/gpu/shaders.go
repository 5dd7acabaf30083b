// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/preprocess.wgsl
var preprocessShaderWGSL string

//go:embed shaders/composite.wgsl
var compositeShaderWGSL string

// compileSPIRV compiles WGSL source to SPIR-V words.
func compileSPIRV(src string) ([]uint32, error) {
	raw, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("compile shader: SPIR-V size %d is not word aligned", len(raw))
	}
	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words, nil
}

// shaderSource returns SPIR-V when naga can lower the kernel and the WGSL
// text otherwise.
func shaderSource(label, src string) hal.ShaderSource {
	words, err := compileSPIRV(src)
	if err != nil {
		slogger().Debug("gpu: naga compile failed, passing WGSL through", "shader", label, "err", err)
		return hal.ShaderSource{WGSL: src}
	}
	return hal.ShaderSource{SPIRV: words}
}
