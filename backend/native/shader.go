package native

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// CompileWGSL compiles WGSL source to SPIR-V words with naga.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShaderCompile, err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("%w: SPIR-V output is %d bytes", ErrShaderCompile, len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return code, nil
}

// computeResources holds the HAL objects behind one compute pipeline.
type computeResources struct {
	device hal.Device

	module     hal.ShaderModule
	bgLayout   hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	// slots are the binding numbers of bind group 0, sorted.
	slots []uint32
}

// destroy releases the resources in reverse creation order. Nil fields are
// skipped, so it is safe on a partially built pipeline.
func (r *computeResources) destroy() {
	if r.pipeline != nil {
		r.device.DestroyComputePipeline(r.pipeline)
		r.pipeline = nil
	}
	if r.pipeLayout != nil {
		r.device.DestroyPipelineLayout(r.pipeLayout)
		r.pipeLayout = nil
	}
	if r.bgLayout != nil {
		r.device.DestroyBindGroupLayout(r.bgLayout)
		r.bgLayout = nil
	}
	if r.module != nil {
		r.device.DestroyShaderModule(r.module)
		r.module = nil
	}
}
