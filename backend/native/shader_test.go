package native

import (
	"errors"
	"testing"

	"github.com/gogpu/gcompute/gpucore"
)

const spirvMagic = 0x07230203

const storeIndexSource = `
@group(0) @binding(0) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = id.x;
}
`

var computeDesc = gpucore.ComputePipelineDesc{
	Label:      "store_index",
	Source:     storeIndexSource,
	EntryPoint: "main",
	Bindings:   []gpucore.BindingLayout{{Slot: 0, Type: gpucore.BindingTypeStorage}},
}

func TestCompileWGSL(t *testing.T) {
	code, err := CompileWGSL(storeIndexSource)
	if err != nil {
		t.Fatalf("CompileWGSL: %v", err)
	}
	if len(code) < 5 || code[0] != spirvMagic {
		t.Fatalf("output does not start with the SPIR-V magic number: %x", code[:min(len(code), 5)])
	}
}

func TestCompileWGSLError(t *testing.T) {
	_, err := CompileWGSL("fn main( {")
	if !errors.Is(err, ErrShaderCompile) {
		t.Fatalf("CompileWGSL(invalid) = %v, want ErrShaderCompile", err)
	}
}

func TestSPIRVPipelineOnNoop(t *testing.T) {
	a := newTestAdapter(t, WithSPIRV(true))
	if _, err := a.CreateComputePipeline(&computeDesc); err != nil {
		t.Fatalf("CreateComputePipeline with SPIR-V: %v", err)
	}
	bad := computeDesc
	bad.Source = "not wgsl"
	if _, err := a.CreateComputePipeline(&bad); !errors.Is(err, ErrShaderCompile) {
		t.Errorf("invalid source = %v, want ErrShaderCompile", err)
	}
}
