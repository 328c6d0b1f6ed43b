package gcompute

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/gogpu/gcompute/gpucore"
	"github.com/gogpu/gcompute/internal/simgpu"
)

const doubleSource = `
@group(0) @binding(0) var<storage, read> src: array<u32>;
@group(0) @binding(1) var<storage, read_write> dst: array<u32>;

@compute @workgroup_size(64)
fn double(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x < arrayLength(&src)) {
        dst[id.x] = src[id.x] * 2u;
    }
}
`

// doubleKernel emulates doubleSource.
func doubleKernel(c *simgpu.Call) {
	src, dst := c.Buffer(0), c.Buffer(1)
	for i := 0; i+4 <= len(src) && i+4 <= len(dst); i += 4 {
		binary.LittleEndian.PutUint32(dst[i:], 2*binary.LittleEndian.Uint32(src[i:]))
	}
}

// incrementKernel adds one to every word of slot 0 and stores it in slot 1.
func incrementKernel(c *simgpu.Call) {
	src, dst := c.Buffer(0), c.Buffer(1)
	for i := 0; i+4 <= len(src); i += 4 {
		binary.LittleEndian.PutUint32(dst[i:], binary.LittleEndian.Uint32(src[i:])+1)
	}
}

var doubleLayout = []gpucore.BindingLayout{
	{Slot: 0, Type: gpucore.BindingTypeReadOnlyStorage},
	{Slot: 1, Type: gpucore.BindingTypeStorage},
}

func newTestEngine(t *testing.T, sim *simgpu.Adapter, opts ...Option) *Engine {
	t.Helper()
	sim.SetKernel("double", doubleKernel)
	sim.SetKernel("increment", incrementKernel)
	e, err := New(sim, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func mustPipeline(t *testing.T, e *Engine, entry string) PipelineHandle {
	t.Helper()
	h, err := e.CreatePipeline(PipelineDesc{
		Label:      entry,
		Source:     doubleSource,
		EntryPoint: entry,
		Bindings:   doubleLayout,
	})
	if err != nil {
		t.Fatalf("CreatePipeline(%s): %v", entry, err)
	}
	return h
}

func mustRegister(t *testing.T, s *BufferSet, name string, l Layout, u Usage) BufferHandle {
	t.Helper()
	h, err := s.Register(name, l, u)
	if err != nil {
		t.Fatalf("Register(%q): %v", name, err)
	}
	return h
}

func mustStart(t *testing.T, e *Engine, req StartRequest) RequestID {
	t.Helper()
	id, err := e.Start(req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return id
}

func mustTick(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

// inOut registers a host-writable input and a host-readable output of n words.
func inOut(t *testing.T, s *BufferSet, in, out string, n int) {
	t.Helper()
	mustRegister(t, s, in, Layout{Size: uint64(4 * n), Stride: 4}, UsageShaderRead|UsageHostWrite)
	mustRegister(t, s, out, Layout{Size: uint64(4 * n), Stride: 4}, UsageShaderWrite|UsageHostRead)
}

func doublePass(p PipelineHandle, in, out string) Pass {
	return Pass{
		Label:    "double " + in,
		Pipeline: p,
		Bindings: []Binding{
			{Buffer: in, Slot: 0, Mode: ModeRead},
			{Buffer: out, Slot: 1, Mode: ModeWrite},
		},
		Workgroups: [3]uint32{1, 1, 1},
	}
}

func words(vals ...uint32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func decode(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return out
}

// describe renders events compactly for order assertions.
func describe(evs []Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		switch ev := ev.(type) {
		case CopyEvent:
			out[i] = fmt.Sprintf("copy %d/%d %s", ev.RequestID, ev.GroupID, ev.Buffer)
		case GroupDoneEvent:
			if ev.Err != nil {
				out[i] = fmt.Sprintf("group %d/%d failed", ev.RequestID, ev.GroupID)
			} else {
				out[i] = fmt.Sprintf("group %d/%d", ev.RequestID, ev.GroupID)
			}
		case RequestDoneEvent:
			out[i] = fmt.Sprintf("request %d failed=%d", ev.RequestID, ev.Failed)
		}
	}
	return out
}

// mustPanicInvariant runs fn and checks that it panics with *InvariantError.
func mustPanicInvariant(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("%s: expected panic", op)
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrInvariant) {
			t.Fatalf("%s: panic value %v, want *InvariantError", op, r)
		}
		var ie *InvariantError
		if !errors.As(err, &ie) || ie.Op != op {
			t.Fatalf("%s: panic %v has wrong op", op, err)
		}
	}()
	fn()
}
