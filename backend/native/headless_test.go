package native_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gcompute"
	"github.com/gogpu/gcompute/backend/native"
	"github.com/gogpu/gcompute/gpucore"
)

const copySource = `
@group(0) @binding(0) var<storage, read> src: array<u32>;
@group(0) @binding(1) var<storage, read_write> dst: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    dst[id.x] = src[id.x];
}
`

func TestNewNoop(t *testing.T) {
	a, err := native.NewNoop()
	if err != nil {
		t.Fatalf("NewNoop: %v", err)
	}
	defer a.Destroy()
	if got := a.Limits(); got.MaxBufferSize != 256<<20 || got.MaxComputeWorkgroupsPerDimension != 65535 {
		t.Errorf("Limits() = %+v", got)
	}
}

func TestNewHeadlessUnregistered(t *testing.T) {
	_, err := native.NewHeadless(gputypes.BackendBrowserWebGPU)
	if !errors.Is(err, native.ErrBackendUnavailable) {
		t.Fatalf("NewHeadless(BrowserWebGPU) = %v, want ErrBackendUnavailable", err)
	}
}

func TestNewFromProviderWithoutHAL(t *testing.T) {
	if _, err := native.NewFromProvider(nil); !errors.Is(err, native.ErrNoHALAccess) {
		t.Fatalf("NewFromProvider(nil) = %v, want ErrNoHALAccess", err)
	}
}

// The noop device completes work immediately but moves no data, so this
// checks the engine lifecycle rather than results.
func TestEngineOnNoopDevice(t *testing.T) {
	a, err := native.NewNoop()
	if err != nil {
		t.Fatalf("NewNoop: %v", err)
	}
	defer a.Destroy()

	e, err := gcompute.New(a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	p, err := e.CreatePipeline(gcompute.PipelineDesc{
		Label:      "copy",
		Source:     copySource,
		EntryPoint: "main",
		Bindings: []gpucore.BindingLayout{
			{Slot: 0, Type: gpucore.BindingTypeReadOnlyStorage},
			{Slot: 1, Type: gpucore.BindingTypeStorage},
		},
	})
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	set := e.NewBufferSet()
	defer set.Destroy()
	if _, err := set.Register("in", gcompute.Layout{Size: 64}, gcompute.UsageShaderRead|gcompute.UsageHostWrite); err != nil {
		t.Fatal(err)
	}
	if _, err := set.Register("out", gcompute.Layout{Size: 64}, gcompute.UsageShaderWrite|gcompute.UsageHostRead); err != nil {
		t.Fatal(err)
	}
	if err := set.Write("in", 0, make([]byte, 64)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := e.Start(gcompute.StartRequest{
		Buffers: set,
		Groups: []gcompute.Group{{
			ID: 1,
			Passes: []gcompute.Pass{{
				Pipeline: p,
				Bindings: []gcompute.Binding{
					{Buffer: "in", Slot: 0, Mode: gcompute.ModeRead},
					{Buffer: "out", Slot: 1, Mode: gcompute.ModeWrite},
				},
				Workgroups: [3]uint32{1, 1, 1},
			}},
			Return: []string{"out"},
		}},
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var kinds []string
	for i := 0; i < 4 && !e.Idle(); i++ {
		if err := e.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		for _, ev := range e.Drain() {
			switch ev := ev.(type) {
			case gcompute.CopyEvent:
				if len(ev.Payload) != 64 {
					t.Errorf("payload is %d bytes, want 64", len(ev.Payload))
				}
				kinds = append(kinds, "copy")
			case gcompute.GroupDoneEvent:
				if ev.Err != nil {
					t.Errorf("group failed: %v", ev.Err)
				}
				kinds = append(kinds, "group")
			case gcompute.RequestDoneEvent:
				kinds = append(kinds, "request")
			}
		}
	}
	if want := []string{"copy", "group", "request"}; !slices.Equal(kinds, want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
}

func TestBackendsIncludesNoop(t *testing.T) {
	// Importing hal/noop registers it as the Empty backend.
	if names := native.Backends(); !slices.Contains(names, gputypes.BackendEmpty.String()) {
		t.Errorf("Backends() = %v, want it to contain %q", names, gputypes.BackendEmpty.String())
	}
}
