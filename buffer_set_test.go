package gcompute

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gcompute/gpucore"
	"github.com/gogpu/gcompute/internal/simgpu"
)

func TestRegisterValidation(t *testing.T) {
	sim := simgpu.New(simgpu.WithLimits(gpucore.Limits{
		MaxComputeWorkgroupsPerDimension: 16,
		MaxBufferSize:                    1024,
		MaxBindingsPerGroup:              8,
	}))
	set := NewBufferSet(sim)

	tests := []struct {
		name   string
		buf    string
		layout Layout
		usage  Usage
		want   error
	}{
		{"empty name", "", Layout{Size: 16}, UsageShaderRead, ErrInvalidLayout},
		{"zero size", "a", Layout{}, UsageShaderRead, ErrInvalidLayout},
		{"unaligned size", "a", Layout{Size: 6}, UsageShaderRead, ErrInvalidLayout},
		{"stride does not divide", "a", Layout{Size: 16, Stride: 12}, UsageShaderRead, ErrInvalidLayout},
		{"unknown kind", "a", Layout{Size: 16, Kind: 9}, UsageShaderRead, ErrInvalidLayout},
		{"over device limit", "a", Layout{Size: 2048}, UsageShaderRead, ErrInvalidLayout},
		{"no usage", "a", Layout{Size: 16}, 0, ErrConflictingUsage},
		{"host only", "a", Layout{Size: 16}, UsageHostRead | UsageHostWrite, ErrConflictingUsage},
		{"writable uniform", "a", Layout{Size: 16, Kind: KindUniform}, UsageShaderRead | UsageShaderWrite, ErrConflictingUsage},
		{"host scratch", "a", Layout{Size: 16, Kind: KindScratch}, UsageShaderWrite | UsageHostRead, ErrConflictingUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := set.Register(tt.buf, tt.layout, tt.usage)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Register = %v, want %v", err, tt.want)
			}
		})
	}
	if set.Len() != 0 || sim.LiveBuffers() != 0 {
		t.Errorf("failed registrations left %d entries and %d GPU buffers", set.Len(), sim.LiveBuffers())
	}
}

func TestRegisterDuplicate(t *testing.T) {
	sim := simgpu.New()
	set := NewBufferSet(sim)
	h := mustRegister(t, set, "a", Layout{Size: 16}, UsageShaderRead)
	if _, err := set.Register("a", Layout{Size: 32}, UsageShaderRead); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate Register = %v, want ErrDuplicateName", err)
	}
	if got := h.Layout().Size; got != 16 {
		t.Errorf("original entry changed: size %d", got)
	}
	if sim.LiveBuffers() != 1 {
		t.Errorf("live buffers = %d, want 1", sim.LiveBuffers())
	}
}

func TestRegisterAllocation(t *testing.T) {
	sim := simgpu.New()
	set := NewBufferSet(sim)

	mustRegister(t, set, "single", Layout{Size: 16}, UsageShaderRead|UsageShaderWrite)
	mustRegister(t, set, "double", Layout{Size: 16, Double: true}, UsageShaderRead|UsageShaderWrite)
	if n := sim.LiveBuffers(); n != 3 {
		t.Errorf("live buffers = %d, want 3", n)
	}
	if got := set.Names(); !slices.Equal(got, []string{"double", "single"}) {
		t.Errorf("Names = %v", got)
	}
	if _, err := set.Shadow("single"); !errors.Is(err, ErrConflictingUsage) {
		t.Errorf("Shadow of device-only buffer = %v", err)
	}
	if _, err := set.Resolve("nope"); !errors.Is(err, ErrUnknownBuffer) {
		t.Errorf("Resolve(nope) = %v", err)
	}
}

func TestGPUUsage(t *testing.T) {
	tests := []struct {
		layout Layout
		usage  Usage
		want   gpucore.BufferUsage
	}{
		{Layout{Kind: KindStorage}, UsageShaderRead, gpucore.BufferUsageStorage},
		{Layout{Kind: KindUniform}, UsageShaderRead | UsageHostWrite, gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst},
		{Layout{Kind: KindStorage}, UsageShaderWrite | UsageHostRead, gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc},
		{Layout{Kind: KindScratch}, UsageShaderRead | UsageShaderWrite, gpucore.BufferUsageStorage},
	}
	for _, tt := range tests {
		if got := gpuUsage(tt.layout, tt.usage); got != tt.want {
			t.Errorf("gpuUsage(%v, %v) = %#x, want %#x", tt.layout.Kind, tt.usage, got, tt.want)
		}
	}
}

func TestWrite(t *testing.T) {
	sim := simgpu.New()
	set := NewBufferSet(sim)
	mustRegister(t, set, "in", Layout{Size: 16}, UsageShaderRead|UsageHostWrite)
	mustRegister(t, set, "ro", Layout{Size: 16}, UsageShaderRead)

	if err := set.Write("in", 4, words(7, 8)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	shadow, _ := set.Shadow("in")
	if got := decode(shadow); !slices.Equal(got, []uint32{0, 7, 8, 0}) {
		t.Errorf("shadow = %v", got)
	}

	tests := []struct {
		name   string
		buf    string
		offset uint64
		data   []byte
		want   error
	}{
		{"unknown", "nope", 0, words(1), ErrUnknownBuffer},
		{"not host-writable", "ro", 0, words(1), ErrConflictingUsage},
		{"unaligned offset", "in", 2, words(1), ErrInvalidLayout},
		{"unaligned length", "in", 0, []byte{1, 2, 3}, ErrInvalidLayout},
		{"overflow", "in", 12, words(1, 2), ErrInvalidLayout},
		{"offset past end", "in", 20, nil, ErrInvalidLayout},
		{"offset wraps", "in", ^uint64(0) - 3, words(1), ErrInvalidLayout},
	}
	for _, tt := range tests {
		if err := set.Write(tt.buf, tt.offset, tt.data); !errors.Is(err, tt.want) {
			t.Errorf("%s: Write = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestWriteDoubleBufferBothSides(t *testing.T) {
	sim := simgpu.New()
	set := NewBufferSet(sim)
	h := mustRegister(t, set, "state", Layout{Size: 8, Double: true}, UsageShaderRead|UsageShaderWrite|UsageHostWrite)
	if err := set.Write("state", 0, words(5, 6)); err != nil {
		t.Fatal(err)
	}
	for _, id := range h.e.ids {
		if got := decode(sim.Data(id)); !slices.Equal(got, []uint32{5, 6}) {
			t.Errorf("side %d = %v", id, got)
		}
	}
}

func TestRetainRelease(t *testing.T) {
	set := NewBufferSet(simgpu.New())
	h := mustRegister(t, set, "b", Layout{Size: 16}, UsageShaderRead|UsageShaderWrite)

	set.Retain(h, AccessRead)
	set.Retain(h, AccessRead)
	set.Retain(h, AccessWrite)
	if n, _ := set.InFlight("b"); n != 3 {
		t.Fatalf("InFlight = %d, want 3", n)
	}
	if r, w := h.Retains(); r != 2 || w != 1 {
		t.Errorf("Retains = %d/%d, want 2/1", r, w)
	}
	set.Release(h, AccessWrite)
	set.Release(h, AccessRead)
	set.Release(h, AccessRead)
	if h.InFlight() != 0 {
		t.Errorf("InFlight = %d after balanced releases", h.InFlight())
	}

	mustPanicInvariant(t, "release", func() { set.Release(h, AccessRead) })
	mustPanicInvariant(t, "release", func() { set.Release(h, AccessWrite) })
	if h.InFlight() != 0 {
		t.Error("failed release changed the counter")
	}
}

func TestRetainForeignHandle(t *testing.T) {
	sim := simgpu.New()
	a, b := NewBufferSet(sim), NewBufferSet(sim)
	h := mustRegister(t, a, "shared", Layout{Size: 16}, UsageShaderRead|UsageShaderWrite)

	mustPanicInvariant(t, "retain", func() { b.Retain(h, AccessRead) })
	mustPanicInvariant(t, "release", func() { b.Release(h, AccessRead) })
	mustPanicInvariant(t, "retain", func() { a.Retain(BufferHandle{}, AccessRead) })
	if n, _ := a.InFlight("shared"); n != 0 {
		t.Errorf("InFlight = %d after rejected retains", n)
	}
}

func TestRemoveAndDestroy(t *testing.T) {
	sim := simgpu.New()
	set := NewBufferSet(sim)
	a := mustRegister(t, set, "a", Layout{Size: 16}, UsageShaderRead)
	mustRegister(t, set, "b", Layout{Size: 16, Double: true}, UsageShaderRead|UsageShaderWrite)

	if err := set.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if a.Current() {
		t.Error("removed handle still current")
	}
	if err := set.Remove("a"); !errors.Is(err, ErrUnknownBuffer) {
		t.Errorf("second Remove = %v", err)
	}
	if n := sim.LiveBuffers(); n != 2 {
		t.Errorf("live buffers = %d, want 2", n)
	}

	set.Destroy()
	if set.Len() != 0 || sim.LiveBuffers() != 0 {
		t.Errorf("Destroy left %d entries and %d GPU buffers", set.Len(), sim.LiveBuffers())
	}
}

func TestDestroyInFlightPanics(t *testing.T) {
	set := NewBufferSet(simgpu.New())
	h := mustRegister(t, set, "b", Layout{Size: 16}, UsageShaderRead)
	set.Retain(h, AccessRead)
	mustPanicInvariant(t, "destroy", set.Destroy)
	set.Release(h, AccessRead)
	set.Destroy()
}

func TestUsageString(t *testing.T) {
	tests := []struct {
		u    Usage
		want string
	}{
		{0, "none"},
		{UsageShaderRead, "shader-read"},
		{UsageShaderRead | UsageHostRead, "shader-read|host-read"},
	}
	for _, tt := range tests {
		if got := tt.u.String(); got != tt.want {
			t.Errorf("Usage(%d).String() = %q, want %q", tt.u, got, tt.want)
		}
	}
}
