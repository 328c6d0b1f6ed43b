package gcompute

import (
	"strings"

	"github.com/gogpu/gcompute/gpucore"
)

// Kind selects how a buffer is bound to shaders.
type Kind uint8

// Buffer kinds.
const (
	// KindStorage is bound as a storage buffer. It is the zero value.
	KindStorage Kind = iota

	// KindUniform is bound as a uniform buffer and is read-only in shaders.
	KindUniform

	// KindScratch is a storage buffer the host can neither read nor write.
	KindScratch
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindUniform:
		return "uniform"
	case KindScratch:
		return "scratch"
	default:
		return "unknown"
	}
}

// Layout describes a buffer's memory.
type Layout struct {
	// Size in bytes. Must be a positive multiple of 4.
	Size uint64

	// Stride is the element size in bytes. 0 means unstructured; otherwise it
	// must divide Size.
	Stride uint64

	Kind Kind

	// Double allocates a front and a back buffer. Passes read the front and
	// write the back; a swap pass exchanges them.
	Double bool
}

// Usage is a set of access flags for a buffer.
type Usage uint8

// Usage flags.
const (
	UsageShaderRead Usage = 1 << iota
	UsageShaderWrite
	UsageHostRead
	UsageHostWrite
)

// Has reports whether all flags in f are set.
func (u Usage) Has(f Usage) bool {
	return u&f == f
}

func (u Usage) String() string {
	if u == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag Usage
		name string
	}{
		{UsageShaderRead, "shader-read"},
		{UsageShaderWrite, "shader-write"},
		{UsageHostRead, "host-read"},
		{UsageHostWrite, "host-write"},
	} {
		if u.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Mode is how a pass binding accesses its buffer.
type Mode uint8

// Binding modes.
const (
	ModeRead      Mode = 1
	ModeWrite     Mode = 2
	ModeReadWrite      = ModeRead | ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeReadWrite:
		return "read-write"
	default:
		return "invalid"
	}
}

// Access is the kind of retain a group holds on a buffer.
type Access uint8

// Retain kinds.
const (
	AccessRead Access = iota + 1
	AccessWrite
)

func (a Access) String() string {
	if a == AccessWrite {
		return "write"
	}
	return "read"
}

// bufferEntry is one registered buffer. Mutable fields are guarded by the
// owning set's mutex.
type bufferEntry struct {
	set    *BufferSet
	name   string
	layout Layout
	usage  Usage

	// ids[front] is the front side; single buffers only use ids[0].
	ids   [2]gpucore.BufferID
	front int

	shadow []byte

	readers int
	writers int

	// pins counts validated groups that resolved this entry. Pins keep a
	// detached entry's GPU memory alive but are not retains.
	pins int

	detached  bool
	destroyed bool
}

func (e *bufferEntry) inFlight() int {
	return e.readers + e.writers
}

// frontID returns the buffer read by passes and copied by readback.
func (e *bufferEntry) frontID() gpucore.BufferID {
	return e.ids[e.front]
}

// bindID returns the side a binding with mode m uses.
func (e *bufferEntry) bindID(m Mode) gpucore.BufferID {
	if e.layout.Double && m == ModeWrite {
		return e.ids[1-e.front]
	}
	return e.ids[e.front]
}

func (e *bufferEntry) sides() []gpucore.BufferID {
	if e.layout.Double {
		return e.ids[:]
	}
	return e.ids[:1]
}

// bindingType maps a binding mode to the shader binding type for this entry.
func (e *bufferEntry) bindingType(m Mode) gpucore.BindingType {
	switch {
	case e.layout.Kind == KindUniform:
		return gpucore.BindingTypeUniform
	case m == ModeRead:
		return gpucore.BindingTypeReadOnlyStorage
	default:
		return gpucore.BindingTypeStorage
	}
}

// gpuUsage returns the adapter usage flags for an entry.
func gpuUsage(l Layout, u Usage) gpucore.BufferUsage {
	var g gpucore.BufferUsage
	if l.Kind == KindUniform {
		g = gpucore.BufferUsageUniform
	} else {
		g = gpucore.BufferUsageStorage
	}
	if u.Has(UsageHostRead) {
		g |= gpucore.BufferUsageCopySrc
	}
	if u.Has(UsageHostWrite) {
		g |= gpucore.BufferUsageCopyDst
	}
	return g
}

// BufferHandle refers to one registered buffer entry. A handle stays bound to
// the entry it was resolved from even after the name is replaced.
type BufferHandle struct {
	e *bufferEntry
}

// Name returns the buffer's name.
func (h BufferHandle) Name() string { return h.e.name }

// Layout returns the layout the buffer was registered with.
func (h BufferHandle) Layout() Layout { return h.e.layout }

// Usage returns the usage the buffer was registered with.
func (h BufferHandle) Usage() Usage { return h.e.usage }

// IsZero reports whether h is the zero handle.
func (h BufferHandle) IsZero() bool { return h.e == nil }

// Current reports whether the entry is still registered under its name.
func (h BufferHandle) Current() bool {
	h.e.set.mu.Lock()
	defer h.e.set.mu.Unlock()
	return !h.e.detached
}

// InFlight returns the entry's in-flight counter (reader plus writer retains).
func (h BufferHandle) InFlight() int {
	h.e.set.mu.Lock()
	defer h.e.set.mu.Unlock()
	return h.e.inFlight()
}

// Retains returns the reader and writer retain counts.
func (h BufferHandle) Retains() (readers, writers int) {
	h.e.set.mu.Lock()
	defer h.e.set.mu.Unlock()
	return h.e.readers, h.e.writers
}
