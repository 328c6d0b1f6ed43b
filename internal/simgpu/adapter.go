package simgpu

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gcompute/gpucore"
)

// Kind distinguishes recorded submissions.
type Kind uint8

// Submission kinds.
const (
	KindDispatch Kind = iota + 1
	KindCopy
)

// Submission records one call to Dispatch or CopyBuffer.
type Submission struct {
	Index gpucore.SubmissionIndex
	Kind  Kind
	Label string

	// Dispatch fields.
	Pipeline   gpucore.ComputePipelineID
	EntryPoint string
	Bindings   []gpucore.BufferBinding
	Workgroups [3]uint32

	// Copy fields.
	Src, Dst gpucore.BufferID
	Size     uint64
}

// Kernel emulates a compute shader. It runs once per dispatch.
type Kernel func(c *Call)

// Call is the view of a dispatch handed to a Kernel.
type Call struct {
	Workgroups [3]uint32
	buffers    map[uint32][]byte
}

// Buffer returns the backing bytes bound at slot, or nil.
func (c *Call) Buffer(slot uint32) []byte {
	return c.buffers[slot]
}

type buffer struct {
	label string
	usage gpucore.BufferUsage
	data  []byte
}

type pipeline struct {
	desc  gpucore.ComputePipelineDesc
	slots map[uint32]gpucore.BindingType
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLimits overrides the default limits.
func WithLimits(l gpucore.Limits) Option {
	return func(a *Adapter) { a.limits = l }
}

// WithManualCompletion leaves submissions pending until Complete is called.
func WithManualCompletion() Option {
	return func(a *Adapter) { a.manual = true }
}

// Adapter implements gpucore.GPUAdapter in memory.
type Adapter struct {
	mu     sync.Mutex
	limits gpucore.Limits
	manual bool

	nextID  uint64
	lastSub gpucore.SubmissionIndex

	buffers   map[gpucore.BufferID]*buffer
	pipelines map[gpucore.ComputePipelineID]*pipeline
	kernels   map[string]Kernel

	subs   []Submission
	done   map[gpucore.SubmissionIndex]bool
	writes int

	dispatches   int
	failDispatch func(desc *gpucore.DispatchDesc, n int) error
	failCopy     func(src, dst gpucore.BufferID) error
	lost         bool
	destroyed    bool
	waits        int
}

var _ gpucore.GPUAdapter = (*Adapter)(nil)

// New creates an adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		limits:    gpucore.DefaultLimits(),
		buffers:   make(map[gpucore.BufferID]*buffer),
		pipelines: make(map[gpucore.ComputePipelineID]*pipeline),
		kernels:   make(map[string]Kernel),
		done:      make(map[gpucore.SubmissionIndex]bool),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) newID() uint64 {
	a.nextID++
	return a.nextID
}

// SetKernel registers the Go emulation of a shader entry point.
func (a *Adapter) SetKernel(entryPoint string, k Kernel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kernels[entryPoint] = k
}

// FailDispatch installs a hook consulted on every Dispatch. n counts dispatch
// calls starting at 1. A non-nil result fails that call.
func (a *Adapter) FailDispatch(fn func(desc *gpucore.DispatchDesc, n int) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failDispatch = fn
}

// FailCopy installs a hook consulted on every CopyBuffer.
func (a *Adapter) FailCopy(fn func(src, dst gpucore.BufferID) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failCopy = fn
}

// Lose simulates device loss the way the HAL adapter reports it: later
// submissions fail with gpucore.ErrDeviceLost, every submission so far
// reports complete and Err returns the loss.
func (a *Adapter) Lose() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lost = true
}

// Limits returns the adapter limits.
func (a *Adapter) Limits() gpucore.Limits {
	return a.limits
}

// CreateBuffer allocates a zeroed buffer.
func (a *Adapter) CreateBuffer(label string, size uint64, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
	if size == 0 || size%gpucore.CopyAlignment != 0 || size > a.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("simgpu: create buffer %q of %d bytes: %w", label, size, gpucore.ErrInvalidSize)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	id := gpucore.BufferID(a.newID())
	a.buffers[id] = &buffer{label: label, usage: usage, data: make([]byte, size)}
	return id, nil
}

// DestroyBuffer frees a buffer.
func (a *Adapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buffers, id)
}

// WriteBuffer copies data into a buffer.
func (a *Adapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lost {
		return fmt.Errorf("simgpu: write buffer: %w", gpucore.ErrDeviceLost)
	}
	b, ok := a.buffers[id]
	if !ok {
		return fmt.Errorf("simgpu: write buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	if offset > uint64(len(b.data)) || uint64(len(data)) > uint64(len(b.data))-offset {
		return fmt.Errorf("simgpu: write %d bytes at %d into %q: %w", len(data), offset, b.label, gpucore.ErrInvalidSize)
	}
	copy(b.data[offset:], data)
	a.writes++
	return nil
}

// CreateComputePipeline records the pipeline. The source is not compiled.
func (a *Adapter) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc.Source == "" || desc.EntryPoint == "" {
		return gpucore.InvalidID, fmt.Errorf("simgpu: pipeline %q: empty source or entry point", desc.Label)
	}
	slots := make(map[uint32]gpucore.BindingType, len(desc.Bindings))
	for _, b := range desc.Bindings {
		if _, dup := slots[b.Slot]; dup {
			return gpucore.InvalidID, fmt.Errorf("simgpu: pipeline %q: duplicate slot %d", desc.Label, b.Slot)
		}
		slots[b.Slot] = b.Type
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	id := gpucore.ComputePipelineID(a.newID())
	d := *desc
	d.Bindings = slices.Clone(desc.Bindings)
	a.pipelines[id] = &pipeline{desc: d, slots: slots}
	return id, nil
}

// DestroyComputePipeline frees a pipeline.
func (a *Adapter) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pipelines, id)
}

// Dispatch validates the bindings against the pipeline layout, runs the
// entry point's kernel if one is registered and records the submission.
func (a *Adapter) Dispatch(desc *gpucore.DispatchDesc) (gpucore.SubmissionIndex, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.dispatches++
	if a.lost {
		return 0, fmt.Errorf("simgpu: dispatch %q: %w", desc.Label, gpucore.ErrDeviceLost)
	}
	if a.failDispatch != nil {
		if err := a.failDispatch(desc, a.dispatches); err != nil {
			return 0, err
		}
	}
	p, ok := a.pipelines[desc.Pipeline]
	if !ok {
		return 0, fmt.Errorf("simgpu: dispatch %q: pipeline %d: %w", desc.Label, desc.Pipeline, gpucore.ErrUnknownResource)
	}
	call := &Call{Workgroups: desc.Workgroups, buffers: make(map[uint32][]byte, len(desc.Bindings))}
	for _, b := range desc.Bindings {
		want, ok := p.slots[b.Slot]
		if !ok || want != b.Type {
			return 0, fmt.Errorf("simgpu: dispatch %q: slot %d bound as %s, layout has %s", desc.Label, b.Slot, b.Type, want)
		}
		buf, ok := a.buffers[b.Buffer]
		if !ok {
			return 0, fmt.Errorf("simgpu: dispatch %q: buffer %d: %w", desc.Label, b.Buffer, gpucore.ErrUnknownResource)
		}
		call.buffers[b.Slot] = buf.data
	}
	if k := a.kernels[p.desc.EntryPoint]; k != nil {
		k(call)
	}

	return a.record(Submission{
		Kind:       KindDispatch,
		Label:      desc.Label,
		Pipeline:   desc.Pipeline,
		EntryPoint: p.desc.EntryPoint,
		Bindings:   slices.Clone(desc.Bindings),
		Workgroups: desc.Workgroups,
	}), nil
}

// CopyBuffer copies size bytes from src to dst and records the submission.
func (a *Adapter) CopyBuffer(src, dst gpucore.BufferID, size uint64) (gpucore.SubmissionIndex, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lost {
		return 0, fmt.Errorf("simgpu: copy: %w", gpucore.ErrDeviceLost)
	}
	if a.failCopy != nil {
		if err := a.failCopy(src, dst); err != nil {
			return 0, err
		}
	}
	s, ok1 := a.buffers[src]
	d, ok2 := a.buffers[dst]
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("simgpu: copy %d -> %d: %w", src, dst, gpucore.ErrUnknownResource)
	}
	if size > uint64(len(s.data)) || size > uint64(len(d.data)) {
		return 0, fmt.Errorf("simgpu: copy %d bytes: %w", size, gpucore.ErrInvalidSize)
	}
	copy(d.data[:size], s.data[:size])

	return a.record(Submission{Kind: KindCopy, Label: s.label, Src: src, Dst: dst, Size: size}), nil
}

// record appends s with the next submission index. Caller must hold a.mu.
func (a *Adapter) record(s Submission) gpucore.SubmissionIndex {
	a.lastSub++
	s.Index = a.lastSub
	a.subs = append(a.subs, s)
	if !a.manual {
		a.done[s.Index] = true
	}
	return s.Index
}

// IsComplete reports whether Complete (or automatic completion) has marked
// idx. Everything is complete after Lose.
func (a *Adapter) IsComplete(idx gpucore.SubmissionIndex) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lost || a.done[idx]
}

// Err returns the simulated device loss.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lost {
		return fmt.Errorf("simgpu: %w", gpucore.ErrDeviceLost)
	}
	return nil
}

// WaitIdle finishes every pending submission, as a real device would
// eventually do.
func (a *Adapter) WaitIdle() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.waits++
	if a.lost {
		return fmt.Errorf("simgpu: wait idle: %w", gpucore.ErrDeviceLost)
	}
	for i := gpucore.SubmissionIndex(1); i <= a.lastSub; i++ {
		a.done[i] = true
	}
	return nil
}

// ReadMapped returns a copy of a MapRead buffer's bytes.
func (a *Adapter) ReadMapped(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lost {
		return nil, fmt.Errorf("simgpu: map buffer: %w", gpucore.ErrDeviceLost)
	}
	b, ok := a.buffers[id]
	if !ok {
		return nil, fmt.Errorf("simgpu: map buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	if !b.usage.Contains(gpucore.BufferUsageMapRead) {
		return nil, fmt.Errorf("simgpu: map buffer %q: %w", b.label, gpucore.ErrUnsupported)
	}
	if offset > uint64(len(b.data)) || size > uint64(len(b.data))-offset {
		return nil, fmt.Errorf("simgpu: map %d bytes at %d of %q: %w", size, offset, b.label, gpucore.ErrInvalidSize)
	}
	return slices.Clone(b.data[offset : offset+size]), nil
}

// Destroy frees everything.
func (a *Adapter) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffers = make(map[gpucore.BufferID]*buffer)
	a.pipelines = make(map[gpucore.ComputePipelineID]*pipeline)
	a.destroyed = true
}
