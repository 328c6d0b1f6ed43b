package native

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gcompute/gpucore"
)

// HALAdapter implements gpucore.GPUAdapter on a wgpu HAL device and queue.
//
// Every Dispatch and CopyBuffer records its own command encoder and submits
// it immediately. Per-submission objects (command buffer, encoder, bind group)
// are kept until PollCompleted reports the submission finished and are then
// freed on the next call that polls.
//
// HALAdapter is safe for concurrent use.
type HALAdapter struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	limits gpucore.Limits
	spirv  bool

	nextID    atomic.Uint64
	buffers   map[gpucore.BufferID]*halBuffer
	pipelines map[gpucore.ComputePipelineID]*computeResources
	inflight  []submission

	lost      bool
	destroyed bool

	// release tears down whatever opened the device (instance, device).
	release func()
}

type halBuffer struct {
	buf   hal.Buffer
	size  uint64
	usage gpucore.BufferUsage
}

// submission holds the resources recorded for one queue submission.
type submission struct {
	index     uint64
	encoder   hal.CommandEncoder
	cmdBuf    hal.CommandBuffer
	bindGroup hal.BindGroup
}

// Option configures a HALAdapter.
type Option func(*HALAdapter)

// WithSPIRV compiles WGSL to SPIR-V with naga before creating shader
// modules. Use it for backends that do not accept WGSL directly (Vulkan).
func WithSPIRV(enabled bool) Option {
	return func(a *HALAdapter) { a.spirv = enabled }
}

// WithLimits overrides the limits reported by the adapter.
func WithLimits(l gpucore.Limits) Option {
	return func(a *HALAdapter) { a.limits = l }
}

// NewHALAdapter wraps an open HAL device and its queue. The caller keeps
// ownership of the device; Destroy releases only resources created through
// the adapter.
func NewHALAdapter(device hal.Device, queue hal.Queue, opts ...Option) (*HALAdapter, error) {
	if device == nil || queue == nil {
		return nil, ErrNotInitialized
	}
	a := &HALAdapter{
		device:    device,
		queue:     queue,
		limits:    gpucore.DefaultLimits(),
		buffers:   make(map[gpucore.BufferID]*halBuffer),
		pipelines: make(map[gpucore.ComputePipelineID]*computeResources),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Limits returns the adapter limits.
func (a *HALAdapter) Limits() gpucore.Limits { return a.limits }

func (a *HALAdapter) id() uint64 { return a.nextID.Add(1) }

// usableLocked returns an error when the adapter can no longer record work.
func (a *HALAdapter) usableLocked() error {
	if a.destroyed {
		return ErrNotInitialized
	}
	if a.lost {
		return gpucore.ErrDeviceLost
	}
	return nil
}

// halErr maps HAL errors onto gpucore sentinels and records device loss.
func (a *HALAdapter) halErr(op string, err error) error {
	if errors.Is(err, hal.ErrDeviceLost) {
		if !a.lost {
			slogger().Error("native: device lost", "op", op)
		}
		a.lost = true
		return fmt.Errorf("native: %s: %w", op, gpucore.ErrDeviceLost)
	}
	return fmt.Errorf("native: %s: %w", op, err)
}

// CreateBuffer creates a HAL buffer.
func (a *HALAdapter) CreateBuffer(label string, size uint64, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
	if size == 0 || size%gpucore.CopyAlignment != 0 {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q size %d: %w", label, size, gpucore.ErrInvalidSize)
	}
	if size > a.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q size %d exceeds %d: %w",
			label, size, a.limits.MaxBufferSize, gpucore.ErrInvalidSize)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: convertBufferUsage(usage),
	})
	if err != nil {
		return gpucore.InvalidID, a.halErr("create buffer "+label, err)
	}
	id := gpucore.BufferID(a.id())
	a.buffers[id] = &halBuffer{buf: buf, size: size, usage: usage}
	return id, nil
}

// DestroyBuffer releases a buffer. Unknown IDs are ignored.
func (a *HALAdapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buffers[id]
	if !ok {
		return
	}
	delete(a.buffers, id)
	a.device.DestroyBuffer(b.buf)
}

// WriteBuffer uploads data through the queue.
func (a *HALAdapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return err
	}
	b, ok := a.buffers[id]
	if !ok {
		return fmt.Errorf("native: write buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	if offset > b.size || uint64(len(data)) > b.size-offset {
		return fmt.Errorf("native: write %d bytes at %d past buffer size %d: %w",
			len(data), offset, b.size, gpucore.ErrInvalidSize)
	}
	if err := a.queue.WriteBuffer(b.buf, offset, data); err != nil {
		return a.halErr("write buffer", err)
	}
	return nil
}

// CreateComputePipeline compiles desc.Source and builds the pipeline with
// its bind group and pipeline layouts.
func (a *HALAdapter) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil || desc.Source == "" || desc.EntryPoint == "" {
		return gpucore.InvalidID, fmt.Errorf("native: pipeline needs source and entry point: %w", gpucore.ErrUnsupported)
	}

	var spirv []uint32
	if a.spirv {
		code, err := CompileWGSL(desc.Source)
		if err != nil {
			return gpucore.InvalidID, err
		}
		spirv = code
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	res, err := a.buildPipelineLocked(desc, spirv)
	if err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.ComputePipelineID(a.id())
	a.pipelines[id] = res
	slogger().Debug("native: pipeline created", "label", desc.Label, "bindings", len(desc.Bindings))
	return id, nil
}

func (a *HALAdapter) buildPipelineLocked(desc *gpucore.ComputePipelineDesc, spirv []uint32) (*computeResources, error) {
	res := &computeResources{device: a.device}
	ok := false
	defer func() {
		if !ok {
			res.destroy()
		}
	}()

	src := hal.ShaderSource{WGSL: desc.Source}
	if spirv != nil {
		src = hal.ShaderSource{SPIRV: spirv}
	}
	module, err := a.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: src,
	})
	if err != nil {
		return nil, a.halErr("create shader module", err)
	}
	res.module = module

	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(desc.Bindings))
	for _, b := range desc.Bindings {
		bt, err := convertBindingType(b.Type)
		if err != nil {
			return nil, err
		}
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    b.Slot,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: bt},
		})
		res.slots = append(res.slots, b.Slot)
	}
	slices.Sort(res.slots)

	res.bgLayout, err = a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bgl",
		Entries: entries,
	})
	if err != nil {
		return nil, a.halErr("create bind group layout", err)
	}
	res.pipeLayout, err = a.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_layout",
		BindGroupLayouts: []hal.BindGroupLayout{res.bgLayout},
	})
	if err != nil {
		return nil, a.halErr("create pipeline layout", err)
	}
	res.pipeline, err = a.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: res.pipeLayout,
		Compute: hal.ComputeState{
			Module:     res.module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return nil, a.halErr("create compute pipeline", err)
	}
	ok = true
	return res, nil
}

// DestroyComputePipeline releases a pipeline. Unknown IDs are ignored.
func (a *HALAdapter) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := a.pipelines[id]
	if !ok {
		return
	}
	delete(a.pipelines, id)
	res.destroy()
}

// Dispatch records one compute pass and submits it.
func (a *HALAdapter) Dispatch(desc *gpucore.DispatchDesc) (gpucore.SubmissionIndex, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return 0, err
	}
	a.reclaimLocked()

	res, ok := a.pipelines[desc.Pipeline]
	if !ok {
		return 0, fmt.Errorf("native: dispatch %q: pipeline %d: %w", desc.Label, desc.Pipeline, gpucore.ErrUnknownResource)
	}
	for i, n := range desc.Workgroups {
		if n == 0 || n > a.limits.MaxComputeWorkgroupsPerDimension {
			return 0, fmt.Errorf("native: dispatch %q: workgroups[%d] = %d: %w", desc.Label, i, n, gpucore.ErrInvalidSize)
		}
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(desc.Bindings))
	if len(desc.Bindings) != len(res.slots) {
		return 0, fmt.Errorf("native: dispatch %q: %d bindings for %d-slot layout: %w",
			desc.Label, len(desc.Bindings), len(res.slots), gpucore.ErrUnsupported)
	}
	for _, b := range desc.Bindings {
		if _, found := slices.BinarySearch(res.slots, b.Slot); !found {
			return 0, fmt.Errorf("native: dispatch %q: slot %d not in layout: %w", desc.Label, b.Slot, gpucore.ErrUnsupported)
		}
		hb, ok := a.buffers[b.Buffer]
		if !ok {
			return 0, fmt.Errorf("native: dispatch %q: slot %d buffer %d: %w", desc.Label, b.Slot, b.Buffer, gpucore.ErrUnknownResource)
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: b.Slot,
			Resource: gputypes.BufferBinding{
				Buffer: hb.buf.NativeHandle(),
				Size:   hb.size,
			},
		})
	}

	bindGroup, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  res.bgLayout,
		Entries: entries,
	})
	if err != nil {
		return 0, a.halErr("create bind group", err)
	}

	sub, err := a.recordLocked(desc.Label, func(enc hal.CommandEncoder) {
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: desc.Label})
		pass.SetPipeline(res.pipeline)
		pass.SetBindGroup(0, bindGroup, nil)
		pass.Dispatch(desc.Workgroups[0], desc.Workgroups[1], desc.Workgroups[2])
		pass.End()
	})
	if err != nil {
		a.device.DestroyBindGroup(bindGroup)
		return 0, err
	}
	sub.bindGroup = bindGroup
	return a.submitLocked(sub, "dispatch "+desc.Label)
}

// CopyBuffer records a buffer-to-buffer copy and submits it.
func (a *HALAdapter) CopyBuffer(src, dst gpucore.BufferID, size uint64) (gpucore.SubmissionIndex, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return 0, err
	}
	a.reclaimLocked()

	s, ok := a.buffers[src]
	if !ok {
		return 0, fmt.Errorf("native: copy source %d: %w", src, gpucore.ErrUnknownResource)
	}
	d, ok := a.buffers[dst]
	if !ok {
		return 0, fmt.Errorf("native: copy destination %d: %w", dst, gpucore.ErrUnknownResource)
	}
	if size == 0 || size%gpucore.CopyAlignment != 0 || size > s.size || size > d.size {
		return 0, fmt.Errorf("native: copy of %d bytes (src %d, dst %d): %w", size, s.size, d.size, gpucore.ErrInvalidSize)
	}

	sub, err := a.recordLocked("readback", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(s.buf, d.buf, []hal.BufferCopy{{Size: size}})
	})
	if err != nil {
		return 0, err
	}
	return a.submitLocked(sub, "copy")
}

// recordLocked creates an encoder, runs record inside it and finishes the
// command buffer.
func (a *HALAdapter) recordLocked(label string, record func(hal.CommandEncoder)) (submission, error) {
	enc, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return submission{}, a.halErr("create command encoder", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		enc.Destroy()
		return submission{}, a.halErr("begin encoding", err)
	}
	record(enc)
	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		enc.DiscardEncoding()
		enc.Destroy()
		return submission{}, a.halErr("end encoding", err)
	}
	return submission{encoder: enc, cmdBuf: cmdBuf}, nil
}

func (a *HALAdapter) submitLocked(sub submission, op string) (gpucore.SubmissionIndex, error) {
	idx, err := a.queue.Submit([]hal.CommandBuffer{sub.cmdBuf})
	if err != nil {
		a.free(sub)
		return 0, a.halErr(op, err)
	}
	sub.index = idx
	a.inflight = append(a.inflight, sub)
	return gpucore.SubmissionIndex(idx), nil
}

// reclaimLocked frees the resources of every completed submission.
func (a *HALAdapter) reclaimLocked() {
	if len(a.inflight) == 0 {
		return
	}
	done := a.queue.PollCompleted()
	n := 0
	for _, sub := range a.inflight {
		if sub.index <= done {
			a.free(sub)
			continue
		}
		a.inflight[n] = sub
		n++
	}
	clear(a.inflight[n:])
	a.inflight = a.inflight[:n]
}

func (a *HALAdapter) free(sub submission) {
	if sub.cmdBuf != nil {
		a.device.FreeCommandBuffer(sub.cmdBuf)
	}
	if sub.encoder != nil {
		sub.encoder.Destroy()
	}
	if sub.bindGroup != nil {
		a.device.DestroyBindGroup(sub.bindGroup)
	}
}

// IsComplete polls the queue without blocking.
func (a *HALAdapter) IsComplete(idx gpucore.SubmissionIndex) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed || a.lost {
		return true
	}
	a.reclaimLocked()
	return uint64(idx) <= a.queue.PollCompleted()
}

// Err reports device loss.
func (a *HALAdapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lost {
		return fmt.Errorf("native: %w", gpucore.ErrDeviceLost)
	}
	return nil
}

// WaitIdle blocks until the queue has drained and frees the finished
// submissions.
func (a *HALAdapter) WaitIdle() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return err
	}
	if err := a.device.WaitIdle(); err != nil {
		return a.halErr("wait idle", err)
	}
	a.reclaimLocked()
	return nil
}

// ReadMapped maps a MapRead buffer and copies size bytes out of it.
func (a *HALAdapter) ReadMapped(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return nil, err
	}
	b, ok := a.buffers[id]
	if !ok {
		return nil, fmt.Errorf("native: read buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	if !b.usage.Contains(gpucore.BufferUsageMapRead) {
		return nil, fmt.Errorf("native: read buffer %d without MapRead usage: %w", id, gpucore.ErrUnsupported)
	}
	if size == 0 || offset > b.size || size > b.size-offset {
		return nil, fmt.Errorf("native: read %d bytes at %d of %d-byte buffer: %w", size, offset, b.size, gpucore.ErrInvalidSize)
	}

	mapping, err := a.device.MapBuffer(b.buf, offset, size)
	if err != nil {
		return nil, a.halErr("map buffer", err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(mapping.Ptr), size))
	if err := a.device.UnmapBuffer(b.buf); err != nil {
		return nil, a.halErr("unmap buffer", err)
	}
	return out, nil
}

// Destroy waits for the device and releases every resource owned by the
// adapter. It is safe to call more than once.
func (a *HALAdapter) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.destroyed = true

	if !a.lost {
		if err := a.device.WaitIdle(); err != nil {
			slogger().Warn("native: wait idle failed", "err", err)
		}
	}
	for _, sub := range a.inflight {
		a.free(sub)
	}
	a.inflight = nil
	for id, res := range a.pipelines {
		res.destroy()
		delete(a.pipelines, id)
	}
	for id, b := range a.buffers {
		a.device.DestroyBuffer(b.buf)
		delete(a.buffers, id)
	}
	if a.release != nil {
		a.release()
		a.release = nil
	}
	slogger().Debug("native: adapter destroyed")
}

// convertBufferUsage maps gpucore usage flags to gputypes flags.
func convertBufferUsage(u gpucore.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u.Contains(gpucore.BufferUsageMapRead) {
		out |= gputypes.BufferUsageMapRead
	}
	if u.Contains(gpucore.BufferUsageMapWrite) {
		out |= gputypes.BufferUsageMapWrite
	}
	if u.Contains(gpucore.BufferUsageCopySrc) {
		out |= gputypes.BufferUsageCopySrc
	}
	if u.Contains(gpucore.BufferUsageCopyDst) {
		out |= gputypes.BufferUsageCopyDst
	}
	if u.Contains(gpucore.BufferUsageUniform) {
		out |= gputypes.BufferUsageUniform
	}
	if u.Contains(gpucore.BufferUsageStorage) {
		out |= gputypes.BufferUsageStorage
	}
	return out
}

func convertBindingType(t gpucore.BindingType) (gputypes.BufferBindingType, error) {
	switch t {
	case gpucore.BindingTypeUniform:
		return gputypes.BufferBindingTypeUniform, nil
	case gpucore.BindingTypeReadOnlyStorage:
		return gputypes.BufferBindingTypeReadOnlyStorage, nil
	case gpucore.BindingTypeStorage:
		return gputypes.BufferBindingTypeStorage, nil
	default:
		return 0, fmt.Errorf("native: binding type %d: %w", t, gpucore.ErrUnsupported)
	}
}

var _ gpucore.GPUAdapter = (*HALAdapter)(nil)
