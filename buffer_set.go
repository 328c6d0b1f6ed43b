package gcompute

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/gogpu/gcompute/gpucore"
)

// BufferSet is a named collection of GPU buffers.
//
// The host owns a BufferSet and mutates it between requests. Start requests
// resolve the names they use when they are validated; later changes to the
// set do not affect them. BufferSet is safe for concurrent use.
type BufferSet struct {
	adapter gpucore.GPUAdapter

	mu      sync.Mutex
	entries map[string]*bufferEntry
}

// NewBufferSet creates an empty set whose buffers live on adapter.
func NewBufferSet(adapter gpucore.GPUAdapter) *BufferSet {
	return &BufferSet{
		adapter: adapter,
		entries: make(map[string]*bufferEntry),
	}
}

// Register declares a buffer and allocates its GPU memory.
//
// It fails with ErrDuplicateName if name is taken, ErrInvalidLayout if the
// layout is unusable and ErrConflictingUsage if usage contradicts the layout.
func (s *BufferSet) Register(name string, layout Layout, usage Usage) (BufferHandle, error) {
	if err := s.checkLayout(name, layout, usage); err != nil {
		return BufferHandle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return BufferHandle{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	e, err := s.allocate(name, layout, usage)
	if err != nil {
		return BufferHandle{}, err
	}
	s.entries[name] = e
	return BufferHandle{e: e}, nil
}

// Resolve returns the handle registered under name.
func (s *BufferSet) Resolve(name string) (BufferHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return BufferHandle{}, fmt.Errorf("%w: %q", ErrUnknownBuffer, name)
	}
	return BufferHandle{e: e}, nil
}

// Names returns the registered names in sorted order.
func (s *BufferSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered buffers.
func (s *BufferSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Retain increments the in-flight counter of h.
func (s *BufferSet) Retain(h BufferHandle, a Access) {
	s.own("retain", h)
	h.e.retain(a)
}

// Release decrements the in-flight counter of h. Releasing a retain that was
// never taken panics with *InvariantError.
func (s *BufferSet) Release(h BufferHandle, a Access) {
	s.own("release", h)
	h.e.release(a)
}

// own panics with *InvariantError unless h was issued by s.
func (s *BufferSet) own(op string, h BufferHandle) {
	if h.e == nil {
		invariant(op, "", "zero buffer handle")
	}
	if h.e.set != s {
		invariant(op, h.e.name, "handle belongs to another buffer set")
	}
}

// InFlight returns the in-flight counter of the buffer registered as name.
func (s *BufferSet) InFlight(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownBuffer, name)
	}
	return e.inFlight(), nil
}

// Write uploads data at offset into the buffer and its shadow copy. Double
// buffers receive the data on both sides. The buffer needs UsageHostWrite.
// Writing a buffer that is in flight panics with *InvariantError.
func (s *BufferSet) Write(name string, offset uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBuffer, name)
	}
	if !e.usage.Has(UsageHostWrite) {
		return fmt.Errorf("%w: %q is not host-writable", ErrConflictingUsage, name)
	}
	if offset%gpucore.CopyAlignment != 0 || len(data)%gpucore.CopyAlignment != 0 ||
		offset > e.layout.Size || uint64(len(data)) > e.layout.Size-offset {
		return fmt.Errorf("%w: write of %d bytes at offset %d into %q (%d bytes)",
			ErrInvalidLayout, len(data), offset, name, e.layout.Size)
	}
	if n := e.inFlight(); n > 0 {
		invariant("write", name, "%d retains outstanding", n)
	}
	return s.uploadLocked(e, offset, data)
}

// Shadow returns a copy of the host-side shadow of a host-accessible buffer:
// the last host write or the last payload read back, whichever came later.
func (s *BufferSet) Shadow(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBuffer, name)
	}
	if e.shadow == nil {
		return nil, fmt.Errorf("%w: %q has no host access", ErrConflictingUsage, name)
	}
	return slices.Clone(e.shadow), nil
}

// Replace swaps the buffer registered as name for a freshly allocated one.
// Requests validated earlier keep using the old entry, whose GPU memory is
// freed once they finish. Replacing an in-flight buffer panics with
// *InvariantError.
func (s *BufferSet) Replace(name string, layout Layout, usage Usage) (BufferHandle, error) {
	if err := s.checkLayout(name, layout, usage); err != nil {
		return BufferHandle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.entries[name]
	if !ok {
		return BufferHandle{}, fmt.Errorf("%w: %q", ErrUnknownBuffer, name)
	}
	if n := old.inFlight(); n > 0 {
		invariant("replace", name, "%d retains outstanding", n)
	}
	e, err := s.allocate(name, layout, usage)
	if err != nil {
		return BufferHandle{}, err
	}
	s.detachLocked(old)
	s.entries[name] = e
	return BufferHandle{e: e}, nil
}

// Remove unregisters name. Removing an in-flight buffer panics with
// *InvariantError.
func (s *BufferSet) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBuffer, name)
	}
	if n := e.inFlight(); n > 0 {
		invariant("remove", name, "%d retains outstanding", n)
	}
	s.detachLocked(e)
	delete(s.entries, name)
	return nil
}

// Destroy unregisters every buffer. GPU memory still referenced by validated
// requests is freed when they finish. Destroying a set with in-flight buffers
// panics with *InvariantError.
func (s *BufferSet) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.entries {
		if n := e.inFlight(); n > 0 {
			invariant("destroy", name, "%d retains outstanding", n)
		}
	}
	for _, e := range s.entries {
		s.detachLocked(e)
	}
	s.entries = make(map[string]*bufferEntry)
}

func (s *BufferSet) checkLayout(name string, l Layout, u Usage) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidLayout)
	case l.Size == 0:
		return fmt.Errorf("%w: %q has zero size", ErrInvalidLayout, name)
	case l.Size%gpucore.CopyAlignment != 0:
		return fmt.Errorf("%w: %q size %d is not a multiple of %d", ErrInvalidLayout, name, l.Size, gpucore.CopyAlignment)
	case l.Stride != 0 && l.Size%l.Stride != 0:
		return fmt.Errorf("%w: %q stride %d does not divide size %d", ErrInvalidLayout, name, l.Stride, l.Size)
	case l.Kind > KindScratch:
		return fmt.Errorf("%w: %q has unknown kind %d", ErrInvalidLayout, name, l.Kind)
	}
	if limit := s.adapter.Limits().MaxBufferSize; limit > 0 && l.Size > limit {
		return fmt.Errorf("%w: %q size %d exceeds device maximum %d", ErrInvalidLayout, name, l.Size, limit)
	}

	switch {
	case u == 0:
		return fmt.Errorf("%w: %q has no usage", ErrConflictingUsage, name)
	case !u.Has(UsageShaderRead) && !u.Has(UsageShaderWrite):
		return fmt.Errorf("%w: %q is never accessed by a shader", ErrConflictingUsage, name)
	case l.Kind == KindUniform && u.Has(UsageShaderWrite):
		return fmt.Errorf("%w: uniform %q cannot be shader-writable", ErrConflictingUsage, name)
	case l.Kind == KindScratch && (u.Has(UsageHostRead) || u.Has(UsageHostWrite)):
		return fmt.Errorf("%w: scratch %q cannot be host-accessible (%s)", ErrConflictingUsage, name, u)
	}
	return nil
}

// allocate creates the GPU side of a new entry. Caller must hold s.mu.
func (s *BufferSet) allocate(name string, l Layout, u Usage) (*bufferEntry, error) {
	e := &bufferEntry{set: s, name: name, layout: l, usage: u}
	usage := gpuUsage(l, u)
	for i := range e.sides() {
		id, err := s.adapter.CreateBuffer(name, l.Size, usage)
		if err != nil {
			for _, prev := range e.ids[:i] {
				s.adapter.DestroyBuffer(prev)
			}
			return nil, fmt.Errorf("gcompute: allocate %q: %w", name, err)
		}
		e.ids[i] = id
	}
	if u.Has(UsageHostRead) || u.Has(UsageHostWrite) {
		e.shadow = make([]byte, l.Size)
	}
	return e, nil
}

// uploadLocked writes data to every side of e and its shadow.
func (s *BufferSet) uploadLocked(e *bufferEntry, offset uint64, data []byte) error {
	for _, id := range e.sides() {
		if err := s.adapter.WriteBuffer(id, offset, data); err != nil {
			return fmt.Errorf("gcompute: write %q: %w", e.name, err)
		}
	}
	if e.shadow != nil {
		copy(e.shadow[offset:], data)
	}
	return nil
}

func (s *BufferSet) retainLocked(e *bufferEntry, a Access) {
	if a == AccessWrite {
		e.writers++
	} else {
		e.readers++
	}
}

func (s *BufferSet) releaseLocked(e *bufferEntry, a Access) {
	if a == AccessWrite {
		if e.writers == 0 {
			invariant("release", e.name, "no write retain held")
		}
		e.writers--
	} else {
		if e.readers == 0 {
			invariant("release", e.name, "no read retain held")
		}
		e.readers--
	}
	s.reapLocked(e)
}

func (s *BufferSet) detachLocked(e *bufferEntry) {
	e.detached = true
	s.reapLocked(e)
}

// reapLocked frees a detached entry once nothing references it.
func (s *BufferSet) reapLocked(e *bufferEntry) {
	if !e.detached || e.destroyed || e.pins > 0 || e.inFlight() > 0 {
		return
	}
	for _, id := range e.sides() {
		s.adapter.DestroyBuffer(id)
	}
	e.destroyed = true
}

// The helpers below are used by the engine on entries it has resolved.
// Entries may come from several sets, so they lock the entry's own set.

func (e *bufferEntry) pin() {
	e.set.mu.Lock()
	e.pins++
	e.set.mu.Unlock()
}

func (e *bufferEntry) unpin() {
	e.set.mu.Lock()
	defer e.set.mu.Unlock()
	if e.pins == 0 {
		invariant("unpin", e.name, "no pin held")
	}
	e.pins--
	e.set.reapLocked(e)
}

func (e *bufferEntry) retain(a Access) {
	e.set.mu.Lock()
	e.set.retainLocked(e, a)
	e.set.mu.Unlock()
}

func (e *bufferEntry) release(a Access) {
	e.set.mu.Lock()
	defer e.set.mu.Unlock()
	e.set.releaseLocked(e, a)
}

func (e *bufferEntry) counts() (readers, writers int) {
	e.set.mu.Lock()
	defer e.set.mu.Unlock()
	return e.readers, e.writers
}

func (e *bufferEntry) swap() {
	e.set.mu.Lock()
	e.front = 1 - e.front
	e.set.mu.Unlock()
}

// bindingFor returns the GPU buffer and binding type for a pass binding,
// reading the current front side.
func (e *bufferEntry) bindingFor(slot uint32, m Mode) gpucore.BufferBinding {
	e.set.mu.Lock()
	defer e.set.mu.Unlock()
	return gpucore.BufferBinding{Slot: slot, Buffer: e.bindID(m), Type: e.bindingType(m)}
}

func (e *bufferEntry) readbackSource() gpucore.BufferID {
	e.set.mu.Lock()
	defer e.set.mu.Unlock()
	return e.frontID()
}

func (e *bufferEntry) storeShadow(data []byte) {
	e.set.mu.Lock()
	defer e.set.mu.Unlock()
	if e.shadow != nil {
		copy(e.shadow, data)
	}
}

// writeIteration stores the iteration index at the start of the buffer. The
// calling group holds a write retain on e.
func (e *bufferEntry) writeIteration(iter uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], iter)

	e.set.mu.Lock()
	defer e.set.mu.Unlock()
	return e.set.uploadLocked(e, 0, b[:])
}
