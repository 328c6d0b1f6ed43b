// Package staging pools host-readable GPU buffers used as copy destinations
// for readback.
package staging

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gcompute/gpucore"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("staging: pool closed")

// Usage is the usage every staging buffer is created with.
const Usage = gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst

// minClass is the smallest size class handed out.
const minClass = 256

// maxClass is the largest power-of-two class.
const maxClass = 1 << 63

// Buffer is a staging buffer checked out of a Pool.
type Buffer struct {
	ID gpucore.BufferID

	// Size is the allocated size, a power of two no smaller than the request.
	Size uint64
}

// Stats tracks pool activity.
type Stats struct {
	Allocations uint64 // buffers created on the adapter
	Reuses      uint64 // Acquire calls served from the free lists
	Evictions   uint64 // idle buffers destroyed because the pool was full
	Live        int    // buffers currently checked out
	IdleBytes   uint64 // bytes held on the free lists
}

// Pool hands out staging buffers grouped by power-of-two size class.
//
// Released buffers go back to the free list of their class. When the idle
// bytes would exceed maxIdleBytes, the released buffer is destroyed instead.
// Pool is safe for concurrent use.
type Pool struct {
	adapter      gpucore.GPUAdapter
	maxIdleBytes uint64

	mu        sync.Mutex
	free      map[uint64][]gpucore.BufferID
	live      map[gpucore.BufferID]uint64
	idleBytes uint64
	closed    bool
	stats     Stats
}

// NewPool creates a pool on adapter. maxIdleBytes of 0 means unlimited.
func NewPool(adapter gpucore.GPUAdapter, maxIdleBytes uint64) *Pool {
	return &Pool{
		adapter:      adapter,
		maxIdleBytes: maxIdleBytes,
		free:         make(map[uint64][]gpucore.BufferID),
		live:         make(map[gpucore.BufferID]uint64),
	}
}

// SizeClass returns the allocation size used for a request of size bytes.
// Sizes above the largest power of two are returned unchanged.
func SizeClass(size uint64) uint64 {
	if size > maxClass {
		return size
	}
	c := uint64(minClass)
	for c < size {
		c <<= 1
	}
	return c
}

// Acquire returns a staging buffer of at least size bytes.
func (p *Pool) Acquire(size uint64) (Buffer, error) {
	if size == 0 || size > maxClass {
		return Buffer{}, fmt.Errorf("staging: acquire %d bytes: %w", size, gpucore.ErrInvalidSize)
	}
	class := SizeClass(size)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Buffer{}, ErrPoolClosed
	}
	if ids := p.free[class]; len(ids) > 0 {
		id := ids[len(ids)-1]
		p.free[class] = ids[:len(ids)-1]
		p.idleBytes -= class
		p.live[id] = class
		p.stats.Reuses++
		p.mu.Unlock()
		return Buffer{ID: id, Size: class}, nil
	}
	p.mu.Unlock()

	id, err := p.adapter.CreateBuffer("staging", class, Usage)
	if err != nil {
		return Buffer{}, fmt.Errorf("staging: create %d-byte buffer: %w", class, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.adapter.DestroyBuffer(id)
		return Buffer{}, ErrPoolClosed
	}
	p.live[id] = class
	p.stats.Allocations++
	return Buffer{ID: id, Size: class}, nil
}

// Release returns a buffer to the pool. The caller must not touch the buffer
// afterwards. Buffers not checked out of this pool are ignored.
func (p *Pool) Release(b Buffer) {
	p.mu.Lock()
	class, ok := p.live[b.ID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.live, b.ID)

	if p.closed || (p.maxIdleBytes > 0 && p.idleBytes+class > p.maxIdleBytes) {
		if !p.closed {
			p.stats.Evictions++
		}
		p.mu.Unlock()
		p.adapter.DestroyBuffer(b.ID)
		return
	}
	p.free[class] = append(p.free[class], b.ID)
	p.idleBytes += class
	p.mu.Unlock()
}

// Stats returns a snapshot of pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Live = len(p.live)
	s.IdleBytes = p.idleBytes
	return s
}

// Close destroys every idle buffer. Buffers still checked out are destroyed
// when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	free := p.free
	p.free = make(map[uint64][]gpucore.BufferID)
	p.idleBytes = 0
	p.mu.Unlock()

	for _, ids := range free {
		for _, id := range ids {
			p.adapter.DestroyBuffer(id)
		}
	}
}
