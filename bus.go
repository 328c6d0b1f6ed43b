package gcompute

import (
	"slices"
	"sync"
)

// bus carries start requests in and notifications out. Both directions are
// plain queues polled by the tick and the host; nothing calls back into host
// code.
type bus struct {
	mu       sync.Mutex
	inbound  []*request
	outbound []Event
	ready    chan struct{}
}

func newBus() *bus {
	return &bus{ready: make(chan struct{}, 1)}
}

func (b *bus) push(r *request) {
	b.mu.Lock()
	b.inbound = append(b.inbound, r)
	b.mu.Unlock()
}

// admit pops up to n requests in arrival order.
func (b *bus) admit(n int) []*request {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, len(b.inbound))
	out := slices.Clone(b.inbound[:n])
	b.inbound = slices.Delete(b.inbound, 0, n)
	return out
}

// remove drops a queued request and returns it, or nil if id is not queued.
func (b *bus) remove(id RequestID) *request {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, r := range b.inbound {
		if r.id == id {
			b.inbound = slices.Delete(b.inbound, i, i+1)
			return r
		}
	}
	return nil
}

func (b *bus) queued() []*request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.inbound)
}

func (b *bus) emit(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	b.mu.Lock()
	b.outbound = append(b.outbound, evs...)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *bus) drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.outbound
	b.outbound = nil
	return out
}
