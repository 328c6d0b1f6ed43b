package gcompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/gcompute/gpucore"
	"github.com/gogpu/gcompute/internal/staging"
)

// Engine orchestrates compute work on one GPU adapter.
//
// All engine state advances in Tick, which the host calls once per frame.
// Start, Withdraw, Drain and the pipeline methods may be called from any
// goroutine; ticks are serialized.
type Engine struct {
	adapter gpucore.GPUAdapter
	opts    options
	limits  gpucore.Limits

	bus       *bus
	pipelines *pipelines
	staging   *staging.Pool

	// tickMu serializes ticks, admission to the bus, withdrawals and Close.
	// The fields below it are only touched with tickMu held.
	tickMu sync.Mutex
	active []*request
	copies []*pendingCopy
	closed bool

	nextRequest RequestID

	stats engineStats
}

// New creates an engine on adapter. The engine does not take ownership of
// the adapter; Close leaves it usable.
func New(adapter gpucore.GPUAdapter, opts ...Option) (*Engine, error) {
	if adapter == nil {
		return nil, errors.New("gcompute: nil adapter")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	e := &Engine{
		adapter:   adapter,
		opts:      o,
		limits:    adapter.Limits(),
		bus:       newBus(),
		pipelines: newPipelines(adapter, o.pipelineCacheSize),
		staging:   staging.NewPool(adapter, o.stagingIdleBytes),
	}
	e.log().Info("gcompute: engine created",
		"max_workgroups", e.limits.MaxComputeWorkgroupsPerDimension,
		"max_buffer", e.limits.MaxBufferSize,
		"admit_per_tick", o.admitPerTick)
	return e, nil
}

func (e *Engine) log() *slog.Logger {
	if e.opts.logger != nil {
		return e.opts.logger
	}
	return Logger()
}

// Limits returns the adapter limits the engine validates against.
func (e *Engine) Limits() gpucore.Limits { return e.limits }

// NewBufferSet creates an empty buffer set on the engine's adapter.
func (e *Engine) NewBufferSet() *BufferSet {
	return NewBufferSet(e.adapter)
}

// CreatePipeline compiles a compute pipeline, or returns the handle of an
// identical live one.
func (e *Engine) CreatePipeline(desc PipelineDesc) (PipelineHandle, error) {
	if e.isClosed() {
		return 0, ErrClosed
	}
	return e.pipelines.create(&desc)
}

// DestroyPipeline frees a pipeline. It fails with ErrPipelineInUse while a
// queued or active request references it.
func (e *Engine) DestroyPipeline(h PipelineHandle) error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.pipelines.destroy(h)
}

// Validate checks req without starting it.
func (e *Engine) Validate(req *StartRequest) error {
	_, err := e.validate(req, false)
	return err
}

// Start validates req and queues it for admission on a later tick.
//
// A rejected request leaves no state behind and does not consume an id.
// Accepted requests reference the buffer entries current at this call;
// the host may replace names afterwards without affecting them.
func (e *Engine) Start(req StartRequest) (RequestID, error) {
	if e.isClosed() {
		return 0, ErrClosed
	}
	res, err := e.validate(&req, true)
	if err != nil {
		e.stats.requestsRejected.Add(1)
		e.log().Debug("gcompute: request rejected", "err", err)
		return 0, err
	}

	r := &request{
		groups:    res.groups,
		pipelines: res.pipelines,
		remaining: len(res.groups),
	}
	for _, g := range r.groups {
		g.req = r
		g.state = StatePending
	}

	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.closed {
		e.abandon(r)
		return 0, ErrClosed
	}
	e.nextRequest++
	r.id = e.nextRequest
	id := r.id
	e.bus.push(r)
	e.stats.requestsStarted.Add(1)
	e.log().Debug("gcompute: request queued", "request", id, "groups", len(r.groups))
	return id, nil
}

// Withdraw removes a request whose groups are all still pending. Once any
// group has started dispatching it fails with ErrNotCancellable.
func (e *Engine) Withdraw(id RequestID) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if r := e.bus.remove(id); r != nil {
		e.abandon(r)
		e.stats.requestsWithdrawn.Add(1)
		return nil
	}
	for i, r := range e.active {
		if r.id != id {
			continue
		}
		if r.started {
			return fmt.Errorf("%w: request %d", ErrNotCancellable, id)
		}
		e.active = slices.Delete(e.active, i, i+1)
		e.abandon(r)
		e.stats.requestsWithdrawn.Add(1)
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownRequest, id)
}

// Tick advances the engine by one step: it admits queued requests, starts
// pending groups whose buffers are free, issues at most one pass per
// dispatching group, issues readback copies for drained groups and polls
// outstanding copies once. Tick never waits for the GPU.
func (e *Engine) Tick() error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.closed {
		return ErrClosed
	}
	now := e.opts.clock()
	e.stats.ticks.Add(1)

	for _, r := range e.bus.admit(e.opts.admitPerTick) {
		e.active = append(e.active, r)
		e.log().Debug("gcompute: request admitted", "request", r.id)
	}

	c := make(claims)
	for _, r := range e.active {
		for _, g := range r.groups {
			switch g.state {
			case StatePending:
				if g.blocked(c) {
					c.add(g)
					continue
				}
				e.begin(g)
				e.advance(g, now)
			case StateDispatching:
				e.advance(g, now)
			}
			if g.state == StateDraining {
				e.drain(g)
			}
		}
	}

	e.collect()

	for _, r := range e.active {
		for _, g := range r.groups {
			if g.state == StateDraining && g.copiesIssued && g.outstanding == 0 {
				e.complete(g)
			}
		}
	}

	e.active = slices.DeleteFunc(e.active, func(r *request) bool { return r.remaining == 0 })
	return nil
}

// Drain returns and clears the notifications emitted since the last call,
// in emission order.
func (e *Engine) Drain() []Event {
	return e.bus.drain()
}

// Ready returns a channel that receives a value after notifications have
// been emitted. It is a hint for hosts that drain from another goroutine;
// Drain may still return nothing.
func (e *Engine) Ready() <-chan struct{} {
	return e.bus.ready
}

// State returns the state of group gid of request id. ok is false once the
// request has finished and been pruned, or if it never existed.
func (e *Engine) State(id RequestID, gid GroupID) (state GroupState, ok bool) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	find := func(reqs []*request) (GroupState, bool) {
		for _, r := range reqs {
			if r.id != id {
				continue
			}
			for _, g := range r.groups {
				if g.id == gid {
					return g.state, true
				}
			}
		}
		return 0, false
	}
	if s, ok := find(e.active); ok {
		return s, true
	}
	return find(e.bus.queued())
}

// Idle reports whether no request is queued or active.
func (e *Engine) Idle() bool {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return len(e.active) == 0 && len(e.bus.queued()) == 0
}

// Run ticks the engine every interval until ctx is done or a tick fails.
// It returns nil when ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("gcompute: run: non-positive interval %v", interval)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := e.Tick(); err != nil {
				return err
			}
		}
	}
}

// Close stops the engine. If dispatches or copies are still running it
// blocks in GPUAdapter.WaitIdle until they finish, so no buffer is freed
// under the GPU. Retains and pins held by unfinished requests are then
// released, cached pipelines and staging buffers are destroyed, and
// subsequent calls fail with ErrClosed. No notifications are emitted for
// abandoned work. Close does not destroy the adapter or any buffer set.
func (e *Engine) Close() {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.closed {
		return
	}
	e.closed = true

	if e.busyLocked() {
		if err := e.adapter.WaitIdle(); err != nil {
			e.log().Warn("gcompute: wait idle at close", "err", err)
		}
	}

	for _, r := range append(e.active, e.bus.queued()...) {
		for _, g := range r.groups {
			if g.state == StateComplete {
				continue
			}
			if g.retained {
				for _, u := range g.uses {
					u.entry.release(u.access)
				}
				g.retained = false
			}
			for _, u := range g.uses {
				u.entry.unpin()
			}
		}
	}
	for _, c := range e.copies {
		e.staging.Release(c.staging)
	}
	e.active, e.copies = nil, nil
	e.bus.admit(len(e.bus.queued()))

	e.staging.Close()
	e.pipelines.close()
	e.log().Info("gcompute: engine closed")
}

// busyLocked reports whether any submission made by the engine may still be
// running on the GPU.
func (e *Engine) busyLocked() bool {
	for _, c := range e.copies {
		if !e.adapter.IsComplete(c.index) {
			return true
		}
	}
	for _, r := range e.active {
		for _, g := range r.groups {
			if g.state != StateComplete && g.last != 0 && !e.adapter.IsComplete(g.last) {
				return true
			}
		}
	}
	return false
}

func (e *Engine) isClosed() bool {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.closed
}
