package gcompute

import (
	"errors"
	"fmt"
)

// resolved is the outcome of validating a start request: every name and
// handle the request uses, bound to the entries current at validation time.
type resolved struct {
	groups    []*groupRun
	pipelines []*pipelineEntry
}

// validate checks req and resolves it against its buffer set and the engine's
// pipelines. With pin set, every resolved entry and pipeline is pinned before
// the buffer set lock is released, so later registry changes cannot free them.
// On error nothing is pinned.
func (e *Engine) validate(req *StartRequest, pin bool) (*resolved, error) {
	if req.Buffers == nil {
		return nil, fmt.Errorf("%w: request has no buffer set", ErrGroupValidation)
	}
	if len(req.Groups) == 0 {
		return nil, fmt.Errorf("%w: request has no groups", ErrGroupValidation)
	}

	// Pipelines are resolved outside the buffer set lock.
	pipes := make(map[PipelineHandle]*pipelineEntry)
	var order []*pipelineEntry
	seen := make(map[GroupID]bool, len(req.Groups))
	for _, g := range req.Groups {
		if seen[g.ID] {
			return nil, &GroupValidationError{GroupID: g.ID, PassIndex: -1, Reason: "duplicate group id"}
		}
		seen[g.ID] = true
		for i, p := range g.Passes {
			if p.Swap != "" {
				continue
			}
			if _, ok := pipes[p.Pipeline]; ok {
				continue
			}
			pe, ok := e.pipelines.lookup(p.Pipeline)
			if !ok {
				return nil, &GroupValidationError{
					GroupID: g.ID, PassIndex: i,
					Reason: fmt.Sprintf("pipeline %d is not live", p.Pipeline),
					Err:    ErrUnknownPipeline,
				}
			}
			pipes[p.Pipeline] = pe
			order = append(order, pe)
		}
	}

	set := req.Buffers
	set.mu.Lock()
	defer set.mu.Unlock()

	var iterBuf *bufferEntry
	if req.IterationBuffer != "" {
		ib, ok := set.entries[req.IterationBuffer]
		switch {
		case !ok:
			return nil, fmt.Errorf("%w: iteration buffer %q: %w", ErrGroupValidation, req.IterationBuffer, ErrUnknownBuffer)
		case !ib.usage.Has(UsageHostWrite):
			return nil, fmt.Errorf("%w: iteration buffer %q is not host-writable", ErrGroupValidation, req.IterationBuffer)
		case ib.layout.Size < 4:
			return nil, fmt.Errorf("%w: iteration buffer %q is smaller than 4 bytes", ErrGroupValidation, req.IterationBuffer)
		}
		iterBuf = ib
	}

	limit := e.limits.MaxComputeWorkgroupsPerDimension
	out := &resolved{pipelines: order}
	for _, g := range req.Groups {
		run, err := resolveGroup(&g, set, pipes, iterBuf, limit)
		if err != nil {
			return nil, err
		}
		out.groups = append(out.groups, run)
	}

	if pin {
		for i, pe := range order {
			if !e.pipelines.pin(pe) {
				for _, prev := range order[:i] {
					e.pipelines.unpin(prev)
				}
				return nil, fmt.Errorf("%w: pipeline %q was evicted: %w", ErrGroupValidation, pe.label, ErrUnknownPipeline)
			}
		}
		for _, run := range out.groups {
			for _, u := range run.uses {
				u.entry.pins++
			}
		}
	}
	return out, nil
}

// resolveGroup validates one group. Caller must hold set.mu.
func resolveGroup(g *Group, set *BufferSet, pipes map[PipelineHandle]*pipelineEntry, iterBuf *bufferEntry, limit uint32) (*groupRun, error) {
	fail := func(pass int, err error, format string, args ...any) error {
		return &GroupValidationError{GroupID: g.ID, PassIndex: pass, Reason: fmt.Sprintf(format, args...), Err: err}
	}
	if len(g.Passes) == 0 {
		return nil, fail(-1, nil, "group has no passes")
	}
	if g.Iterations < 0 {
		return nil, fail(-1, nil, "negative iteration count %d", g.Iterations)
	}

	run := &groupRun{
		id:         g.ID,
		label:      g.Label,
		iterations: max(g.Iterations, 1),
		iterBuf:    iterBuf,
	}
	access := make(map[*bufferEntry]Access)
	var order []*bufferEntry
	use := func(e *bufferEntry, a Access) {
		prev, ok := access[e]
		if !ok {
			order = append(order, e)
		}
		if a == AccessWrite || prev == AccessWrite {
			access[e] = AccessWrite
		} else {
			access[e] = AccessRead
		}
	}
	lookup := func(pass int, name string) (*bufferEntry, error) {
		e, ok := set.entries[name]
		if !ok {
			return nil, fail(pass, ErrUnknownBuffer, "buffer %q is not declared", name)
		}
		return e, nil
	}

	for i, p := range g.Passes {
		if p.Swap != "" {
			e, err := lookup(i, p.Swap)
			if err != nil {
				return nil, err
			}
			if !e.layout.Double {
				return nil, fail(i, ErrConflictingUsage, "swap of %q, which is not a double buffer", p.Swap)
			}
			use(e, AccessWrite)
			run.passes = append(run.passes, resolvedPass{label: p.Label, swap: e})
			continue
		}

		pe := pipes[p.Pipeline]
		for d, n := range p.Workgroups {
			if n == 0 || n > limit {
				return nil, fail(i, nil, "workgroup count %d in dimension %d outside 1..%d", n, d, limit)
			}
		}
		rp := resolvedPass{
			label:      p.Label,
			pipeline:   pe,
			workgroups: p.Workgroups,
			maxFreq:    p.MaxFrequency,
		}
		if rp.label == "" {
			rp.label = pe.label
		}
		slots := make(map[uint32]bool, len(p.Bindings))
		for _, b := range p.Bindings {
			if slots[b.Slot] {
				return nil, fail(i, nil, "slot %d bound twice", b.Slot)
			}
			slots[b.Slot] = true

			e, err := lookup(i, b.Buffer)
			if err != nil {
				return nil, err
			}
			if err := checkMode(e, b.Mode); err != nil {
				return nil, fail(i, ErrConflictingUsage, "buffer %q: %v", b.Buffer, err)
			}
			want, ok := pe.slots[b.Slot]
			if !ok {
				return nil, fail(i, nil, "slot %d is not in the layout of pipeline %q", b.Slot, pe.label)
			}
			if got := e.bindingType(b.Mode); got != want {
				return nil, fail(i, nil, "buffer %q binds as %s, pipeline %q expects %s at slot %d", b.Buffer, got, pe.label, want, b.Slot)
			}
			a := AccessRead
			if b.Mode&ModeWrite != 0 {
				a = AccessWrite
			}
			use(e, a)
			rp.bindings = append(rp.bindings, resolvedBinding{entry: e, slot: b.Slot, mode: b.Mode})
		}
		if len(slots) != len(pe.slots) {
			return nil, fail(i, nil, "pipeline %q declares %d slots, pass binds %d", pe.label, len(pe.slots), len(slots))
		}
		run.passes = append(run.passes, rp)
	}

	for _, name := range g.Return {
		e, err := lookup(-1, name)
		if err != nil {
			return nil, err
		}
		if !e.usage.Has(UsageHostRead) {
			return nil, fail(-1, ErrConflictingUsage, "return buffer %q is not host-readable", name)
		}
		use(e, AccessRead)
		run.returns = append(run.returns, e)
	}
	if iterBuf != nil {
		use(iterBuf, AccessWrite)
	}

	for _, e := range order {
		run.uses = append(run.uses, bufferUse{entry: e, access: access[e]})
	}
	return run, nil
}

func checkMode(e *bufferEntry, m Mode) error {
	switch m {
	case ModeRead:
		if !e.usage.Has(UsageShaderRead) {
			return errors.New("read binding needs shader-read usage")
		}
	case ModeWrite:
		if !e.usage.Has(UsageShaderWrite) {
			return errors.New("write binding needs shader-write usage")
		}
	case ModeReadWrite:
		if !e.usage.Has(UsageShaderRead | UsageShaderWrite) {
			return errors.New("read-write binding needs shader-read and shader-write usage")
		}
		if e.layout.Double {
			return errors.New("double buffers bind read or write, not both")
		}
	default:
		return fmt.Errorf("invalid binding mode %d", m)
	}
	return nil
}
