package gcompute

import (
	"fmt"
	"time"

	"github.com/gogpu/gcompute/gpucore"
)

// request is an admitted or queued start request.
type request struct {
	id        RequestID
	groups    []*groupRun
	pipelines []*pipelineEntry

	remaining int
	failed    int

	// started is set once any group leaves StatePending.
	started bool
}

type bufferUse struct {
	entry  *bufferEntry
	access Access
}

type resolvedBinding struct {
	entry *bufferEntry
	slot  uint32
	mode  Mode
}

type resolvedPass struct {
	label string

	// swap is set for swap passes; the dispatch fields are unused then.
	swap *bufferEntry

	pipeline   *pipelineEntry
	bindings   []resolvedBinding
	workgroups [3]uint32
	maxFreq    time.Duration
}

// groupRun is the scheduler's state for one group.
type groupRun struct {
	req   *request
	id    GroupID
	label string
	state GroupState

	passes     []resolvedPass
	uses       []bufferUse
	returns    []*bufferEntry
	iterBuf    *bufferEntry
	iterations int

	retained bool

	// iter and cursor point at the next pass to issue.
	iter   int
	cursor int

	// last is the group's most recent submission, 0 if none.
	last gpucore.SubmissionIndex

	lastRun map[int]time.Time

	copiesIssued bool
	outstanding  int

	err error
}

// claims records buffers reserved during one tick by groups that could not
// start yet. Later groups may not take conflicting retains on them, which
// keeps admission order across contended buffers.
type claims map[*bufferEntry]Access

func (c claims) add(g *groupRun) {
	for _, u := range g.uses {
		if u.access == AccessWrite || c[u.entry] == 0 {
			c[u.entry] = u.access
		}
	}
}

// blocked reports whether g conflicts with current retains or with claims
// from earlier groups. A writer needs the buffer free of every retain and
// claim; a reader only needs it free of write retains and write claims.
func (g *groupRun) blocked(c claims) bool {
	for _, u := range g.uses {
		readers, writers := u.entry.counts()
		claim, claimed := c[u.entry]
		if u.access == AccessWrite {
			if readers+writers > 0 || claimed {
				return true
			}
			continue
		}
		if writers > 0 || claim == AccessWrite {
			return true
		}
	}
	return false
}

// begin moves g to StateDispatching and retains every buffer it uses for its
// whole lifetime.
func (e *Engine) begin(g *groupRun) {
	for _, u := range g.uses {
		u.entry.retain(u.access)
	}
	g.retained = true
	g.state = StateDispatching
	g.req.started = true
	e.log().Debug("gcompute: group dispatching",
		"request", g.req.id, "group", g.id, "label", g.label, "buffers", len(g.uses))
}

// advance issues at most one pass of g. The pass is held back while the
// group's previous submission is still running or its MaxFrequency interval
// has not elapsed.
func (e *Engine) advance(g *groupRun, now time.Time) {
	if err := e.adapter.Err(); err != nil {
		e.fail(g, fmt.Errorf("%w: group %d pass %d: %w", ErrDispatchFailed, g.id, g.cursor, err))
		return
	}
	if g.last != 0 && !e.adapter.IsComplete(g.last) {
		return
	}

	p := &g.passes[g.cursor]
	if p.maxFreq > 0 {
		if t, ok := g.lastRun[g.cursor]; ok && now.Sub(t) < p.maxFreq {
			return
		}
	}

	if g.cursor == 0 && g.iterBuf != nil {
		if err := g.iterBuf.writeIteration(uint32(g.iter)); err != nil {
			e.fail(g, fmt.Errorf("%w: group %d iteration %d: write %q: %w",
				ErrDispatchFailed, g.id, g.iter, g.iterBuf.name, err))
			return
		}
	}

	if p.swap != nil {
		p.swap.swap()
		e.stats.swaps.Add(1)
		e.log().Debug("gcompute: buffers swapped",
			"request", g.req.id, "group", g.id, "buffer", p.swap.name)
	} else {
		desc := &gpucore.DispatchDesc{
			Label:      p.label,
			Pipeline:   p.pipeline.id,
			Bindings:   make([]gpucore.BufferBinding, len(p.bindings)),
			Workgroups: p.workgroups,
		}
		for i, b := range p.bindings {
			desc.Bindings[i] = b.entry.bindingFor(b.slot, b.mode)
		}
		idx, err := e.adapter.Dispatch(desc)
		if err != nil {
			e.fail(g, fmt.Errorf("%w: group %d pass %d (%s): %w",
				ErrDispatchFailed, g.id, g.cursor, p.label, err))
			return
		}
		g.last = idx
		e.stats.dispatches.Add(1)
		e.log().Debug("gcompute: pass submitted",
			"request", g.req.id, "group", g.id, "pass", g.cursor,
			"iteration", g.iter, "label", p.label, "submission", idx)
	}

	if p.maxFreq > 0 {
		if g.lastRun == nil {
			g.lastRun = make(map[int]time.Time)
		}
		g.lastRun[g.cursor] = now
	}

	g.cursor++
	if g.cursor == len(g.passes) {
		g.cursor = 0
		g.iter++
		if g.iter == g.iterations {
			g.state = StateDraining
		}
	}
}

// fail completes g with err. Failures happen at submission time, after the
// group's previous submission has completed, or after device loss, when
// nothing more will run. Either way its buffers are idle.
func (e *Engine) fail(g *groupRun, err error) {
	g.err = err
	e.complete(g)
}

// complete releases g's retains and pins and emits its Group-Done event,
// followed by Request-Done when it is the request's last group.
func (e *Engine) complete(g *groupRun) {
	if g.state == StateComplete {
		invariant("complete", g.label, "group %d completed twice", g.id)
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
	g.state = StateComplete

	r := g.req
	r.remaining--
	if g.err != nil {
		r.failed++
		e.stats.groupsFailed.Add(1)
		e.log().Warn("gcompute: group failed", "request", r.id, "group", g.id, "label", g.label, "err", g.err)
	} else {
		e.stats.groupsCompleted.Add(1)
	}
	e.bus.emit(GroupDoneEvent{RequestID: r.id, GroupID: g.id, Label: g.label, Err: g.err})

	if r.remaining == 0 {
		for _, pe := range r.pipelines {
			e.pipelines.unpin(pe)
		}
		e.stats.requestsCompleted.Add(1)
		e.bus.emit(RequestDoneEvent{RequestID: r.id, Groups: len(r.groups), Failed: r.failed})
		e.log().Info("gcompute: request done", "request", r.id, "groups", len(r.groups), "failed", r.failed)
	}
}

// abandon drops a request whose groups are all still pending.
func (e *Engine) abandon(r *request) {
	for _, g := range r.groups {
		for _, u := range g.uses {
			u.entry.unpin()
		}
	}
	for _, pe := range r.pipelines {
		e.pipelines.unpin(pe)
	}
}
