package gcompute

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gogpu/gcompute/gpucore"
	"github.com/gogpu/gcompute/internal/staging"
)

// pendingCopy is a buffer-to-staging copy whose completion has not been
// observed yet.
type pendingCopy struct {
	group   *groupRun
	entry   *bufferEntry
	staging staging.Buffer
	size    uint64
	index   gpucore.SubmissionIndex

	// discard is set when a sibling copy of the same group failed. The copy
	// is still awaited so its staging buffer can be reused, but its payload
	// is dropped.
	discard bool
}

// drain handles a group in StateDraining. Once its final dispatch has
// completed, it either completes the group directly or issues one copy per
// return buffer.
func (e *Engine) drain(g *groupRun) {
	if g.copiesIssued {
		return
	}
	if err := e.adapter.Err(); err != nil {
		e.fail(g, fmt.Errorf("%w: group %d: final pass: %w", ErrDispatchFailed, g.id, err))
		return
	}
	if g.last != 0 && !e.adapter.IsComplete(g.last) {
		return
	}
	if len(g.returns) == 0 {
		e.complete(g)
		return
	}

	g.copiesIssued = true
	for _, b := range g.returns {
		size := b.layout.Size
		sb, err := e.staging.Acquire(size)
		if err != nil {
			e.abortCopies(g, fmt.Errorf("%w: group %d: staging for %q: %w", ErrReadbackFailed, g.id, b.name, err))
			return
		}
		idx, err := e.adapter.CopyBuffer(b.readbackSource(), sb.ID, size)
		if err != nil {
			e.staging.Release(sb)
			e.abortCopies(g, fmt.Errorf("%w: group %d: copy %q: %w", ErrReadbackFailed, g.id, b.name, err))
			return
		}
		e.copies = append(e.copies, &pendingCopy{group: g, entry: b, staging: sb, size: size, index: idx})
		g.outstanding++
		e.log().Debug("gcompute: copy submitted",
			"request", g.req.id, "group", g.id, "buffer", b.name, "bytes", size, "submission", idx)
	}
}

// abortCopies records err on g and marks its already submitted copies for
// discarding. The group completes once they have all finished.
func (e *Engine) abortCopies(g *groupRun, err error) {
	g.err = err
	for _, c := range e.copies {
		if c.group == g {
			c.discard = true
		}
	}
}

// collect polls every outstanding copy once. Completed copies are delivered
// in submission order; their staging buffers go back to the pool.
func (e *Engine) collect() {
	if len(e.copies) == 0 {
		return
	}
	var done, waiting []*pendingCopy
	for _, c := range e.copies {
		if e.adapter.IsComplete(c.index) {
			done = append(done, c)
		} else {
			waiting = append(waiting, c)
		}
	}
	e.copies = waiting
	slices.SortStableFunc(done, func(a, b *pendingCopy) int { return cmp.Compare(a.index, b.index) })

	// After device loss every copy reports complete but none has data.
	lost := e.adapter.Err()
	for _, c := range done {
		g := c.group
		g.outstanding--
		if !c.discard && g.err == nil {
			var data []byte
			err := lost
			if err == nil {
				data, err = e.adapter.ReadMapped(c.staging.ID, 0, c.size)
			}
			if err != nil {
				e.abortCopies(g, fmt.Errorf("%w: group %d: read %q: %w", ErrReadbackFailed, g.id, c.entry.name, err))
			} else {
				c.entry.storeShadow(data)
				e.stats.copies.Add(1)
				e.stats.bytesRead.Add(uint64(len(data)))
				e.bus.emit(CopyEvent{RequestID: g.req.id, GroupID: g.id, Buffer: c.entry.name, Payload: data})
			}
		}
		e.staging.Release(c.staging)
	}
}
