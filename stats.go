package gcompute

import "sync/atomic"

// Stats is a snapshot of engine counters.
type Stats struct {
	Ticks uint64

	RequestsStarted   uint64
	RequestsRejected  uint64
	RequestsWithdrawn uint64
	RequestsCompleted uint64

	GroupsCompleted uint64
	GroupsFailed    uint64

	Dispatches uint64
	Swaps      uint64
	Copies     uint64
	BytesRead  uint64

	ActiveRequests  int
	QueuedRequests  int
	PipelinesCached int
	StagingLive     int
}

type engineStats struct {
	ticks atomic.Uint64

	requestsStarted   atomic.Uint64
	requestsRejected  atomic.Uint64
	requestsWithdrawn atomic.Uint64
	requestsCompleted atomic.Uint64

	groupsCompleted atomic.Uint64
	groupsFailed    atomic.Uint64

	dispatches atomic.Uint64
	swaps      atomic.Uint64
	copies     atomic.Uint64
	bytesRead  atomic.Uint64
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Ticks:             e.stats.ticks.Load(),
		RequestsStarted:   e.stats.requestsStarted.Load(),
		RequestsRejected:  e.stats.requestsRejected.Load(),
		RequestsWithdrawn: e.stats.requestsWithdrawn.Load(),
		RequestsCompleted: e.stats.requestsCompleted.Load(),
		GroupsCompleted:   e.stats.groupsCompleted.Load(),
		GroupsFailed:      e.stats.groupsFailed.Load(),
		Dispatches:        e.stats.dispatches.Load(),
		Swaps:             e.stats.swaps.Load(),
		Copies:            e.stats.copies.Load(),
		BytesRead:         e.stats.bytesRead.Load(),
		QueuedRequests:    len(e.bus.queued()),
		PipelinesCached:   e.pipelines.len(),
		StagingLive:       e.staging.Stats().Live,
	}
	e.tickMu.Lock()
	s.ActiveRequests = len(e.active)
	e.tickMu.Unlock()
	return s
}
