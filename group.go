package gcompute

import "time"

// RequestID identifies a start request within one engine. IDs start at 1.
type RequestID uint64

// GroupID identifies a pipeline group within its start request.
type GroupID uint32

// Binding attaches a buffer to a pipeline slot for one pass.
type Binding struct {
	Buffer string
	Slot   uint32
	Mode   Mode
}

// Pass is one step of a pipeline group: a compute dispatch, or a swap of a
// double buffer's front and back sides when Swap is set.
type Pass struct {
	Label string

	Pipeline   PipelineHandle
	Bindings   []Binding
	Workgroups [3]uint32

	// MaxFrequency is the minimum time between two submissions of this pass.
	// Zero means no throttle.
	MaxFrequency time.Duration

	// Swap names a double buffer to swap. A swap pass submits no GPU work
	// and ignores the dispatch fields.
	Swap string
}

// SwapPass returns a pass that swaps the sides of the named double buffer.
func SwapPass(buffer string) Pass {
	return Pass{Label: "swap " + buffer, Swap: buffer}
}

// Group is an ordered list of passes sharing a completion and readback
// lifecycle.
type Group struct {
	ID    GroupID
	Label string

	Passes []Pass

	// Iterations repeats the pass list. 0 and 1 both run it once.
	Iterations int

	// Return lists buffers copied back to the host after the last pass.
	Return []string
}

// StartRequest is the unit of work submitted to an engine.
type StartRequest struct {
	Buffers *BufferSet
	Groups  []Group

	// IterationBuffer optionally names a host-writable buffer that receives
	// the zero-based iteration index (little-endian uint32 at offset 0)
	// before each iteration of each group.
	IterationBuffer string
}

// GroupState is the lifecycle state of a group.
type GroupState uint8

// Group states. Complete is terminal and entered exactly once.
const (
	StatePending GroupState = iota
	StateDispatching
	StateDraining
	StateComplete
)

func (s GroupState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}
