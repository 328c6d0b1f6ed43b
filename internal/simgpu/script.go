package simgpu

import (
	"slices"

	"github.com/gogpu/gcompute/gpucore"
)

// Complete marks submissions finished. Unknown indices are ignored.
func (a *Adapter) Complete(idx ...gpucore.SubmissionIndex) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, i := range idx {
		if i > 0 && i <= a.lastSub {
			a.done[i] = true
		}
	}
}

// CompleteAll marks every submission so far finished.
func (a *Adapter) CompleteAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := gpucore.SubmissionIndex(1); i <= a.lastSub; i++ {
		a.done[i] = true
	}
}

// Pending returns the submissions not yet complete, in submission order.
func (a *Adapter) Pending() []Submission {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Submission
	for _, s := range a.subs {
		if !a.done[s.Index] {
			out = append(out, s)
		}
	}
	return out
}

// Submissions returns every recorded submission in submission order.
func (a *Adapter) Submissions() []Submission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.subs)
}

// Dispatches returns the recorded dispatch submissions.
func (a *Adapter) Dispatches() []Submission {
	return a.filter(KindDispatch)
}

// Copies returns the recorded copy submissions.
func (a *Adapter) Copies() []Submission {
	return a.filter(KindCopy)
}

func (a *Adapter) filter(k Kind) []Submission {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Submission
	for _, s := range a.subs {
		if s.Kind == k {
			out = append(out, s)
		}
	}
	return out
}

// Data returns a copy of a buffer's bytes, or nil if it does not exist.
func (a *Adapter) Data(id gpucore.BufferID) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buffers[id]; ok {
		return slices.Clone(b.data)
	}
	return nil
}

// LiveBuffers returns the number of buffers not destroyed.
func (a *Adapter) LiveBuffers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// LivePipelines returns the number of pipelines not destroyed.
func (a *Adapter) LivePipelines() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pipelines)
}

// Writes returns the number of successful WriteBuffer calls.
func (a *Adapter) Writes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writes
}

// Destroyed reports whether Destroy was called.
func (a *Adapter) Destroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}

// Waits returns the number of WaitIdle calls.
func (a *Adapter) Waits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waits
}
