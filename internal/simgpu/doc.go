// Package simgpu is an in-memory gpucore.GPUAdapter with scripted completion.
//
// Buffers are Go byte slices. Dispatches run an optional Go kernel registered
// per entry point, and copies move bytes, both at submission time, which
// matches queue order. Completion is decoupled from execution: by default
// every submission completes immediately, like hal/noop, while
// WithManualCompletion leaves each submission pending until Complete is
// called, in any order. Failure hooks inject dispatch, copy or device-lost
// errors.
package simgpu
