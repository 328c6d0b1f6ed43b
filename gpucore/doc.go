// Package gpucore defines the GPU boundary used by the gcompute engine.
//
// The engine never talks to a graphics API directly. Everything it needs from
// the host graphics runtime is expressed by the [GPUAdapter] interface:
//
//   - buffer creation, destruction and host uploads
//   - compute pipeline creation from WGSL
//   - dispatch submission and buffer-to-staging copy submission
//   - a non-blocking completion query per [SubmissionIndex]
//   - reading a completed staging buffer into host memory
//
// # Architecture
//
//	               +-----------------+
//	               |    gcompute     |
//	               | (Engine, ticks) |
//	               +--------+--------+
//	                        |
//	                 gpucore.GPUAdapter
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	| backend/native  |          | internal/simgpu |
//	|  (hal.Device)   |          | (scripted fake) |
//	+--------+--------+          +-----------------+
//	         |
//	+--------v--------+
//	|   gogpu/wgpu    |
//	|   (Pure Go)     |
//	+-----------------+
//
// # Resource Management
//
// GPU resources are referred to by opaque IDs ([BufferID],
// [ComputePipelineID]). Adapters own the mapping between IDs and backend
// resources. ID zero ([InvalidID]) never names a live resource.
//
// # Completion
//
// Every submitting call returns a [SubmissionIndex]. Callers learn that the
// GPU finished the work by asking [GPUAdapter.IsComplete], which must never
// block. Adapters are free to complete submissions out of order.
//
// After device loss IsComplete reports true for everything so that callers
// stop waiting, and [GPUAdapter.Err] returns an error wrapping
// [ErrDeviceLost]. Work observed complete while Err is non-nil must be
// treated as failed. [GPUAdapter.WaitIdle] is the only blocking wait.
package gpucore
