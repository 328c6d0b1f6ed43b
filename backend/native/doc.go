// Package native implements gpucore.GPUAdapter on gogpu/wgpu's HAL.
//
// A [HALAdapter] wraps one hal.Device and its queue. Each dispatch is
// recorded into its own command buffer with a bind group built from the
// dispatch's buffer bindings, submitted, and tracked by submission index.
// Completion is detected with the queue's non-blocking PollCompleted;
// per-submission resources are reclaimed once their index has completed.
//
// Adapters can be opened headless on a named backend with [NewHeadless], or
// built from a host window's device with [NewFromProvider]. Compute shaders
// are WGSL; for SPIR-V backends they are compiled with naga first.
package native
