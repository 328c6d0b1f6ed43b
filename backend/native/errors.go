package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNotInitialized is returned when an adapter is used after Destroy.
	ErrNotInitialized = errors.New("native: adapter not initialized")

	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrBackendUnavailable is returned when the requested HAL backend is not
	// compiled in or fails to create an instance.
	ErrBackendUnavailable = errors.New("native: HAL backend unavailable")

	// ErrShaderCompile is returned when WGSL fails to compile to SPIR-V.
	ErrShaderCompile = errors.New("native: shader compilation failed")

	// ErrNoHALAccess is returned by NewFromProvider when the provider does
	// not expose its HAL device and queue.
	ErrNoHALAccess = errors.New("native: provider does not expose HAL device")
)
