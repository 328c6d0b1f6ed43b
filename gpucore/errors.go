package gpucore

import "errors"

// Errors shared by GPUAdapter implementations.
var (
	// ErrDeviceLost is returned (possibly wrapped) when the GPU device is lost.
	ErrDeviceLost = errors.New("gpucore: GPU device lost")

	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource")

	// ErrInvalidSize is returned for zero or misaligned sizes and out-of-range
	// copy or read regions.
	ErrInvalidSize = errors.New("gpucore: invalid size")

	// ErrUnsupported is returned when the adapter cannot perform an operation.
	ErrUnsupported = errors.New("gpucore: operation not supported")
)
