package backend

import (
	"errors"

	"github.com/gogpu/gcompute/gpucore"
)

// Backend errors.
var (
	// ErrBackendNotAvailable is returned when no registered backend could
	// open an adapter.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownBackend is returned by Open for names that were never
	// registered.
	ErrUnknownBackend = errors.New("backend: unknown backend")
)

// Factory opens a new GPU adapter. The caller owns the adapter and must
// call its Destroy method.
type Factory func() (gpucore.GPUAdapter, error)
