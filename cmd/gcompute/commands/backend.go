package commands

import (
	// Register the platform HAL backends (Vulkan, Metal, DX12, GLES).
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/gcompute/backend"
	"github.com/gogpu/gcompute/gpucore"
	"github.com/gogpu/gcompute/internal/simgpu"
)

// openAdapter opens the named backend. The caller destroys the adapter.
// "sim" is not registered with the backend registry so that "auto" never
// falls back to it.
func (a *app) openAdapter(name string) (gpucore.GPUAdapter, error) {
	switch name {
	case "sim":
		return simgpu.New(), nil
	case "auto":
		adapter, chosen, err := backend.Default()
		if err != nil {
			return nil, err
		}
		a.log.Info("gcompute: backend selected", "backend", chosen)
		return adapter, nil
	}
	return backend.Open(name)
}
