package native

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gcompute/backend"
	"github.com/gogpu/gcompute/gpucore"
)

func init() {
	for name, b := range map[string]gputypes.Backend{
		"vulkan": gputypes.BackendVulkan,
		"metal":  gputypes.BackendMetal,
		"dx12":   gputypes.BackendDX12,
		"gl":     gputypes.BackendGL,
	} {
		backend.Register(name, func() (gpucore.GPUAdapter, error) {
			a, err := NewHeadless(b)
			if err != nil {
				return nil, err
			}
			return a, nil
		})
	}
	backend.Register("noop", func() (gpucore.GPUAdapter, error) {
		a, err := NewNoop()
		if err != nil {
			return nil, err
		}
		return a, nil
	})
}
