// Package backend is a registry of GPU adapter factories.
//
// Backend packages register named factories from init functions, and
// callers pick one by name or let Default try them in priority order:
//
//	import _ "github.com/gogpu/gcompute/backend/native"
//
//	adapter, name, err := backend.Default()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer adapter.Destroy()
//
// backend/native registers "vulkan", "metal", "dx12", "gl" and "noop".
// A HAL backend is only usable when its wgpu package is linked in, for
// example through github.com/gogpu/wgpu/hal/allbackends.
package backend
