package native

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gcompute/gpucore"
)

// NewHeadless opens a device on the named HAL backend without a surface.
// The backend must be registered, typically by importing its package or
// github.com/gogpu/wgpu/hal/allbackends for side effects.
//
// Discrete and integrated GPUs are preferred over other adapter types.
// Vulkan devices receive SPIR-V compiled by naga; other backends receive
// WGSL. The returned adapter owns the device and destroys it in Destroy.
func NewHeadless(backend gputypes.Backend, opts ...Option) (*HALAdapter, error) {
	api, ok := hal.GetBackend(backend)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, backend)
	}
	return openBackend(api, backend == gputypes.BackendVulkan, opts)
}

// NewNoop opens the HAL noop device. Submissions complete immediately and
// buffer copies move no data, so it is useful for exercising the host-side
// engine without a GPU.
func NewNoop(opts ...Option) (*HALAdapter, error) {
	return openBackend(noop.API{}, false, opts)
}

func openBackend(api hal.Backend, spirv bool, opts []Option) (*HALAdapter, error) {
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %w", ErrBackendUnavailable, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), selected.Capabilities.Limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device %q: %w", selected.Info.Name, err)
	}

	all := append([]Option{
		WithSPIRV(spirv),
		WithLimits(convertLimits(selected.Capabilities.Limits)),
	}, opts...)
	a, err := NewHALAdapter(openDev.Device, openDev.Queue, all...)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	a.release = func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	slogger().Info("native: device opened",
		"backend", api.Variant(),
		"adapter", selected.Info.Name,
		"spirv", a.spirv)
	return a, nil
}

// NewFromProvider wraps a device owned by a host application (for example a
// gogpu window). The provider must also expose HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue. The adapter never
// destroys the shared device.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*HALAdapter, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALAccess
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHALAccess)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHALAccess)
	}
	a, err := NewHALAdapter(device, queue, opts...)
	if err != nil {
		return nil, err
	}
	slogger().Info("native: using shared device", "adapter", provider.AdapterInfo().Name)
	return a, nil
}

// Backends returns the names of the HAL backends registered in this binary.
func Backends() []string {
	avail := hal.AvailableBackends()
	names := make([]string, 0, len(avail))
	for _, b := range avail {
		names = append(names, b.String())
	}
	return names
}

func convertLimits(l gputypes.Limits) gpucore.Limits {
	return gpucore.Limits{
		MaxComputeWorkgroupsPerDimension: l.MaxComputeWorkgroupsPerDimension,
		MaxBufferSize:                    l.MaxBufferSize,
		MaxBindingsPerGroup:              l.MaxBindingsPerBindGroup,
	}
}
