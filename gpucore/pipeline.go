package gpucore

// BindingLayout declares one slot of a compute pipeline's bind group 0.
type BindingLayout struct {
	Slot uint32
	Type BindingType
}

// ComputePipelineDesc describes a compute pipeline built from WGSL.
type ComputePipelineDesc struct {
	// Label is an optional debug name.
	Label string

	// Source is the WGSL module source.
	Source string

	// EntryPoint is the @compute function name.
	EntryPoint string

	// Bindings is the layout of bind group 0, in any order.
	Bindings []BindingLayout
}

// BufferBinding binds a buffer to a slot for one dispatch.
type BufferBinding struct {
	Slot   uint32
	Buffer BufferID
	Type   BindingType
}

// DispatchDesc describes one compute dispatch submission.
type DispatchDesc struct {
	// Label is an optional debug name used for the command encoder and pass.
	Label string

	Pipeline ComputePipelineID
	Bindings []BufferBinding

	// Workgroups is the dispatch size in workgroups (x, y, z).
	Workgroups [3]uint32
}
