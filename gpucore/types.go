package gpucore

// Resource IDs
//
// These opaque IDs represent GPU resources. Each adapter implementation
// maintains a mapping between IDs and actual backend resources.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// ComputePipelineID is an opaque handle to a compute pipeline together with
// its bind group and pipeline layouts.
type ComputePipelineID uint64

// SubmissionIndex identifies one queue submission. Indices are assigned in
// submission order and start at 1.
type SubmissionIndex uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageMapWrite indicates the buffer can be mapped for writing.
	BufferUsageMapWrite BufferUsage = 1 << 1

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 4

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 5
)

// Contains reports whether all bits of flag are set in u.
func (u BufferUsage) Contains(flag BufferUsage) bool {
	return u&flag == flag
}

// BindingType specifies how a buffer is bound to a compute shader.
type BindingType uint8

// Binding types.
const (
	// BindingTypeUniform is a uniform buffer binding (var<uniform>).
	BindingTypeUniform BindingType = iota + 1

	// BindingTypeReadOnlyStorage is a read-only storage buffer (var<storage, read>).
	BindingTypeReadOnlyStorage

	// BindingTypeStorage is a read-write storage buffer (var<storage, read_write>).
	BindingTypeStorage
)

// String returns the WGSL-style name of the binding type.
func (t BindingType) String() string {
	switch t {
	case BindingTypeUniform:
		return "uniform"
	case BindingTypeReadOnlyStorage:
		return "storage, read"
	case BindingTypeStorage:
		return "storage, read_write"
	default:
		return "invalid"
	}
}

// Writable reports whether a shader may write through this binding type.
func (t BindingType) Writable() bool {
	return t == BindingTypeStorage
}

// Limits describes the adapter limits relevant to compute orchestration.
type Limits struct {
	// MaxComputeWorkgroupsPerDimension bounds each component of a dispatch size.
	MaxComputeWorkgroupsPerDimension uint32

	// MaxBufferSize is the largest buffer the adapter can allocate, in bytes.
	MaxBufferSize uint64

	// MaxBindingsPerGroup bounds the number of bindings of one pipeline.
	MaxBindingsPerGroup uint32
}

// DefaultLimits returns the WebGPU default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxComputeWorkgroupsPerDimension: 65535,
		MaxBufferSize:                    256 << 20,
		MaxBindingsPerGroup:              1000,
	}
}

// CopyAlignment is the required alignment of buffer sizes and copy ranges.
const CopyAlignment = 4
