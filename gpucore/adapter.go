package gpucore

// GPUAdapter is the set of host graphics runtime capabilities consumed by the
// compute engine.
//
// Implementations must be safe for concurrent use. Submitting calls return as
// soon as the work is queued; none of them waits for the GPU.
type GPUAdapter interface {
	// Limits returns the adapter limits.
	Limits() Limits

	// CreateBuffer creates a GPU buffer of size bytes.
	CreateBuffer(label string, size uint64, usage BufferUsage) (BufferID, error)

	// DestroyBuffer releases a GPU buffer. Unknown IDs are ignored.
	DestroyBuffer(id BufferID)

	// WriteBuffer uploads data into a buffer at offset. The write is ordered
	// before any submission made after it returns.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// CreateComputePipeline compiles desc.Source and builds a compute pipeline
	// with a single bind group laid out as desc.Bindings.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a pipeline and its layouts.
	DestroyComputePipeline(id ComputePipelineID)

	// Dispatch encodes and submits one compute pass.
	Dispatch(desc *DispatchDesc) (SubmissionIndex, error)

	// CopyBuffer encodes and submits a copy of size bytes from the start of src
	// to the start of dst.
	CopyBuffer(src, dst BufferID, size uint64) (SubmissionIndex, error)

	// IsComplete reports whether the submission has finished on the GPU.
	// It never blocks. Once the device is lost every submission reports
	// complete; Err tells finished work from abandoned work.
	IsComplete(idx SubmissionIndex) bool

	// Err returns nil while the device is usable and an error wrapping
	// ErrDeviceLost once it has been lost.
	Err() error

	// WaitIdle blocks until every submission made so far has finished.
	WaitIdle() error

	// ReadMapped maps a MapRead buffer and returns a copy of size bytes
	// starting at offset. The caller must only read buffers whose last
	// writing submission is complete.
	ReadMapped(id BufferID, offset, size uint64) ([]byte, error)

	// Destroy waits for the device to go idle and releases every resource
	// still owned by the adapter.
	Destroy()
}
