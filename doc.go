// Package gcompute orchestrates GPU compute work driven by a host frame loop.
//
// # Overview
//
// A host declares named GPU buffers in a [BufferSet], creates compute
// pipelines from WGSL, and submits [StartRequest] values made of pipeline
// groups. Once per frame the host calls [Engine.Tick]; the engine admits
// queued requests, submits at most one pass per running group, copies
// flagged buffers back to the host when a group finishes and reports
// progress through notifications returned by [Engine.Drain].
//
// No engine call waits for the GPU. Completion is detected by polling on a
// later tick.
//
// # Quick Start
//
//	adapter, err := native.NewHeadless(gputypes.BackendVulkan)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer adapter.Destroy()
//
//	eng, _ := gcompute.New(adapter)
//	defer eng.Close()
//
//	set := eng.NewBufferSet()
//	set.Register("in", gcompute.Layout{Size: 1024}, gcompute.UsageShaderRead|gcompute.UsageHostWrite)
//	set.Register("out", gcompute.Layout{Size: 1024}, gcompute.UsageShaderWrite|gcompute.UsageHostRead)
//
//	p, _ := eng.CreatePipeline(gcompute.PipelineDesc{
//	    Source:     src,
//	    EntryPoint: "main",
//	    Bindings: []gpucore.BindingLayout{
//	        {Slot: 0, Type: gpucore.BindingTypeReadOnlyStorage},
//	        {Slot: 1, Type: gpucore.BindingTypeStorage},
//	    },
//	})
//
//	eng.Start(gcompute.StartRequest{
//	    Buffers: set,
//	    Groups: []gcompute.Group{{
//	        ID: 1,
//	        Passes: []gcompute.Pass{{
//	            Pipeline:   p,
//	            Bindings:   []gcompute.Binding{{Buffer: "in", Slot: 0, Mode: gcompute.ModeRead}, {Buffer: "out", Slot: 1, Mode: gcompute.ModeWrite}},
//	            Workgroups: [3]uint32{4, 1, 1},
//	        }},
//	        Return: []string{"out"},
//	    }},
//	})
//
//	for !eng.Idle() {
//	    eng.Tick()
//	    for _, ev := range eng.Drain() {
//	        // handle CopyEvent, GroupDoneEvent, RequestDoneEvent
//	    }
//	}
//
// # Buffer lifetime
//
// Every buffer entry has an in-flight counter made of reader and writer
// retains. A group retains every buffer it references from the tick it
// starts dispatching until its readback copies have completed. While the
// counter is nonzero the host may not write, replace or remove the buffer;
// doing so panics with [*InvariantError]. Requests resolve buffer names when
// they are started, so replacing a name between requests never affects work
// already accepted.
//
// # Ordering
//
// Passes of a group run in declaration order, each waiting for the previous
// submission to complete. Groups are independent except where they share a
// buffer: a group writing a buffer waits until no other group retains it, and
// a group reading a buffer waits for writers to finish. Groups that could not
// start keep their claim on contended buffers, so later groups do not
// overtake them.
//
// # Backends
//
// The engine talks to the GPU through [gpucore.GPUAdapter]. The backend/native
// package implements it on top of wgpu's HAL (Vulkan, Metal, DX12, GLES or
// the noop device); internal/simgpu provides an in-memory adapter for tests.
package gcompute
