package simgpu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gcompute/gpucore"
)

func TestDispatchRunsKernel(t *testing.T) {
	a := New()
	buf, err := a.CreateBuffer("data", 16, gpucore.BufferUsageStorage)
	if err != nil {
		t.Fatal(err)
	}
	p, err := a.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Source:     "@compute fn fill() {}",
		EntryPoint: "fill",
		Bindings:   []gpucore.BindingLayout{{Slot: 0, Type: gpucore.BindingTypeStorage}},
	})
	if err != nil {
		t.Fatal(err)
	}
	a.SetKernel("fill", func(c *Call) {
		for i := range c.Buffer(0) {
			c.Buffer(0)[i] = byte(c.Workgroups[0])
		}
	})

	idx, err := a.Dispatch(&gpucore.DispatchDesc{
		Pipeline:   p,
		Bindings:   []gpucore.BufferBinding{{Slot: 0, Buffer: buf, Type: gpucore.BindingTypeStorage}},
		Workgroups: [3]uint32{7, 1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsComplete(idx) {
		t.Error("automatic completion expected")
	}
	if got := a.Data(buf); !bytes.Equal(got, bytes.Repeat([]byte{7}, 16)) {
		t.Errorf("data = %v", got)
	}
}

func TestDispatchRejectsLayoutMismatch(t *testing.T) {
	a := New()
	buf, _ := a.CreateBuffer("data", 16, gpucore.BufferUsageStorage)
	p, _ := a.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Source:     "x",
		EntryPoint: "main",
		Bindings:   []gpucore.BindingLayout{{Slot: 0, Type: gpucore.BindingTypeReadOnlyStorage}},
	})

	_, err := a.Dispatch(&gpucore.DispatchDesc{
		Pipeline:   p,
		Bindings:   []gpucore.BufferBinding{{Slot: 0, Buffer: buf, Type: gpucore.BindingTypeStorage}},
		Workgroups: [3]uint32{1, 1, 1},
	})
	if err == nil {
		t.Fatal("expected layout mismatch error")
	}
}

func TestManualCompletionOutOfOrder(t *testing.T) {
	a := New(WithManualCompletion())
	src, _ := a.CreateBuffer("src", 8, gpucore.BufferUsageCopySrc)
	dst, _ := a.CreateBuffer("dst", 8, gpucore.BufferUsageCopyDst|gpucore.BufferUsageMapRead)

	first, err := a.CopyBuffer(src, dst, 8)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := a.CopyBuffer(src, dst, 8)

	if a.IsComplete(first) || a.IsComplete(second) {
		t.Fatal("manual submissions must start pending")
	}
	a.Complete(second)
	if a.IsComplete(first) || !a.IsComplete(second) {
		t.Error("Complete(second) should only complete second")
	}
	if n := len(a.Pending()); n != 1 {
		t.Errorf("Pending = %d, want 1", n)
	}
	a.CompleteAll()
	if !a.IsComplete(first) {
		t.Error("CompleteAll should complete first")
	}
}

func TestFailureInjection(t *testing.T) {
	a := New()
	p, _ := a.CreateComputePipeline(&gpucore.ComputePipelineDesc{Source: "x", EntryPoint: "main"})
	boom := errors.New("boom")
	a.FailDispatch(func(_ *gpucore.DispatchDesc, n int) error {
		if n == 2 {
			return boom
		}
		return nil
	})

	desc := &gpucore.DispatchDesc{Pipeline: p, Workgroups: [3]uint32{1, 1, 1}}
	if _, err := a.Dispatch(desc); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if _, err := a.Dispatch(desc); !errors.Is(err, boom) {
		t.Fatalf("second dispatch err = %v, want boom", err)
	}

	a.Lose()
	if _, err := a.Dispatch(desc); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("after Lose err = %v, want ErrDeviceLost", err)
	}
}

func TestReadMappedRequiresMapRead(t *testing.T) {
	a := New()
	id, _ := a.CreateBuffer("storage", 8, gpucore.BufferUsageStorage)
	if _, err := a.ReadMapped(id, 0, 8); !errors.Is(err, gpucore.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
	if _, err := a.CreateBuffer("odd", 6, gpucore.BufferUsageStorage); !errors.Is(err, gpucore.ErrInvalidSize) {
		t.Errorf("misaligned size err = %v, want ErrInvalidSize", err)
	}
}

func TestLoseReportsPendingWorkComplete(t *testing.T) {
	a := New(WithManualCompletion())
	src, _ := a.CreateBuffer("src", 8, gpucore.BufferUsageCopySrc)
	dst, _ := a.CreateBuffer("dst", 8, gpucore.BufferUsageCopyDst|gpucore.BufferUsageMapRead)
	idx, err := a.CopyBuffer(src, dst, 8)
	if err != nil {
		t.Fatal(err)
	}
	if a.Err() != nil {
		t.Fatalf("Err before Lose = %v", a.Err())
	}

	a.Lose()
	if !a.IsComplete(idx) {
		t.Error("pending submission must report complete after Lose")
	}
	if err := a.Err(); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("Err = %v, want ErrDeviceLost", err)
	}
	if _, err := a.ReadMapped(dst, 0, 8); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("ReadMapped after Lose = %v, want ErrDeviceLost", err)
	}
	if err := a.WaitIdle(); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("WaitIdle after Lose = %v, want ErrDeviceLost", err)
	}
}

func TestWaitIdleFinishesPending(t *testing.T) {
	a := New(WithManualCompletion())
	src, _ := a.CreateBuffer("src", 8, gpucore.BufferUsageCopySrc)
	dst, _ := a.CreateBuffer("dst", 8, gpucore.BufferUsageCopyDst)
	first, _ := a.CopyBuffer(src, dst, 8)
	second, _ := a.CopyBuffer(src, dst, 8)

	if err := a.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	if !a.IsComplete(first) || !a.IsComplete(second) || len(a.Pending()) != 0 {
		t.Errorf("pending after WaitIdle: %v", a.Pending())
	}
	if a.Waits() != 1 {
		t.Errorf("Waits = %d, want 1", a.Waits())
	}
}

func TestOffsetOverflowRejected(t *testing.T) {
	a := New()
	id, _ := a.CreateBuffer("data", 16, gpucore.BufferUsageStorage|gpucore.BufferUsageMapRead)
	huge := ^uint64(0) - 3
	if err := a.WriteBuffer(id, huge, make([]byte, 4)); !errors.Is(err, gpucore.ErrInvalidSize) {
		t.Errorf("WriteBuffer = %v, want ErrInvalidSize", err)
	}
	if _, err := a.ReadMapped(id, huge, 4); !errors.Is(err, gpucore.ErrInvalidSize) {
		t.Errorf("ReadMapped = %v, want ErrInvalidSize", err)
	}
}
