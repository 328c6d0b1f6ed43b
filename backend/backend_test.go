package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gcompute/gpucore"
	"github.com/gogpu/gcompute/internal/simgpu"
)

// withRegistry swaps in an empty registry for the duration of a test.
func withRegistry(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	saved := factories
	factories = make(map[string]Factory)
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		factories = saved
		registryMu.Unlock()
	})
}

func simFactory() (gpucore.GPUAdapter, error) { return simgpu.New(), nil }

func failing(err error) Factory {
	return func() (gpucore.GPUAdapter, error) { return nil, err }
}

func TestRegisterAndOpen(t *testing.T) {
	withRegistry(t)
	Register("sim", simFactory)
	Register("noop", simFactory)

	if got := Available(); !slices.Equal(got, []string{"noop", "sim"}) {
		t.Errorf("Available() = %v", got)
	}
	if !IsRegistered("sim") || IsRegistered("vulkan") {
		t.Error("IsRegistered mismatch")
	}

	a, err := Open("sim")
	if err != nil {
		t.Fatalf("Open(sim): %v", err)
	}
	a.Destroy()

	if _, err := Open("cuda"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Open(cuda) = %v, want ErrUnknownBackend", err)
	}

	Unregister("sim")
	if IsRegistered("sim") {
		t.Error("sim still registered after Unregister")
	}
}

func TestDefaultPriority(t *testing.T) {
	withRegistry(t)
	noGPU := errors.New("no device")
	Register("vulkan", failing(noGPU))
	Register("gl", simFactory)
	Register("zzz", simFactory)
	Register("noop", simFactory)

	a, name, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	defer a.Destroy()
	if name != "gl" {
		t.Errorf("Default chose %q, want gl", name)
	}
}

func TestDefaultSkipsNoop(t *testing.T) {
	withRegistry(t)
	Register("noop", simFactory)
	if _, _, err := Default(); !errors.Is(err, ErrBackendNotAvailable) {
		t.Fatalf("Default with only noop = %v, want ErrBackendNotAvailable", err)
	}
}

func TestDefaultReportsEveryFailure(t *testing.T) {
	withRegistry(t)
	vkErr := errors.New("vulkan missing")
	mtlErr := errors.New("metal missing")
	Register("vulkan", failing(vkErr))
	Register("metal", failing(mtlErr))

	_, _, err := Default()
	if !errors.Is(err, ErrBackendNotAvailable) || !errors.Is(err, vkErr) || !errors.Is(err, mtlErr) {
		t.Fatalf("Default = %v, want all causes joined", err)
	}
}
