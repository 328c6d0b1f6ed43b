package backend

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gogpu/gcompute/gpucore"
)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)

	// priority is the order Default tries backends in. Registered backends
	// not listed here are tried afterwards in name order.
	priority = []string{"vulkan", "metal", "dx12", "gl"}
)

// Register makes a backend available under name. Registering the same name
// again replaces the previous factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Unregister removes a backend.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered reports whether name has a factory.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens an adapter from the named backend.
func Open(name string) (gpucore.GPUAdapter, error) {
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, name)
	}
	return f()
}

// Default opens the first backend in priority order that succeeds and
// returns its name. The "noop" backend is never chosen.
func Default() (gpucore.GPUAdapter, string, error) {
	registryMu.RLock()
	order := make([]string, 0, len(factories))
	for _, name := range priority {
		if _, ok := factories[name]; ok {
			order = append(order, name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(factories)) {
		if name != "noop" && !slices.Contains(priority, name) {
			order = append(order, name)
		}
	}
	registryMu.RUnlock()

	if len(order) == 0 {
		return nil, "", ErrBackendNotAvailable
	}
	var errs []error
	for _, name := range order {
		a, err := Open(name)
		if err == nil {
			return a, name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return nil, "", fmt.Errorf("%w: %w", ErrBackendNotAvailable, errors.Join(errs...))
}
