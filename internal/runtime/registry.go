package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a container backend.
type Factory func(opts Options) (ContainerRuntime, error)

type factoryEntry struct {
	name    string
	factory Factory
}

var (
	registryMu       sync.RWMutex
	builtinFactories []factoryEntry
)

// Register associates the provided factory with the backend name. When
// multiple factories register the same name the most recent registration
// wins.
func Register(name string, factory Factory) {
	if name == "" {
		panic("runtime.Register: name must not be empty")
	}
	if factory == nil {
		panic("runtime.Register: factory must not be nil")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	for i, entry := range builtinFactories {
		if entry.name == name {
			builtinFactories[i].factory = factory
			return
		}
	}

	builtinFactories = append(builtinFactories, factoryEntry{name: name, factory: factory})
}

// New constructs the backend registered under name.
func New(name string, opts Options) (ContainerRuntime, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, entry := range builtinFactories {
		if entry.name == name {
			return entry.factory(opts)
		}
	}
	return nil, fmt.Errorf("unknown container backend %q (available: %v)", name, backendNamesLocked())
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return backendNamesLocked()
}

func backendNamesLocked() []string {
	names := make([]string, 0, len(builtinFactories))
	for _, entry := range builtinFactories {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}
