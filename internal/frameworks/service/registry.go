package service

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// CoreServices are built on every start, configured or not.
var CoreServices = []string{"api"}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]NewService)
)

// Register adds a constructor under name. Registering a name twice is an
// error.
func Register(name string, newFunc NewService) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}
	registry[name] = newFunc
	return nil
}

// MustRegister is Register for init functions.
func MustRegister(name string, newFunc NewService) {
	if err := Register(name, newFunc); err != nil {
		panic(err)
	}
}

// Get returns the constructor registered under name, or nil.
func Get(name string) NewService {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// RegisteredServices returns the registered names, sorted.
func RegisteredServices() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

// Build constructs CoreServices plus every name in configured, once each.
// confFor supplies the [http.services.<name>] table (nil when absent) and
// each service logs with a "service" attribute.
func Build(configured []string, confFor func(name string) map[string]any, log *slog.Logger) (map[string]Service, error) {
	names := slices.Concat(CoreServices, configured)
	services := make(map[string]Service, len(names))
	for _, name := range names {
		if _, done := services[name]; done {
			continue
		}
		newFunc := Get(name)
		if newFunc == nil {
			return nil, fmt.Errorf("unknown service %q (registered: %v)", name, RegisteredServices())
		}
		svc, err := newFunc(confFor(name), log.With("service", name))
		if err != nil {
			return nil, fmt.Errorf("failed to create service %q: %w", name, err)
		}
		services[name] = svc
	}
	return services, nil
}

func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]NewService)
}
