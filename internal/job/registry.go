package job

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds named job controllers. The engine registers the local
// controller at startup; batch-scheduler controllers register under their
// own names and are resolved the same way.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]Controller
}

// NewRegistry creates an empty controller registry.
func NewRegistry() *Registry {
	return &Registry{
		controllers: make(map[string]Controller),
	}
}

// Register adds a controller under the given name.
func (r *Registry) Register(name string, c Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[name] = c
}

// Resolve returns the controller registered under name. An empty name
// resolves to the local controller.
func (r *Registry) Resolve(name string) (Controller, error) {
	if name == "" {
		name = LocalName
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("job controller %q is not registered", name)
	}
	return c, nil
}

// Names returns the registered controller names, sorted for stable output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
