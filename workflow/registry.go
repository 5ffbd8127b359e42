package workflow

import (
	"fmt"
	"slices"
	"sync"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
)

// Registry maps definition names to definitions. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]*Definition)}
}

// Register adds def, replacing any definition with the same name.
// Executions already running keep the definition they started with.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.Name()] = def
}

// Get returns the named definition.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ingestion.ErrUnknownDefinition, name)
	}
	return def, nil
}

// Names returns the registered definition names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
