package task

import (
	"context"
	"fmt"
	"slices"
	"sync"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
)

// Task identities used by the image signer workflow.
const (
	Pull = "pull"
	Sign = "sign"
)

// Invoker runs one task.
type Invoker interface {
	Invoke(ctx context.Context, in payload.Value) (payload.Value, error)
}

// Func adapts a function to Invoker.
type Func func(ctx context.Context, in payload.Value) (payload.Value, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, in payload.Value) (payload.Value, error) {
	return f(ctx, in)
}

// InputValidator is implemented by invokers that can reject a payload
// before being called. The engine uses it to check a task's output against
// the input expectations of the next task state.
type InputValidator interface {
	ValidateInput(in payload.Value) error
}

// Call describes one attempt of one task state. Middleware receives it
// and the terminal handler fills Output.
type Call struct {
	ExecutionID id.ExecutionID
	Definition  string
	State       string
	Task        string
	Attempt     int
	Input       payload.Value
	Output      payload.Value
}

// ──────────────────────────────────────────────────
// Registry
// ──────────────────────────────────────────────────

// Registry maps task identities to invokers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{invokers: make(map[string]Invoker)}
}

// Register binds name to inv, replacing any previous binding.
func (r *Registry) Register(name string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[name] = inv
}

// Get returns the invoker registered under name.
func (r *Registry) Get(name string) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invokers[name]
	return inv, ok
}

// Names returns the registered task identities, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.invokers))
	for name := range r.invokers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Require returns ErrUnknownTask naming every entry of names with no
// invoker.
func (r *Registry) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := r.Get(n); !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ingestion.ErrUnknownTask, missing)
	}
	return nil
}
