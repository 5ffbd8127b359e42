package workflow

import (
	"errors"
	"fmt"
	"slices"
	"time"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/retry"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
)

// Kind is the type of a state.
type Kind string

const (
	KindTask     Kind = "task"
	KindWait     Kind = "wait"
	KindTerminal Kind = "terminal"
)

// State is one node of a Definition.
type State struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"type" yaml:"type"`

	// Next is the state entered after this one. Terminal states have none.
	Next string `json:"next,omitempty" yaml:"next,omitempty"`

	// Task state fields.
	Task  string       `json:"task,omitempty" yaml:"task,omitempty"`
	Retry retry.Policy `json:"retry,omitempty" yaml:"retry,omitempty"`
	// InputPath selects the part of the payload passed to the task.
	InputPath string `json:"input_path,omitempty" yaml:"input_path,omitempty"`
	// OutputPath selects the part of the task result kept as the payload.
	OutputPath string `json:"output_path,omitempty" yaml:"output_path,omitempty"`

	// Wait state field.
	Wait time.Duration `json:"wait,omitempty" yaml:"wait,omitempty"`
}

// Task returns a task state.
func Task(name, taskName, next string, policy retry.Policy) State {
	return State{Name: name, Kind: KindTask, Task: taskName, Next: next, Retry: policy}
}

// Wait returns a wait state.
func Wait(name string, d time.Duration, next string) State {
	return State{Name: name, Kind: KindWait, Wait: d, Next: next}
}

// Terminal returns a terminal state.
func Terminal(name string) State {
	return State{Name: name, Kind: KindTerminal}
}

func (s State) clone() State {
	s.Retry.Retryable = slices.Clone(s.Retry.Retryable)
	return s
}

// Definition is a validated state machine. It is immutable: accessors
// return copies.
type Definition struct {
	name    string
	startAt string
	states  []State
	index   map[string]int
}

// NewDefinition validates states and builds a Definition. Task states with
// a zero retry policy get retry.DefaultPolicy.
func NewDefinition(name, startAt string, states ...State) (*Definition, error) {
	d := &Definition{
		name:    name,
		startAt: startAt,
		states:  make([]State, len(states)),
		index:   make(map[string]int, len(states)),
	}
	copy(d.states, states)
	for i := range d.states {
		st := &d.states[i]
		if st.Kind == KindTask && st.Retry.MaxAttempts == 0 {
			st.Retry = retry.DefaultPolicy()
		}
		st.Retry.Retryable = slices.Clone(st.Retry.Retryable)
	}

	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ingestion.ErrInvalidDefinition, name, err)
	}
	return d, nil
}

// MustDefinition is like NewDefinition but panics on error.
func MustDefinition(name, startAt string, states ...State) *Definition {
	d, err := NewDefinition(name, startAt, states...)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the definition name.
func (d *Definition) Name() string { return d.name }

// StartAt returns the name of the first state.
func (d *Definition) StartAt() string { return d.startAt }

// States returns a copy of the states in declaration order.
func (d *Definition) States() []State {
	out := make([]State, len(d.states))
	for i, st := range d.states {
		out[i] = st.clone()
	}
	return out
}

// State returns the named state.
func (d *Definition) State(name string) (State, bool) {
	i, ok := d.index[name]
	if !ok {
		return State{}, false
	}
	return d.states[i].clone(), true
}

// Tasks returns the task identities referenced by task states, in order.
func (d *Definition) Tasks() []string {
	var out []string
	for _, st := range d.states {
		if st.Kind == KindTask {
			out = append(out, st.Task)
		}
	}
	return out
}

// nextTask returns the first task state reached from name, skipping waits.
func (d *Definition) nextTask(name string) (State, bool) {
	for {
		st, ok := d.State(name)
		if !ok {
			return State{}, false
		}
		switch st.Kind {
		case KindTask:
			return st, true
		case KindWait:
			name = st.Next
		default:
			return State{}, false
		}
	}
}

func (d *Definition) validate() error {
	if d.name == "" {
		return errors.New("name is required")
	}
	if len(d.states) == 0 {
		return errors.New("at least one state is required")
	}

	var errs []error
	for i, st := range d.states {
		if st.Name == "" {
			errs = append(errs, fmt.Errorf("state %d has no name", i))
			continue
		}
		if _, dup := d.index[st.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate state %q", st.Name))
			continue
		}
		d.index[st.Name] = i
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, st := range d.states {
		if err := d.validateState(st); err != nil {
			errs = append(errs, fmt.Errorf("state %q: %w", st.Name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if _, ok := d.index[d.startAt]; !ok {
		return fmt.Errorf("start state %q does not exist", d.startAt)
	}

	// Every non-terminal state has exactly one successor, so the machine is a
	// chain from StartAt. It must end in a terminal state and cover every state.
	seen := make(map[string]bool, len(d.states))
	for name := d.startAt; ; {
		if seen[name] {
			return fmt.Errorf("state %q is part of a cycle", name)
		}
		seen[name] = true
		st := d.states[d.index[name]]
		if st.Kind == KindTerminal {
			break
		}
		name = st.Next
	}
	for _, st := range d.states {
		if !seen[st.Name] {
			return fmt.Errorf("state %q is unreachable from %q", st.Name, d.startAt)
		}
	}
	return nil
}

func (d *Definition) validateState(st State) error {
	switch st.Kind {
	case KindTask:
		if st.Task == "" {
			return errors.New("task is required")
		}
		if err := st.Retry.Validate(); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
		if err := payload.ValidatePath(st.InputPath); err != nil {
			return err
		}
		if err := payload.ValidatePath(st.OutputPath); err != nil {
			return err
		}
	case KindWait:
		if st.Wait < 0 {
			return fmt.Errorf("wait %v must be >= 0", st.Wait)
		}
	case KindTerminal:
		if st.Next != "" {
			return errors.New("terminal state cannot have next")
		}
		return nil
	default:
		return fmt.Errorf("unknown type %q", st.Kind)
	}

	if st.Next == "" {
		return errors.New("next is required")
	}
	if _, ok := d.index[st.Next]; !ok {
		return fmt.Errorf("next state %q does not exist", st.Next)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Image signer
// ──────────────────────────────────────────────────

// State names of the image signer workflow.
const (
	ImageSignerName = "image-signer"
	StatePull       = "invoke-pull"
	StateScanWait   = "scan-wait"
	StateSign       = "invoke-sign"
	StateDone       = "done"
)

// ImageSigner returns the pull → wait → sign workflow. Both task states
// share policy.
func ImageSigner(wait time.Duration, policy retry.Policy) (*Definition, error) {
	return NewDefinition(ImageSignerName, StatePull,
		Task(StatePull, task.Pull, StateScanWait, policy),
		Wait(StateScanWait, wait, StateSign),
		Task(StateSign, task.Sign, StateDone, policy),
		Terminal(StateDone),
	)
}
