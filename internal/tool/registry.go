// Package tool is the single seam between the orchestration core and the
// numeric utility layer. Tools are pure-function-like callables registered
// with typed input/output schemas; the registry enforces both sides of the
// contract on every invocation.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownTool is returned when invoking a name that was never registered.
var ErrUnknownTool = errors.New("unknown tool")

// Func is the wrapped external callable. It must not retain state between
// calls beyond what is passed explicitly.
type Func func(ctx context.Context, args Args) (Values, error)

// Spec describes one registered tool.
type Spec struct {
	Name        string
	Description string
	Input       Schema
	Output      Schema
	Fn          Func
}

// Registry maps tool names to schema-checked callables. Registration happens
// at wiring time; afterwards the registry is effectively immutable and safe
// for concurrent readers, including stage-internal parallel workers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Spec
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Spec)}
}

// Register adds a tool. Names are unique; re-registration is rejected.
func (r *Registry) Register(spec Spec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errors.New("tool name is required")
	}
	if spec.Fn == nil {
		return fmt.Errorf("tool %q: fn is required", name)
	}
	if err := spec.Input.validate(name); err != nil {
		return err
	}
	if err := spec.Output.validate(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	spec.Name = name
	r.tools[name] = spec
	return nil
}

// Lookup returns the spec for a registered tool.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[strings.TrimSpace(name)]
	return spec, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs a registered tool after validating args against its input
// schema, then validates the result against its output schema so executors
// never receive untyped payloads back.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (Values, error) {
	spec, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, strings.TrimSpace(name))
	}
	if args == nil {
		args = Args{}
	}
	if err := spec.Input.Conform(spec.Name, args); err != nil {
		return nil, err
	}
	values, err := spec.Fn(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", spec.Name, err)
	}
	if values == nil {
		values = Values{}
	}
	if err := spec.Output.Conform(spec.Name, values); err != nil {
		return nil, err
	}
	return values, nil
}
