package moderation

import (
	"context"
	"fmt"
	"sync"
)

// Check is one independent content rule. Run returns the violations it
// found; an error or panic makes the whole evaluation fail safe.
type Check interface {
	Name() string
	Run(ctx context.Context, c Content) ([]Violation, error)
}

// CheckFunc adapts a function to the Check interface.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context, c Content) ([]Violation, error)
}

func (f CheckFunc) Name() string { return f.CheckName }

func (f CheckFunc) Run(ctx context.Context, c Content) ([]Violation, error) {
	return f.Fn(ctx, c)
}

// Registry holds the checks a Gate runs, in registration order.
type Registry struct {
	checks []Check
	byName map[string]int
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a check. A check with the same name is replaced in place.
func (r *Registry) Register(c Check) error {
	if c == nil {
		return fmt.Errorf("cannot register nil check")
	}
	if c.Name() == "" {
		return fmt.Errorf("check name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byName[c.Name()]; ok {
		r.checks[i] = c
		return nil
	}
	r.byName[c.Name()] = len(r.checks)
	r.checks = append(r.checks, c)
	return nil
}

// Get retrieves a check by name.
func (r *Registry) Get(name string) (Check, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.checks[i], true
}

// List returns a copy of the registered checks.
func (r *Registry) List() []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Check(nil), r.checks...)
}

// Count returns the number of registered checks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.checks)
}
