package flow

import (
	"errors"
	"maps"
	"slices"
	"sync"
)

// WorkflowRegistry resolves workflow definitions by name. Snapshots only
// record the workflow name, so resuming an instance requires the same
// definition to be registered again.
type WorkflowRegistry interface {
	Register(wf *Workflow) error
	Get(name string) (*Workflow, bool)
	List() []string
}

// MemoryWorkflowRegistry is a WorkflowRegistry safe for concurrent use.
// Registering a name twice replaces the earlier definition.
type MemoryWorkflowRegistry struct {
	mu     sync.RWMutex
	byName map[string]*Workflow
}

func NewMemoryWorkflowRegistry(workflows ...*Workflow) (*MemoryWorkflowRegistry, error) {
	r := &MemoryWorkflowRegistry{byName: map[string]*Workflow{}}
	for _, wf := range workflows {
		if err := r.Register(wf); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *MemoryWorkflowRegistry) Register(wf *Workflow) error {
	switch {
	case wf == nil:
		return errors.New("cannot register a nil workflow")
	case wf.Name() == "":
		return errors.New("cannot register an unnamed workflow")
	}
	r.mu.Lock()
	r.byName[wf.Name()] = wf
	r.mu.Unlock()
	return nil
}

func (r *MemoryWorkflowRegistry) Get(name string) (*Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.byName[name]
	return wf, ok
}

// List returns the registered names in sorted order.
func (r *MemoryWorkflowRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byName))
}
