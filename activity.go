package flow

import (
	"fmt"
	"sort"
)

// Activity is the behavior bound to an activity type name. One Activity
// value serves every node of its type across all runs, so per-node state
// must live on the ActivityContext, never on the Activity itself.
type Activity interface {

	// Name returns the activity type name used by nodes
	Name() string

	// Execute runs the activity against its context. Returning nil without
	// scheduling children or creating a bookmark completes the node, unless
	// the activity implements ManualCompleter.
	Execute(ctx *ActivityContext) error
}

// ManualCompleter is implemented by activities that signal their own
// completion, such as joins that wait on child callbacks.
type ManualCompleter interface {
	AutoComplete() bool
}

// ChildCompletedHandler is implemented by composite activities that react to
// each scheduled child reaching Completed or Faulted. It is re-entered once
// per child, so cross-invocation state belongs in context properties.
type ChildCompletedHandler interface {
	ChildCompleted(ctx *ActivityContext, child *ActivityState) error
}

// Resumer is implemented by activities that need the bookmark and input
// when an external event resumes them. Activities without it complete on
// resume.
type Resumer interface {
	Resume(ctx *ActivityContext, bookmark *Bookmark, input map[string]any) error
}

// ActivityRegistry is a catalog of activities keyed by type name.
type ActivityRegistry map[string]Activity

// NewActivityRegistry builds a registry from the given activities. Later
// entries replace earlier ones with the same name.
func NewActivityRegistry(activities ...Activity) (ActivityRegistry, error) {
	r := ActivityRegistry{}
	for _, a := range activities {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces an activity.
func (r ActivityRegistry) Register(a Activity) error {
	if a == nil {
		return fmt.Errorf("activity cannot be nil")
	}
	if a.Name() == "" {
		return fmt.Errorf("activity name cannot be empty")
	}
	r[a.Name()] = a
	return nil
}

// Get returns the activity for a type name.
func (r ActivityRegistry) Get(name string) (Activity, bool) {
	a, ok := r[name]
	return a, ok
}

// Names returns the sorted type names in the registry.
func (r ActivityRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func autoCompletes(a Activity) bool {
	if m, ok := a.(ManualCompleter); ok {
		return m.AutoComplete()
	}
	return true
}
