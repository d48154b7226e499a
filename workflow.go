package flow

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Options are used to configure a workflow.
type Options struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Path        string         `json:"path,omitempty" yaml:"path,omitempty"`
	Variables   map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Root        *Node          `json:"root" yaml:"root"`
}

// Workflow is an immutable activity tree plus its initial variables. It
// indexes nodes by ID and records each node's parent. New copies the tree, so
// later changes to the caller's nodes are not seen. Nodes returned by a
// Workflow must not be modified.
type Workflow struct {
	name        string
	description string
	path        string
	variables   map[string]any
	root        *Node
	nodes       map[string]*Node
	parents     map[string]string
	order       []*Node
}

// New returns a new Workflow configured with the given options.
func New(opts Options) (*Workflow, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workflow name required")
	}
	if opts.Root == nil {
		return nil, fmt.Errorf("workflow root activity required")
	}
	root := opts.Root.Clone()
	w := &Workflow{
		name:        opts.Name,
		description: opts.Description,
		path:        opts.Path,
		variables:   cloneMap(opts.Variables),
		root:        root,
		nodes:       map[string]*Node{},
		parents:     map[string]string{},
	}
	if err := w.index(root, ""); err != nil {
		return nil, fmt.Errorf("workflow validation failed: %w", err)
	}
	return w, nil
}

func (w *Workflow) index(n *Node, parentID string) error {
	if n == nil {
		return fmt.Errorf("nil activity under %q", parentID)
	}
	if n.ID == "" {
		return fmt.Errorf("activity id cannot be empty")
	}
	if n.Type == "" {
		return fmt.Errorf("activity %q: type cannot be empty", n.ID)
	}
	if _, exists := w.nodes[n.ID]; exists {
		return fmt.Errorf("duplicate activity id %q", n.ID)
	}
	w.nodes[n.ID] = n
	w.parents[n.ID] = parentID
	w.order = append(w.order, n)
	for _, child := range n.Children {
		if err := w.index(child, n.ID); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the workflow name
func (w *Workflow) Name() string {
	return w.name
}

// Description returns the workflow description
func (w *Workflow) Description() string {
	return w.description
}

// Path returns the file the workflow was loaded from, if any
func (w *Workflow) Path() string {
	return w.path
}

// Root returns the root activity node
func (w *Workflow) Root() *Node {
	return w.root
}

// InitialVariables returns a copy of the workflow-scope variables
func (w *Workflow) InitialVariables() map[string]any {
	return cloneMap(w.variables)
}

// Node returns a node by ID
func (w *Workflow) Node(id string) (*Node, bool) {
	n, ok := w.nodes[id]
	return n, ok
}

// Nodes returns all nodes in pre-order
func (w *Workflow) Nodes() []*Node {
	return append([]*Node(nil), w.order...)
}

// NodeIDs returns the sorted IDs of all nodes
func (w *Workflow) NodeIDs() []string {
	ids := make([]string, 0, len(w.nodes))
	for id := range w.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParentID returns the ID of a node's parent, or "" for the root.
func (w *Workflow) ParentID(id string) string {
	return w.parents[id]
}

// Ancestors returns the IDs of a node's ancestors ordered from the root down
// to the direct parent.
func (w *Workflow) Ancestors(id string) []string {
	var chain []string
	for parent := w.parents[id]; parent != ""; parent = w.parents[parent] {
		chain = append(chain, parent)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Descendants returns every node below id, excluding id itself.
func (w *Workflow) Descendants(id string) []*Node {
	n, ok := w.nodes[id]
	if !ok {
		return nil
	}
	return Flatten(n)[1:]
}

// IsDescendant reports whether id sits anywhere below ancestorID.
func (w *Workflow) IsDescendant(id, ancestorID string) bool {
	for parent := w.parents[id]; parent != ""; parent = w.parents[parent] {
		if parent == ancestorID {
			return true
		}
	}
	return false
}

// LoadFile loads a workflow from a YAML file
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	wf, err := load(data)
	if err != nil {
		return nil, err
	}
	wf.path = path
	return wf, nil
}

// LoadString loads a workflow from a YAML string
func LoadString(data string) (*Workflow, error) {
	return load([]byte(data))
}

func load(data []byte) (*Workflow, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow file: %w", err)
	}
	if err := ValidateDefinition(doc); err != nil {
		return nil, err
	}
	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow file: %w", err)
	}
	return New(opts)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
