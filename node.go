package flow

import (
	"sort"

	"github.com/deepnoodle-ai/flow/script"
)

// Node is the immutable description of one activity instance inside a
// workflow tree. Node IDs are unique within a workflow and stable across runs.
type Node struct {
	ID          string         `json:"id" yaml:"id"`
	Type        string         `json:"type" yaml:"type"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Variables   map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Children    []*Node        `json:"children,omitempty" yaml:"children,omitempty"`
}

// BindingKind classifies how an input value is produced at dispatch time.
type BindingKind string

const (
	// BindingLiteral values are used as-is.
	BindingLiteral BindingKind = "literal"
	// BindingExpression values are a single ${...} expression whose result
	// keeps its type.
	BindingExpression BindingKind = "expression"
	// BindingTemplate values are strings with embedded ${...} expressions and
	// always produce a string.
	BindingTemplate BindingKind = "template"
	// BindingComposite values are lists or maps that contain at least one
	// expression or template.
	BindingComposite BindingKind = "composite"
)

// Binding describes one declared input on a node.
type Binding struct {
	Name   string
	Kind   BindingKind
	Source any
}

// ClassifyBinding returns the kind of a raw input value.
func ClassifyBinding(raw any) BindingKind {
	switch v := raw.(type) {
	case string:
		if _, ok := script.IsExpression(v); ok {
			return BindingExpression
		}
		if script.IsTemplate(v) {
			return BindingTemplate
		}
	case []any:
		for _, item := range v {
			if ClassifyBinding(item) != BindingLiteral {
				return BindingComposite
			}
		}
	case map[string]any:
		for _, item := range v {
			if ClassifyBinding(item) != BindingLiteral {
				return BindingComposite
			}
		}
	}
	return BindingLiteral
}

// Bindings returns the node's declared inputs sorted by name.
func (n *Node) Bindings() []Binding {
	names := make([]string, 0, len(n.Inputs))
	for name := range n.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	bindings := make([]Binding, 0, len(names))
	for _, name := range names {
		raw := n.Inputs[name]
		bindings = append(bindings, Binding{Name: name, Kind: ClassifyBinding(raw), Source: raw})
	}
	return bindings
}

// ChildIDs returns the IDs of the node's direct children in declaration order.
func (n *Node) ChildIDs() []string {
	ids := make([]string, len(n.Children))
	for i, child := range n.Children {
		ids[i] = child.ID
	}
	return ids
}

// Clone returns a deep copy of the subtree rooted at n. Nested lists and
// maps in inputs and variables are copied too.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Inputs = cloneMap(n.Inputs)
	c.Variables = cloneMap(n.Variables)
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}

// Flatten returns n and all of its descendants in pre-order.
func Flatten(n *Node) []*Node {
	if n == nil {
		return nil
	}
	nodes := []*Node{n}
	for _, child := range n.Children {
		nodes = append(nodes, Flatten(child)...)
	}
	return nodes
}
