// Package script compiles and evaluates the ${...} expressions used in
// activity inputs. Risor is the default language; expr is also available.
package script

import (
	"context"
)

// Value is the result of evaluating a compiled expression.
type Value interface {
	// Value returns the result as a plain Go value
	Value() any

	// String renders the result for template interpolation
	String() string

	// IsTruthy reports whether the result counts as true in a condition
	IsTruthy() bool
}

// Script is a compiled expression. It may be evaluated many times against
// different variables.
type Script interface {
	Evaluate(ctx context.Context, globals map[string]any) (Value, error)
}

// Compiler turns expression source into a Script.
//
// The names slice lists the variables that will be present at evaluation
// time. A reference to any other name must fail at compile time so that
// undefined variables are reported before a node runs.
type Compiler interface {
	Compile(ctx context.Context, code string, names []string) (Script, error)
}
