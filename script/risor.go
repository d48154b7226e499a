package script

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// deterministicBuiltins are the Risor builtins and modules exposed to
// expressions. Nothing here reads the clock, the network, the environment
// or the filesystem, so re-evaluating an input after a restart gives the
// same result.
var deterministicBuiltins = []string{
	"all", "any", "base64", "bool", "byte", "byte_slice", "bytes", "chunk",
	"coalesce", "decode", "encode", "float", "float_slice", "fmt", "getattr",
	"int", "is_hashable", "iter", "json", "keys", "len", "list", "map", "math",
	"regexp", "reversed", "set", "sorted", "sprintf", "string", "strings",
	"type",
}

// DeterministicBuiltins returns the Risor globals every expression can use.
func DeterministicBuiltins() map[string]any {
	available := all.Builtins()
	globals := make(map[string]any, len(deterministicBuiltins))
	for _, name := range deterministicBuiltins {
		if value, ok := available[name]; ok {
			globals[name] = value
		}
	}
	return globals
}

// RisorCompiler compiles expressions with Risor. Builtins are visible to
// every script alongside the variables passed to Evaluate.
type RisorCompiler struct {
	builtins map[string]any
}

// NewRisorCompiler returns a compiler with the given builtins, or with
// DeterministicBuiltins when builtins is nil.
func NewRisorCompiler(builtins map[string]any) *RisorCompiler {
	if builtins == nil {
		builtins = DeterministicBuiltins()
	}
	return &RisorCompiler{builtins: builtins}
}

func (c *RisorCompiler) Compile(ctx context.Context, code string, names []string) (Script, error) {
	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, err
	}
	known := slices.Collect(maps.Keys(c.builtins))
	known = append(known, names...)
	slices.Sort(known)
	known = slices.Compact(known)

	compiled, err := compiler.Compile(ast, compiler.WithGlobalNames(known))
	if err != nil {
		return nil, err
	}
	return &risorScript{builtins: c.builtins, code: compiled}, nil
}

type risorScript struct {
	builtins map[string]any
	code     *compiler.Code
}

func (s *risorScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	env := make(map[string]any, len(s.builtins)+len(globals))
	maps.Copy(env, s.builtins)
	maps.Copy(env, globals)
	result, err := risor.EvalCode(ctx, s.code, risor.WithGlobals(env))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate risor script: %w", err)
	}
	return &risorValue{obj: result}, nil
}

type risorValue struct {
	obj object.Object
}

func (v *risorValue) Value() any {
	return fromRisor(v.obj)
}

func (v *risorValue) IsTruthy() bool {
	return Truthy(v.Value())
}

func (v *risorValue) String() string {
	switch o := v.obj.(type) {
	case *object.String:
		return o.Value()
	case *object.List, *object.Map, *object.Set:
		return o.Inspect()
	}
	return format(v.Value())
}
