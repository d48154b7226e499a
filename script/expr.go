package script

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultExprCacheSize is the number of compiled programs an ExprEngine
// keeps unless configured otherwise.
const DefaultExprCacheSize = 1024

// ExprEngine compiles input expressions with expr-lang/expr. Compiled
// programs are kept in an LRU cache keyed by expression and variable names,
// and are safe to share across goroutines.
type ExprEngine struct {
	cache *lru.Cache[string, *vm.Program]
}

// ExprOption configures an ExprEngine.
type ExprOption func(*exprOptions)

type exprOptions struct {
	cacheSize int
}

// WithCacheSize bounds the number of cached programs.
func WithCacheSize(n int) ExprOption {
	return func(o *exprOptions) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine(opts ...ExprOption) *ExprEngine {
	o := exprOptions{cacheSize: DefaultExprCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	// lru.New only fails for a non-positive size
	cache, _ := lru.New[string, *vm.Program](o.cacheSize)
	return &ExprEngine{cache: cache}
}

func (e *ExprEngine) Compile(ctx context.Context, code string, names []string) (Script, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("empty expr expression")
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	key := code + "\x00" + strings.Join(sorted, ",")

	if prg, ok := e.cache.Get(key); ok {
		return &ExprScript{program: prg}, nil
	}

	// Values are unknown at compile time. Declaring each name with a nil
	// value lets the checker reject undefined names without fixing types.
	env := make(map[string]any, len(sorted))
	for _, name := range sorted {
		env[name] = nil
	}
	prg, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("expr compile error in %q: %w", code, err)
	}
	e.cache.Add(key, prg)
	return &ExprScript{program: prg}, nil
}

// ExprScript is a compiled expr program.
type ExprScript struct {
	program *vm.Program
}

func (s *ExprScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	env := globals
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(s.program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expr expression: %w", err)
	}
	return &ExprValue{value: out}, nil
}

// ExprValue wraps a plain Go value produced by expr.
type ExprValue struct {
	value any
}

func (v *ExprValue) Value() any {
	return v.value
}

func (v *ExprValue) IsTruthy() bool {
	return Truthy(v.value)
}

func (v *ExprValue) String() string {
	return format(v.value)
}
