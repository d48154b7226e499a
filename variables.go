package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/deepnoodle-ai/flow/script"
)

// Variables are resolved through a chain of scopes: the activity's own
// declared variables, then each ancestor's from nearest to root, then the
// workflow scope. Values are normalized to their JSON form on write so a
// rehydrated run sees exactly what an uninterrupted run would.

// scopeVariables returns the variables visible to an activity, with inner
// scopes shadowing outer ones.
func (wc *WorkflowContext) scopeVariables(nodeID string) map[string]any {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	merged := copyMap(wc.variables)
	chain := append(wc.workflow.Ancestors(nodeID), nodeID)
	for _, id := range chain {
		if state, ok := wc.activities[id]; ok {
			for k, v := range state.Variables {
				merged[k] = v
			}
		}
	}
	return merged
}

func (wc *WorkflowContext) lookupVariable(nodeID, name string) (any, bool) {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	if state := wc.declaringScope(nodeID, name); state != nil {
		return state.Variables[name], true
	}
	v, ok := wc.variables[name]
	return v, ok
}

func (wc *WorkflowContext) setVariable(nodeID, name string, value any) {
	value = normalizeValue(value)
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if state := wc.declaringScope(nodeID, name); state != nil {
		state.Variables[name] = value
		return
	}
	wc.variables[name] = value
}

func (wc *WorkflowContext) declareVariable(nodeID, name string, value any) error {
	value = normalizeValue(value)
	wc.mu.Lock()
	defer wc.mu.Unlock()
	state, ok := wc.activities[nodeID]
	if !ok {
		return fmt.Errorf("activity %q has no live context", nodeID)
	}
	if state.Variables == nil {
		state.Variables = map[string]any{}
	}
	state.Variables[name] = value
	return nil
}

// declaringScope returns the nearest live context that declares name.
// Callers must hold wc.mu.
func (wc *WorkflowContext) declaringScope(nodeID, name string) *ActivityState {
	for id := nodeID; id != ""; id = wc.workflow.ParentID(id) {
		state, ok := wc.activities[id]
		if !ok {
			continue
		}
		if _, declared := state.Variables[name]; declared {
			return state
		}
	}
	return nil
}

// EvaluateInputs resolves every declared input binding on node against the
// given variables. Expressions are evaluated once, here, and never again.
// The first failing binding aborts evaluation with an InputEvaluationError.
func EvaluateInputs(ctx context.Context, compiler script.Compiler, node *Node, variables map[string]any) (map[string]any, error) {
	if len(node.Inputs) == 0 {
		return map[string]any{}, nil
	}
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)

	inputNames := make([]string, 0, len(node.Inputs))
	for name := range node.Inputs {
		inputNames = append(inputNames, name)
	}
	sort.Strings(inputNames)

	evaluated := make(map[string]any, len(node.Inputs))
	for _, input := range inputNames {
		value, err := evaluateValue(ctx, compiler, node.Inputs[input], names, variables)
		if err != nil {
			return nil, NewInputEvaluationError(node.ID, input, err)
		}
		evaluated[input] = normalizeValue(value)
	}
	return evaluated, nil
}

func evaluateValue(ctx context.Context, compiler script.Compiler, raw any, names []string, variables map[string]any) (any, error) {
	switch v := raw.(type) {
	case string:
		if code, ok := script.IsExpression(v); ok {
			compiled, err := compiler.Compile(ctx, code, names)
			if err != nil {
				return nil, err
			}
			result, err := compiled.Evaluate(ctx, variables)
			if err != nil {
				return nil, err
			}
			return result.Value(), nil
		}
		if script.IsTemplate(v) {
			tmpl, err := script.NewTemplate(compiler, v, names)
			if err != nil {
				return nil, err
			}
			return tmpl.Eval(ctx, variables)
		}
		return v, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			value, err := evaluateValue(ctx, compiler, item, names, variables)
			if err != nil {
				return nil, err
			}
			out[i] = value
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			value, err := evaluateValue(ctx, compiler, item, names, variables)
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil
	default:
		return raw, nil
	}
}

// normalizeValue returns v as it would read back after a JSON round trip.
// Values that cannot be encoded are returned unchanged.
func normalizeValue(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

// convertValue decodes src into dst through JSON, which covers values that
// were already round-tripped through persistence.
func convertValue(src any, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
