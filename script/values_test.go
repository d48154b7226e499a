package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{"", false},
		{"FALSE", false},
		{"no", true},
		{0, false},
		{int64(3), true},
		{uint8(0), false},
		{0.0, false},
		{0.5, true},
		{[]any{}, false},
		{[]any{1}, true},
		{map[string]any{}, false},
		{map[string]any{"a": 1}, true},
		{time.Time{}, false},
		{struct{}{}, true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Truthy(tt.value), "%#v", tt.value)
	}
}

func TestRisorValues(t *testing.T) {
	ctx := context.Background()
	compiler := NewRisorCompiler(nil)

	tests := []struct {
		code   string
		value  any
		str    string
		truthy bool
	}{
		{code: `"hi"`, value: "hi", str: "hi", truthy: true},
		{code: `1 + 1`, value: int64(2), str: "2", truthy: true},
		{code: `1.5 * 2`, value: 3.0, str: "3", truthy: true},
		{code: `nil`, value: nil, str: "", truthy: false},
		{code: `[1, "a"]`, value: []any{int64(1), "a"}, truthy: true},
		{code: `{"k": [true]}`, value: map[string]any{"k": []any{true}}, truthy: true},
		{code: `strings.to_upper("x")`, value: "X", str: "X", truthy: true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			compiled, err := compiler.Compile(ctx, tt.code, nil)
			require.NoError(t, err)
			value, err := compiled.Evaluate(ctx, nil)
			require.NoError(t, err)
			require.Equal(t, tt.value, value.Value())
			require.Equal(t, tt.truthy, value.IsTruthy())
			if tt.str != "" {
				require.Equal(t, tt.str, value.String())
			}
		})
	}
}

func TestDeterministicBuiltins(t *testing.T) {
	builtins := DeterministicBuiltins()
	require.Contains(t, builtins, "len")
	require.Contains(t, builtins, "strings")
	require.NotContains(t, builtins, "time")
	require.NotContains(t, builtins, "os")

	_, err := NewRisorCompiler(nil).Compile(context.Background(), "time.now()", nil)
	require.Error(t, err)
}
