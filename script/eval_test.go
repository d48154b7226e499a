package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplate(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		globals     map[string]any
		wantErr     bool
		want        string
		errContains string
	}{
		{
			name:  "plain string without template variables",
			input: "Hello World",
			want:  "Hello World",
		},
		{
			name:  "string with single template variable",
			input: "Hello ${user.name}",
			globals: map[string]any{
				"user": map[string]any{"name": "Alice"},
			},
			want: "Hello Alice",
		},
		{
			name:  "string with multiple template variables",
			input: "${greeting} ${name}! The answer is ${40 + 2}",
			globals: map[string]any{
				"greeting": "Hello",
				"name":     "Bob",
			},
			want: "Hello Bob! The answer is 42",
		},
		{
			name:  "string with nested expressions",
			input: "Result: ${1 + (2 * 3)}",
			want:  "Result: 7",
		},
		{
			name:  "expression at the start and end",
			input: "${a}-${b}",
			globals: map[string]any{
				"a": "x",
				"b": "y",
			},
			want: "x-y",
		},
		{
			name:        "invalid template syntax - unclosed brace",
			input:       "Hello ${name",
			globals:     map[string]any{"name": "Alice"},
			wantErr:     true,
			errContains: "unclosed template expression",
		},
		{
			name:        "invalid expression inside template",
			input:       "Hello ${1 +}",
			wantErr:     true,
			errContains: "invalid expression",
		},
		{
			name:        "undefined variable",
			input:       "Hello ${undefined_var}",
			wantErr:     true,
			errContains: "undefined variable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewTemplate(NewRisorCompiler(nil), tt.input, keys(tt.globals))
			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					require.Contains(t, err.Error(), tt.errContains)
				}
				return
			}
			require.NoError(t, err)
			require.NotNil(t, s)
			got, err := s.Eval(context.Background(), tt.globals)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestIsExpression(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{input: "${x}", want: "x", ok: true},
		{input: "  ${ x + 1 }  ", want: "x + 1", ok: true},
		{input: "${a} ${b}", ok: false},
		{input: "Hello ${name}", ok: false},
		{input: "plain", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := IsExpression(tt.input)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRisorCompileKnownNames(t *testing.T) {
	engine := NewRisorCompiler(nil)
	ctx := context.Background()

	_, err := engine.Compile(ctx, "count * 2", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "undefined variable")

	compiled, err := engine.Compile(ctx, "count * 2", []string{"count"})
	require.NoError(t, err)

	value, err := compiled.Evaluate(ctx, map[string]any{"count": 21})
	require.NoError(t, err)
	require.Equal(t, int64(42), value.Value())
	require.True(t, value.IsTruthy())
}

func keys(m map[string]any) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
