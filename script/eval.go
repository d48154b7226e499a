package script

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var templatePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Template is a string with embedded ${...} expressions. Each expression is
// compiled once and evaluated on every call to Eval.
type Template struct {
	raw      string
	segments []templateSegment
}

type templateSegment struct {
	text   string
	script Script
}

// NewTemplate compiles every ${...} expression found in raw.
func NewTemplate(engine Compiler, raw string, names []string) (*Template, error) {
	t := &Template{raw: raw}

	// Validate that all ${...} expressions are properly closed
	openCount := strings.Count(raw, "${")
	closeCount := strings.Count(raw, "}")
	if openCount > closeCount {
		return nil, fmt.Errorf("unclosed template expression in string: %q", raw)
	}
	if openCount == 0 {
		return t, nil
	}

	matches := templatePattern.FindAllStringSubmatchIndex(raw, -1)
	var lastEnd int
	for _, match := range matches {
		if match[0] > lastEnd {
			t.segments = append(t.segments, templateSegment{text: raw[lastEnd:match[0]]})
		}
		expr := strings.TrimSpace(raw[match[2]:match[3]])
		compiled, err := engine.Compile(context.Background(), expr, names)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template expression %q: %w", expr, err)
		}
		t.segments = append(t.segments, templateSegment{script: compiled})
		lastEnd = match[1]
	}
	if lastEnd < len(raw) {
		t.segments = append(t.segments, templateSegment{text: raw[lastEnd:]})
	}
	return t, nil
}

// Raw returns the template source.
func (t *Template) Raw() string {
	return t.raw
}

// Eval renders the template against the given globals.
func (t *Template) Eval(ctx context.Context, globals map[string]any) (string, error) {
	if len(t.segments) == 0 {
		return t.raw, nil
	}
	var sb strings.Builder
	for _, seg := range t.segments {
		if seg.script == nil {
			sb.WriteString(seg.text)
			continue
		}
		result, err := seg.script.Evaluate(ctx, globals)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate template expression: %w", err)
		}
		sb.WriteString(result.String())
	}
	return sb.String(), nil
}

// IsExpression reports whether s consists of exactly one ${...} expression
// and returns the expression source.
func IsExpression(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "${") || !strings.HasSuffix(trimmed, "}") {
		return "", false
	}
	matches := templatePattern.FindAllStringIndex(trimmed, -1)
	if len(matches) != 1 || matches[0][0] != 0 || matches[0][1] != len(trimmed) {
		return "", false
	}
	return strings.TrimSpace(trimmed[2 : len(trimmed)-1]), true
}

// IsTemplate reports whether s contains at least one ${...} expression.
func IsTemplate(s string) bool {
	return strings.Contains(s, "${")
}
