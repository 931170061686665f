package pipeline

import (
	"fmt"
	"strings"
)

const (
	placeholderOpen  = "${{"
	placeholderClose = "}}"
)

// ResolveString evaluates every "${{ expression }}" region in s against ctx.
// If s is, once trimmed, exactly one placeholder, the native (non-stringified)
// evaluated value is returned so integer/boolean context values survive
// round-tripping through stage args. Otherwise every placeholder is
// stringified and substituted in place, and the result is always a string.
func ResolveString(s string, ctx *Context) (any, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, placeholderOpen) && strings.HasSuffix(trimmed, placeholderClose) {
		inner := strings.TrimSpace(trimmed[len(placeholderOpen) : len(trimmed)-len(placeholderClose)])
		if !strings.Contains(inner, placeholderOpen) {
			return Evaluate(inner, ctx.asMap())
		}
	}

	var out strings.Builder

	rest := s

	for {
		start := strings.Index(rest, placeholderOpen)
		if start < 0 {
			out.WriteString(rest)

			break
		}

		end := strings.Index(rest[start:], placeholderClose)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated placeholder in %q", ErrSyntax, s)
		}

		end += start

		out.WriteString(rest[:start])

		expr := strings.TrimSpace(rest[start+len(placeholderOpen) : end])

		val, err := Evaluate(expr, ctx.asMap())
		if err != nil {
			return nil, err
		}

		out.WriteString(fmt.Sprint(val))

		rest = rest[end+len(placeholderClose):]
	}

	return out.String(), nil
}

// ResolveValue applies ResolveString to every string leaf of a stage-args
// tree (maps, slices, and bare strings), leaving other value kinds untouched.
func ResolveValue(v any, ctx *Context) (any, error) {
	switch val := v.(type) {
	case string:
		return ResolveString(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))

		for k, sub := range val {
			resolved, err := ResolveValue(sub, ctx)
			if err != nil {
				return nil, err
			}

			out[k] = resolved
		}

		return out, nil
	case []any:
		out := make([]any, len(val))

		for i, sub := range val {
			resolved, err := ResolveValue(sub, ctx)
			if err != nil {
				return nil, err
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return v, nil
	}
}
