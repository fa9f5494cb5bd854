package tools

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument is wrapped by every argument validation failure.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidArg(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, a...))
}

func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", invalidArg("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArg("%s must be a string", key)
	}
	if s == "" {
		return "", invalidArg("%s must not be empty", key)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArg("%s must be a string", key)
	}
	return s, nil
}

// intInRange reads an integral number, falling back to def when absent.
func intInRange(args map[string]any, key string, def, lo, hi int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, invalidArg("%s must be an integer", key)
	}
	n := int(f)
	if n < lo || n > hi {
		return 0, invalidArg("%s must be between %d and %d", key, lo, hi)
	}
	return n, nil
}

func optionalObject(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, invalidArg("%s must be an object", key)
	}
	return m, nil
}

func requiredStrings(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, invalidArg("%s is required", key)
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, invalidArg("%s must be an array of strings", key)
	}
	if len(raw) == 0 {
		return nil, invalidArg("%s must not be empty", key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, invalidArg("%s must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
