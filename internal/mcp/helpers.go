package mcpserver

import (
	"fmt"
	"strings"
)

func boolPtr(v bool) *bool { return &v }

// stringList accepts a JSON array of strings or numbers, or a comma-separated string.
func stringList(v any) ([]string, error) {
	var out []string
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		for _, part := range strings.Split(x, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	case []any:
		for i, item := range x {
			switch it := item.(type) {
			case string:
				if p := strings.TrimSpace(it); p != "" {
					out = append(out, p)
				}
			case float64:
				out = append(out, fmt.Sprintf("%.0f", it))
			default:
				return nil, fmt.Errorf("element %d has type %T, expected string", i, item)
			}
		}
	default:
		return nil, fmt.Errorf("expected array or string, got %T", v)
	}
	return out, nil
}

// intArg reads a numeric argument, falling back to def.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
