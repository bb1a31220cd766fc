package tools

import (
	"fmt"
	"math"
	"strings"

	"github.com/webharvest/webharvest-mcp/internal/errs"
)

// Argument accessors. The input schemas published by tools/list are static
// data; enforcement happens here, at handler entry, with errors that name
// the offending field. JSON numbers arrive as float64 and are accepted for
// integer arguments when they are whole.

func stringArg(args map[string]interface{}, key, def string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.Validation(key, "%s must be a string", key)
	}
	return s, nil
}

func requiredStringArg(args map[string]interface{}, key string) (string, error) {
	s, err := stringArg(args, key, "")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", errs.Validation(key, "%s is required", key)
	}
	return s, nil
}

func boolArg(args map[string]interface{}, key string, def bool) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errs.Validation(key, "%s must be a boolean", key)
	}
	return b, nil
}

func intArg(args map[string]interface{}, key string, def, min, max int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	var n int
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, errs.Validation(key, "%s must be an integer", key)
		}
		n = int(t)
	case int:
		n = t
	default:
		return 0, errs.Validation(key, "%s must be an integer", key)
	}
	if n < min || n > max {
		return 0, errs.Validation(key, "%s must be between %d and %d", key, min, max)
	}
	return n, nil
}

func enumArg(args map[string]interface{}, key, def string, allowed ...string) (string, error) {
	s, err := stringArg(args, key, def)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", errs.Validation(key, "%s must be one of %s", key, strings.Join(allowed, ", "))
}

func stringSliceArg(args map[string]interface{}, key string) ([]string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, errs.Validation(key, "%s must be an array of strings", key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, errs.Validation(key, "%s must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

// subsetArg is stringSliceArg constrained to an allowed set.
func subsetArg(args map[string]interface{}, key string, allowed ...string) ([]string, error) {
	values, err := stringSliceArg(args, key)
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		ok := false
		for _, a := range allowed {
			if v == a {
				ok = true
				break
			}
		}
		if !ok {
			return nil, errs.Validation(key, "%s contains %q; allowed values are %s",
				key, v, strings.Join(allowed, ", "))
		}
	}
	return values, nil
}

func mapArg(args map[string]interface{}, key string) (map[string]interface{}, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, errs.Validation(key, "%s must be an object", key)
	}
	return m, nil
}

func mapSliceArg(args map[string]interface{}, key string) ([]map[string]interface{}, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, errs.Validation(key, "%s must be an array of objects", key)
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errs.Validation(key, "%s must be an array of objects", key)
		}
		out = append(out, m)
	}
	return out, nil
}

// normalizeURL prepends https:// when the scheme is missing. Idempotent.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// paginate slices content[start : start+size] and reports the next start
// index, or -1 when the slice reaches the end.
func paginate(content string, start, size int) (string, int, error) {
	if start < 0 {
		return "", 0, errs.Validation("startIndex", "startIndex must not be negative")
	}
	if start > 0 && start >= len(content) {
		return "", 0, errs.Validation("startIndex",
			"startIndex %d is beyond the content length %d", start, len(content))
	}
	end := start + size
	if end >= len(content) {
		return content[start:], -1, nil
	}
	return content[start:end], end, nil
}

// truncationMarker names the next startIndex for a truncated slice.
func truncationMarker(next, total int) string {
	return fmt.Sprintf("\n\n[content truncated at character %d of %d; continue with startIndex=%d]",
		next, total, next)
}
