package tools

import (
	"fmt"
	"strings"
)

// Validate checks args against the parameter schema of d and returns a
// normalized copy. Required parameters must be present and non-nil.
// Declared parameters must match their type; string values are coerced to
// integer, number and boolean since XML arguments arrive as text.
// Parameters the schema does not declare pass through untouched.
func (d Descriptor) Validate(args map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}

	var missing []string
	for _, name := range d.Required() {
		v, ok := out[name]
		if !ok || v == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, InvalidArguments("missing required parameter(s): %s", strings.Join(missing, ", "))
	}

	for name, prop := range d.Properties() {
		v, ok := out[name]
		if !ok || v == nil {
			continue
		}
		typ, _ := prop["type"].(string)
		coerced, err := coerce(typ, v)
		if err != nil {
			return nil, InvalidArguments("parameter %q: %v", name, err)
		}
		if err := checkEnum(prop, coerced); err != nil {
			return nil, InvalidArguments("parameter %q: %v", name, err)
		}
		out[name] = coerced
	}
	return out, nil
}

func coerce(typ string, v interface{}) (interface{}, error) {
	switch typ {
	case "", "any":
		return v, nil
	case "string":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	case "integer":
		n, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("expected integer: %v", err)
		}
		return n, nil
	case "number":
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("expected number: %v", err)
		}
		return f, nil
	case "boolean":
		b, err := toBool(v)
		if err != nil {
			return nil, fmt.Errorf("expected boolean: %v", err)
		}
		return b, nil
	case "array":
		switch a := v.(type) {
		case []interface{}, []string:
			return v, nil
		case string:
			return splitList(a), nil
		}
		return nil, fmt.Errorf("expected array, got %T", v)
	case "object":
		if m, ok := v.(map[string]interface{}); ok {
			return m, nil
		}
		return nil, fmt.Errorf("expected object, got %T", v)
	default:
		return v, nil
	}
}

func checkEnum(prop map[string]interface{}, v interface{}) error {
	var allowed []string
	switch e := prop["enum"].(type) {
	case []string:
		allowed = e
	case []interface{}:
		for _, x := range e {
			allowed = append(allowed, fmt.Sprint(x))
		}
	default:
		return nil
	}
	s := fmt.Sprint(v)
	for _, a := range allowed {
		if a == s {
			return nil
		}
	}
	return fmt.Errorf("%q is not one of %s", s, strings.Join(allowed, ", "))
}

// splitList reads a comma separated XML value as a list.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
