package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// String returns args[name] as a string. Missing or empty values return "".
func String(args map[string]interface{}, name string) string {
	switch v := args[name].(type) {
	case string:
		return v
	case nil:
		return ""
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// RequiredString returns args[name] or an invalid-arguments error when it
// is missing or blank.
func RequiredString(args map[string]interface{}, name string) (string, error) {
	s := String(args, name)
	if strings.TrimSpace(s) == "" {
		return "", InvalidArguments("%s is required", name)
	}
	return s, nil
}

// Int returns args[name] as an int, def when absent.
func Int(args map[string]interface{}, name string, def int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, InvalidArguments("%s must be an integer: %v", name, err)
	}
	return n, nil
}

// Strings returns args[name] as a list of strings. A single string is
// split on commas.
func Strings(args map[string]interface{}, name string) ([]string, error) {
	switch v := args[name].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case string:
		return splitList(v), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, InvalidArguments("%s must be a list of strings", name)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, InvalidArguments("%s must be a list of strings", name)
	}
}

// Bool returns args[name] as a bool, def when absent.
func Bool(args map[string]interface{}, name string, def bool) (bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	b, err := toBool(v)
	if err != nil {
		return false, InvalidArguments("%s must be a boolean: %v", name, err)
	}
	return b, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v has a fractional part", n)
		}
		return int(n), nil
	case float32:
		return toInt(float64(n))
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("unsupported type %T", v)
	}
}
