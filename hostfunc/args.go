package hostfunc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// String returns a required, non-empty string argument.
func String(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", errors.New(key + " required")
	}
	return v, nil
}

// StringOr returns a string argument or def when it is absent or empty.
func StringOr(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Bytes returns a required payload argument. Strings are used verbatim;
// any other JSON value is re-encoded.
func Bytes(args map[string]any, key string) ([]byte, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, errors.New(key + " required")
	}
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return data, nil
}

// IntOr returns a numeric argument or def. JSON numbers decode as float64.
func IntOr(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// Decode converts args into a typed request struct.
func Decode(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
