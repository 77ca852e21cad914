// Package jsonutil decodes the loosely typed JSON that language models
// produce.
package jsonutil

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// ErrNotStrings is returned by Strings for a JSON object.
var ErrNotStrings = errors.New("expected a string or a list of strings")

// FlexibleStringValue renders a scalar as a string. Models sometimes send
// 3 or true where a string was asked for. Null and empty input give "".
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	return string(raw)
}

// Strings accepts a JSON list, a single scalar or null and returns the
// non-blank items, trimmed. Objects are rejected.
func Strings(raw json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "" || trimmed == "null":
		return nil, nil
	case strings.HasPrefix(trimmed, "["):
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		var out []string
		for _, item := range items {
			if s := strings.TrimSpace(FlexibleStringValue(item)); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case strings.HasPrefix(trimmed, "{"):
		return nil, ErrNotStrings
	}
	if s := strings.TrimSpace(FlexibleStringValue(raw)); s != "" {
		return []string{s}, nil
	}
	return nil, nil
}
