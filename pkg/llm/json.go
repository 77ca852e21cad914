package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a response carries no well-formed JSON object.
var ErrNoJSON = errors.New("no valid JSON object found in response")

// thinkTagPattern matches <think>...</think> blocks some models emit first.
var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ExtractJSON returns the first well-formed JSON object in an LLM response.
// Reasoning blocks, code fences and surrounding prose are skipped; a
// balanced candidate that fails to parse moves the scan to the next '{'.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	for offset := 0; offset < len(cleaned); {
		start := strings.IndexByte(cleaned[offset:], '{')
		if start < 0 {
			break
		}
		start += offset

		candidate, ok := extractBalancedJSON(cleaned[start:], '{', '}')
		if ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
		offset = start + 1
	}

	return "", ErrNoJSON
}

// extractBalancedJSON returns the prefix of s that closes the bracket s
// opens with, ignoring brackets inside strings.
func extractBalancedJSON(s string, openChar, closeChar byte) (string, bool) {
	if len(s) == 0 || s[0] != openChar {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}

	return "", false
}

// ParseJSONResponse extracts the first JSON object and unmarshals it.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}

	return result, nil
}
