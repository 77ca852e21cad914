package tools

import "strings"

// trimString trims whitespace and surrounding double quotes.
func trimString(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}
