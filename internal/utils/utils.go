package utils

import (
	"regexp"
	"strings"
)

var spaces = regexp.MustCompile(`\s+`)

// TruncateForLog shortens the provided string to the specified limit, appending an ellipsis when truncated.
func TruncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// CollapseSpaces replaces every run of whitespace with a single space and trims the result.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}
