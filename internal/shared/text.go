// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"strings"
	"unicode/utf8"
)

// Truncate returns at most limit characters of s, never splitting a UTF-8
// sequence. A limit of zero or less returns s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// Ellipsize is Truncate with a trailing "..." when anything was cut. It is meant
// for log fields.
func Ellipsize(s string, limit int) string {
	t := Truncate(s, limit)
	if len(t) < len(s) {
		return t + "..."
	}
	return t
}

// FirstNonEmpty returns the first argument that is not blank after trimming.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
