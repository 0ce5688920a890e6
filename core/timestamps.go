package core

import (
	"strings"
	"time"
)

// StartedAtLayout matches the browser's Date.prototype.toISOString output.
const StartedAtLayout = "2006-01-02T15:04:05.000Z"

// ParseStartedAt parses an RFC 3339 timestamp. It never panics; ok is false
// for empty or malformed input.
func ParseStartedAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatStartedAt renders t as ISO-8601 UTC with millisecond precision.
func FormatStartedAt(t time.Time) string {
	return t.UTC().Format(StartedAtLayout)
}

// NormalizeStartedAt parses s and re-renders it in StartedAtLayout so every
// consumer derives the same elapsed time.
func NormalizeStartedAt(s string) (string, bool) {
	t, ok := ParseStartedAt(s)
	if !ok {
		return "", false
	}
	return FormatStartedAt(t), true
}
