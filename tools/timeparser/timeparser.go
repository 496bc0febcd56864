package timeparser

import (
	"fmt"
	"time"
)

// isoLayout renders microsecond precision with a numeric offset, e.g.
// 2025-03-01T10:15:30.123456+00:00. Postgres keeps microseconds, so values
// formatted here compare equal after a round trip through the store.
const isoLayout = "2006-01-02T15:04:05.000000-07:00"

// FormatISO8601 renders t in UTC as an ISO-8601 timestamp
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ParseISO8601 attempts to parse a timestamp produced by FormatISO8601 or any RFC3339 variant
func ParseISO8601(s string) (time.Time, error) {
	formats := []string{
		isoLayout,
		time.RFC3339Nano,
		time.RFC3339,
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, lastErr)
}

// Truncate drops precision the store cannot keep
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
