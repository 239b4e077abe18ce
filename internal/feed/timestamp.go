package feed

import (
	"fmt"
	"strings"
	"time"
)

// zonedLayouts are the layouts observed in practice. The descriptor format
// uses "T" as separator, older stored rows use a space.
var zonedLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-0700",
}

// naiveLayouts parse but carry no offset. A match here is a clock skew
// error, not a valid timestamp.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp normalizes a descriptor or stored timestamp string into a
// zone-aware time.Time. The returned value keeps the offset it was written
// with; comparisons must go through IsStale.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrMalformedTimestamp)
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	for _, layout := range naiveLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return time.Time{}, fmt.Errorf("%w: %q has no zone offset", ErrClockSkew, s)
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
}

// FormatTimestamp renders t in the canonical stored form: RFC 3339 with the
// original offset and any fractional seconds. ParseTimestamp(FormatTimestamp(t))
// is the same instant.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// IsStale reports whether remote is strictly newer than stored. Both values
// are compared as UTC instants, so differing offsets never matter.
func IsStale(remote, stored time.Time) (bool, error) {
	if remote.IsZero() {
		return false, fmt.Errorf("%w: remote timestamp is unset", ErrClockSkew)
	}
	if stored.IsZero() {
		return false, fmt.Errorf("%w: stored timestamp is unset", ErrClockSkew)
	}
	return remote.UTC().After(stored.UTC()), nil
}
