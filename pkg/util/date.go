package util

import (
	"strconv"
	"time"
)

// Unix timestamps at or above this are milliseconds.
const millisThreshold = 1e11

// ParseTime accepts RFC3339 with optional fractional seconds and positive
// unix seconds or milliseconds.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	// RFC3339Nano parsing also accepts inputs without a fraction
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	switch {
	case err != nil || ts <= 0:
		return time.Time{}, false
	case ts >= millisThreshold:
		return time.UnixMilli(ts), true
	default:
		return time.Unix(ts, 0), true
	}
}

// ParseRange resolves a from/to query pair in UTC. A missing or unparsable
// to is now and a missing from is lookback before to.
func ParseRange(from, to string, lookback time.Duration, now time.Time) (time.Time, time.Time) {
	end, ok := ParseTime(to)
	if !ok {
		end = now
	}
	start, ok := ParseTime(from)
	if !ok {
		start = end.Add(-lookback)
	}
	return start.UTC(), end.UTC()
}
