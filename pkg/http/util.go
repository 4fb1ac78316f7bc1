package http

import (
	"time"

	xutil "GridWatch/pkg/util"
)

// ParseRange resolves from/to query values with a lookback window ending now.
func ParseRange(from, to string, lookback time.Duration) (time.Time, time.Time) {
	return xutil.ParseRange(from, to, lookback, time.Now())
}
