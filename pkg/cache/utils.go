package cache

import "strings"

// Key joins parts with ':' into a cache key, e.g. Key("observation", "latest", "BTC/USD").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
