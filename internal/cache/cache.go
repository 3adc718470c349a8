// Package cache provides the TTL key/value layer used to short-circuit
// repeated collection and summarization for the same symbol.
//
// Every backend degrades transport failures to a miss or a no-op: the
// cache is a performance optimization, never a correctness dependency.
package cache

import (
	"context"
	"strings"
	"time"
)

// Backend is a key/value store with per-key expiry.
type Backend interface {
	// Name identifies the backend in status output ("rest", "redis", "memory").
	Name() string

	// Get returns the stored bytes, or false when absent, expired, or unreachable.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key for ttl. Failures are swallowed.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes keys. Failures are swallowed.
	Delete(ctx context.Context, keys ...string)

	// Exists reports whether key currently holds a live value.
	Exists(ctx context.Context, key string) bool

	// Ping verifies the backend is usable. Only used by the startup probe.
	Ping(ctx context.Context) error
}

// Namespace prefixes for the two logical key spaces.
const (
	NewsPrefix    = "news:"
	SummaryPrefix = "summary:"
)

// NewsKey returns the raw-article key for symbol.
func NewsKey(symbol string) string {
	return NewsPrefix + strings.ToUpper(symbol)
}

// SummaryKey returns the synthesized-summary key for symbol.
func SummaryKey(symbol string) string {
	return SummaryPrefix + strings.ToUpper(symbol)
}

// Status describes the active cache backend.
type Status struct {
	Backend   string `json:"backend"`
	Connected bool   `json:"connected"`
	Fallback  bool   `json:"fallback"`          // true when a configured remote failed its probe
	Entries   int    `json:"entries,omitempty"` // in-process backend only
	Reason    string `json:"reason,omitempty"`
}
