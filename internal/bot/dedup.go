package bot

import (
	"time"

	"github.com/nextlevelbuilder/taskbridge/internal/cache"
)

// Deduplicator defaults. The TTL window is a lower bound on duplicate
// suppression: after eviction a true duplicate is no longer guaranteed to be
// caught, which the upstream platform tolerates.
const (
	DefaultDedupTTL        = 5 * time.Minute
	DefaultDedupMaxEntries = 5000
)

// EventDeduplicator rejects re-delivered webhook events by id. Process-local;
// multi-instance deployments swap the backing cache for a shared store.
type EventDeduplicator struct {
	seen cache.Cache[string, struct{}]
}

// NewEventDeduplicator creates a deduplicator over a bounded TTL cache.
func NewEventDeduplicator(ttl time.Duration, maxEntries int) *EventDeduplicator {
	return &EventDeduplicator{seen: cache.NewTTLCache[string, struct{}](ttl, maxEntries)}
}

// NewEventDeduplicatorWith wraps an externally provided cache (shared-store
// deployments, tests).
func NewEventDeduplicatorWith(c cache.Cache[string, struct{}]) *EventDeduplicator {
	return &EventDeduplicator{seen: c}
}

// Seen records the event id on first sight and reports whether it was seen
// before within the TTL window. An empty id is never a duplicate: novel
// traffic must not be blocked by missing metadata.
func (d *EventDeduplicator) Seen(eventID string) bool {
	if eventID == "" {
		return false
	}
	return !d.seen.SetIfAbsent(eventID, struct{}{})
}

// Stop terminates the cache sweep.
func (d *EventDeduplicator) Stop() {
	d.seen.Stop()
}
