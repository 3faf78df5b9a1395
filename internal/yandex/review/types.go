// Package review holds the Acquisition Engine's shared ephemeral types:
// the normalized review shape produced by every extraction strategy, and
// the fetch-result envelope that accumulates across endpoints, sort orders,
// and rating filters. These are in-memory-only types; nothing here is
// persisted directly (see internal/store for the relational shape).
package review

import "time"

// Raw is a single review in normalized form, prior to sanitization by the
// Materializer. Every extraction strategy (JSON endpoint, embedded state,
// DOM fallback) produces this same shape.
type Raw struct {
	YandexID    string // upstream-assigned id; empty when upstream omitted one
	Author      string
	Rating      int // 0 means "no rating present"; otherwise 1..5
	Text        string
	Branch      string
	PublishedAt time.Time // zero value means "no date extracted"
}

// FetchResult is assembled by a single extraction strategy or pagination
// pass and merged by the Fan-out Orchestrator into one accumulator.
type FetchResult struct {
	OrganizationName string
	Rating           float64 // upstream-reported aggregate rating, 0 when absent
	TotalReviews     int     // upstream-reported total review count, monotonically non-decreasing across pages
	Reviews          []Raw
}
