// Package store declares the storage capabilities the edge services depend
// on, independent of any backend:
//
//   - [CounterStore] holds the sorted-set windows of the rate limiter.
//   - [KeyValueCache] holds the cached JWKS document, the token denylist and
//     cached catalog documents.
//   - [DocumentSearch] reads catalog documents from the search index.
//
// Production adapters live under pkg/clients. The Memory* types in this
// package are in-process implementations used by tests and local runs.
package store

import (
	"context"
	"time"
)

// Entry is one member of a counter window. Score is a Unix timestamp in
// milliseconds.
type Entry struct {
	Member string
	Score  int64
}

// CounterStore is a remote ordered set keyed by string. Each method is a
// single round trip; implementations may pipeline the commands inside a
// method but must not hold locks across calls.
type CounterStore interface {
	// TrimAndCount removes members scored strictly below cutoffMs and
	// returns how many remain.
	TrimAndCount(ctx context.Context, key string, cutoffMs int64) (int64, error)

	// Oldest returns the lowest-scored member. ok is false when the set is
	// empty or missing.
	Oldest(ctx context.Context, key string) (e Entry, ok bool, err error)

	// InsertAndCount adds e, sets the key's TTL to ttl and returns the new
	// cardinality.
	InsertAndCount(ctx context.Context, key string, e Entry, ttl time.Duration) (int64, error)
}

// AdmitResult is the outcome of [AtomicCounterStore.Admit].
type AdmitResult struct {
	Admitted bool
	// Count is the cardinality after the call: the new size when admitted,
	// the unchanged size when not.
	Count int64
	// OldestMs is the score of the oldest member when the call was
	// rejected, or -1 when unknown.
	OldestMs int64
}

// AtomicCounterStore is a [CounterStore] that can run trim, count and the
// conditional insert as one server-side step, closing the race between two
// concurrent requests that both observe count < limit.
type AtomicCounterStore interface {
	CounterStore
	Admit(ctx context.Context, key string, e Entry, cutoffMs, limit int64, ttl time.Duration) (AdmitResult, error)
}

// KeyValueCache stores opaque blobs with a TTL.
type KeyValueCache interface {
	// Get returns the value for key. ok is false on a miss; a miss is not
	// an error.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key. A zero ttl stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// Document is a catalog record as stored in the search index.
type Document struct {
	ID     string         `json:"id"`
	Source map[string]any `json:"source"`
}

// SearchRequest is a paged full-text match against one field of an index.
// An empty Query matches every document.
type SearchRequest struct {
	Index string
	Field string
	Query string
	From  int
	Size  int
}

// SearchResult holds one page of hits and the total number of matches.
type SearchResult struct {
	Total int64      `json:"total"`
	Hits  []Document `json:"hits"`
}

// DocumentSearch reads documents from a search index. Get returns an error
// with code NF_003 when the document does not exist.
type DocumentSearch interface {
	Get(ctx context.Context, index, id string) (Document, error)
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
}
