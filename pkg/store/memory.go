package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
)

// Clock returns the current time. Memory stores use it to expire keys so
// tests can move time forward without sleeping.
type Clock func() time.Time

// fault holds an injectable error shared by the memory stores.
type fault struct {
	mu  sync.Mutex
	err error
}

// Fail makes every subsequent call return err until Fail(nil) is called.
func (f *fault) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fault) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, "store: context done")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// ===========================================================================
// MemoryCounterStore
// ===========================================================================

type window struct {
	entries  []Entry
	expireAt time.Time
}

// MemoryCounterStore implements [AtomicCounterStore] with sorted slices.
type MemoryCounterStore struct {
	fault
	now Clock

	mu   sync.Mutex
	sets map[string]*window
}

var _ AtomicCounterStore = (*MemoryCounterStore)(nil)

// NewMemoryCounterStore returns an empty store. A nil clock uses time.Now.
func NewMemoryCounterStore(now Clock) *MemoryCounterStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounterStore{now: now, sets: make(map[string]*window)}
}

// live returns the window for key, dropping it first once the clock is
// past its TTL. At exactly the expiry instant the key is still live, as in
// Redis. Callers hold s.mu.
func (s *MemoryCounterStore) live(key string) *window {
	w, ok := s.sets[key]
	if !ok {
		return nil
	}
	if !w.expireAt.IsZero() && s.now().After(w.expireAt) {
		delete(s.sets, key)
		return nil
	}
	return w
}

func (s *MemoryCounterStore) trim(w *window, cutoffMs int64) {
	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].Score >= cutoffMs })
	w.entries = w.entries[i:]
}

func (s *MemoryCounterStore) insert(key string, w *window, e Entry, ttl time.Duration) *window {
	if w == nil {
		w = &window{}
		s.sets[key] = w
	}
	for i, cur := range w.entries {
		if cur.Member == e.Member {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			break
		}
	}
	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].Score > e.Score })
	w.entries = append(w.entries, Entry{})
	copy(w.entries[i+1:], w.entries[i:])
	w.entries[i] = e
	if ttl > 0 {
		w.expireAt = s.now().Add(ttl)
	}
	return w
}

// TrimAndCount removes entries scored below cutoffMs and returns how many
// remain.
func (s *MemoryCounterStore) TrimAndCount(ctx context.Context, key string, cutoffMs int64) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.live(key)
	if w == nil {
		return 0, nil
	}
	s.trim(w, cutoffMs)
	return int64(len(w.entries)), nil
}

// Oldest returns the lowest-scored entry, if any.
func (s *MemoryCounterStore) Oldest(ctx context.Context, key string) (Entry, bool, error) {
	if err := s.check(ctx); err != nil {
		return Entry{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.live(key)
	if w == nil || len(w.entries) == 0 {
		return Entry{}, false, nil
	}
	return w.entries[0], true, nil
}

// InsertAndCount adds e, refreshes the key's TTL and returns the new
// count. Like ZADD, an entry with an existing member is re-scored rather
// than duplicated.
func (s *MemoryCounterStore) InsertAndCount(ctx context.Context, key string, e Entry, ttl time.Duration) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.insert(key, s.live(key), e, ttl)
	return int64(len(w.entries)), nil
}

// Admit trims, counts and conditionally inserts under one lock, matching
// the atomicity of the Redis script.
func (s *MemoryCounterStore) Admit(ctx context.Context, key string, e Entry, cutoffMs, limit int64, ttl time.Duration) (AdmitResult, error) {
	if err := s.check(ctx); err != nil {
		return AdmitResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.live(key)
	var count int64
	if w != nil {
		s.trim(w, cutoffMs)
		count = int64(len(w.entries))
	}
	if count >= limit {
		oldest := int64(-1)
		if count > 0 {
			oldest = w.entries[0].Score
		}
		return AdmitResult{Count: count, OldestMs: oldest}, nil
	}
	w = s.insert(key, w, e, ttl)
	return AdmitResult{Admitted: true, Count: int64(len(w.entries)), OldestMs: -1}, nil
}

// Len returns the number of members under key without trimming.
func (s *MemoryCounterStore) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.live(key); w != nil {
		return len(w.entries)
	}
	return 0
}

// Keys returns the live keys in sorted order.
func (s *MemoryCounterStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.sets))
	for k := range s.sets {
		if s.live(k) != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ===========================================================================
// MemoryCache
// ===========================================================================

type cacheItem struct {
	value    []byte
	expireAt time.Time
}

// MemoryCache implements [KeyValueCache] with a map.
type MemoryCache struct {
	fault
	now Clock

	mu    sync.Mutex
	items map[string]cacheItem
}

var _ KeyValueCache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty cache. A nil clock uses time.Now.
func NewMemoryCache(now Clock) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{now: now, items: make(map[string]cacheItem)}
}

func (c *MemoryCache) lookup(key string) (cacheItem, bool) {
	it, ok := c.items[key]
	if !ok {
		return cacheItem{}, false
	}
	if !it.expireAt.IsZero() && c.now().After(it.expireAt) {
		delete(c.items, key)
		return cacheItem{}, false
	}
	return it, true
}

// Get returns a copy of the stored value.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := c.check(ctx); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

// Set stores a copy of value. A ttl of zero or less stores without expiry.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	it := cacheItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expireAt = c.now().Add(ttl)
	}
	c.items[key] = it
	return nil
}

// Exists reports whether key is present and unexpired.
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := c.check(ctx); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup(key)
	return ok, nil
}

// Delete removes key. It ignores injected faults.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// ===========================================================================
// MemoryDocuments
// ===========================================================================

// MemoryDocuments implements [DocumentSearch]. Search is a case-insensitive
// substring match on one string field, ordered by document ID.
type MemoryDocuments struct {
	fault

	mu      sync.RWMutex
	indexes map[string]map[string]Document
}

var _ DocumentSearch = (*MemoryDocuments)(nil)

// NewMemoryDocuments returns an empty document store.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{indexes: make(map[string]map[string]Document)}
}

// Put stores doc in index, replacing any document with the same ID.
func (m *MemoryDocuments) Put(index string, doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[index]
	if !ok {
		idx = make(map[string]Document)
		m.indexes[index] = idx
	}
	idx[doc.ID] = doc
}

// Get returns the document or a CodeNotFoundResource error.
func (m *MemoryDocuments) Get(ctx context.Context, index, id string) (Document, error) {
	if err := m.check(ctx); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.indexes[index][id]
	if !ok {
		return Document{}, sserr.Newf(sserr.CodeNotFoundResource,
			"store: document %q not found in %q", id, index)
	}
	return doc, nil
}

// Search filters, sorts and pages the index. A negative From or Size is a
// validation error.
func (m *MemoryDocuments) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if err := m.check(ctx); err != nil {
		return SearchResult{}, err
	}
	if req.From < 0 || req.Size < 0 {
		return SearchResult{}, sserr.Validationf("store: invalid page from=%d size=%d", req.From, req.Size)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(req.Query)
	var matched []Document
	for _, doc := range m.indexes[req.Index] {
		if needle != "" {
			field, _ := doc.Source[req.Field].(string)
			if !strings.Contains(strings.ToLower(field), needle) {
				continue
			}
		}
		matched = append(matched, doc)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	res := SearchResult{Total: int64(len(matched)), Hits: []Document{}}
	if req.From < len(matched) {
		end := min(req.From+req.Size, len(matched))
		res.Hits = append(res.Hits, matched[req.From:end]...)
	}
	return res, nil
}
