// Package cache is the client-side store of remote data. Entries are keyed by
// resource and parameters, fetched at most once concurrently, and marked
// stale by invalidation after writes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"budgetbuddy/internal/log"
)

// Status is the lifecycle state of an entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	ErrNoFetcher    = errors.New("cache: no fetcher known for key")
	ErrNilResult    = errors.New("cache: fetcher returned no value")
	ErrTypeMismatch = errors.New("cache: cached value has unexpected type")
)

// Fetcher loads the value of one key from the backend.
type Fetcher func(ctx context.Context) (any, error)

// Entry is a point-in-time view of a cache entry. Value is set only in
// StatusSuccess and Err only in StatusError.
type Entry struct {
	Key         Key
	Status      Status
	Value       any
	Err         error
	Subscribers int
	Stale       bool
	UpdatedAt   time.Time
}

// ErrorDetail is the message shown for a failed entry.
func (e Entry) ErrorDetail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Fresh reports whether the entry can be served without a fetch.
func (e Entry) Fresh() bool {
	return e.Status == StatusSuccess && !e.Stale
}

type Options struct {
	// GCTime is how long an entry without subscribers is kept after its last
	// use. Zero keeps entries forever.
	GCTime time.Duration
	// FetchTimeout bounds a single fetch, independent of the callers.
	FetchTimeout time.Duration
	Logger       *log.Logger
	Now          func() time.Time
}

type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	group   singleflight.Group
	seq     uint64

	gcTime       time.Duration
	fetchTimeout time.Duration
	logger       *log.Logger
	now          func() time.Time
}

type entry struct {
	key       Key
	status    Status
	value     any
	err       error
	stale     bool
	updatedAt time.Time
	lastUsed  time.Time

	fetcher Fetcher
	// flight is the singleflight key of the running fetch, "" when idle.
	flight string
	// gen is bumped by every invalidation; a fetch that started under an
	// older generation completes as stale.
	gen      uint64
	watchers map[*watcher]struct{}
}

type watcher struct {
	ch chan Entry
}

func New(opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	return &Cache{
		entries:      make(map[Key]*entry),
		gcTime:       opts.GCTime,
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger.WithComponent(log.ComponentCache),
		now:          opts.Now,
	}
}

// Query returns the entry for key, fetching it when there is no fresh value.
// Concurrent queries for the same key share one fetch. A failed entry keeps
// its error until the next query or refetch fetches again; nothing is retried
// without a caller asking.
// The returned error is the entry error or ctx.Err() if the caller stopped
// waiting; the fetch itself keeps running and fills the entry.
func (c *Cache) Query(ctx context.Context, key Key, fetch Fetcher) (Entry, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.lastUsed = c.now()
	if fetch != nil {
		e.fetcher = fetch
	}

	if e.status == StatusSuccess && !e.stale {
		snap := c.snapshotLocked(e)
		c.mu.Unlock()
		return snap, nil
	}

	ch, err := c.flightLocked(e)
	if err != nil {
		c.mu.Unlock()
		return Entry{Key: key}, err
	}
	c.mu.Unlock()
	return c.wait(ctx, e, ch)
}

// Refetch runs the remembered fetcher for key regardless of its state. A
// fetch already in flight is joined rather than duplicated.
func (c *Cache) Refetch(ctx context.Context, key Key) (Entry, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.fetcher == nil {
		c.mu.Unlock()
		return Entry{Key: key}, fmt.Errorf("%w: %s", ErrNoFetcher, key)
	}
	e.lastUsed = c.now()
	if e.status != StatusLoading {
		e.stale = true
	}
	ch, err := c.flightLocked(e)
	c.mu.Unlock()
	if err != nil {
		return Entry{Key: key}, err
	}
	return c.wait(ctx, e, ch)
}

// Mutate runs a backend write and invalidates keys when it succeeds. A failed
// write leaves the cache untouched.
func (c *Cache) Mutate(ctx context.Context, write func(ctx context.Context) error, keys ...Key) error {
	if err := write(ctx); err != nil {
		return err
	}
	c.Invalidate(keys...)
	return nil
}

// Invalidate marks every entry matched by keys as stale. Nothing is fetched
// eagerly; the next Query of a stale entry fetches again. A fetch in flight
// completes as stale. Returns the number of entries touched.
func (c *Cache) Invalidate(keys ...Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if !matchesAny(keys, e.key) {
			continue
		}
		switch e.status {
		case StatusLoading:
			e.gen++
		case StatusSuccess, StatusError:
			e.stale = true
			e.gen++
		default:
			continue
		}
		n++
		c.notifyLocked(e)
	}
	if n > 0 {
		c.logger.Debug("Invalidated cache entries", log.FieldOperation, log.OpInvalidate, log.FieldCount, n)
	}
	return n
}

// InvalidateResources invalidates every entry of the named resources.
func (c *Cache) InvalidateResources(resources ...string) int {
	keys := make([]Key, len(resources))
	for i, r := range resources {
		keys[i] = Key{Resource: r}
	}
	return c.Invalidate(keys...)
}

// Peek returns the current entry without touching it.
func (c *Cache) Peek(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return c.snapshotLocked(e), true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Subscribe registers an observer of key. The channel always holds the most
// recent state; intermediate states may be skipped by a slow reader. The
// returned function unsubscribes and must be called once.
func (c *Cache) Subscribe(key Key) (<-chan Entry, func()) {
	w := &watcher{ch: make(chan Entry, 1)}

	c.mu.Lock()
	e := c.entryLocked(key)
	e.watchers[w] = struct{}{}
	e.lastUsed = c.now()
	c.notifyLocked(e)
	c.mu.Unlock()

	var once sync.Once
	return w.ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			// the entry may have been replaced by Clear
			if cur, ok := c.entries[key]; ok {
				delete(cur.watchers, w)
				cur.lastUsed = c.now()
			}
		})
	}
}

// Clear drops all cached data, used when the session ends. Entries that are
// still observed are reset to idle; results of fetches started before Clear
// are discarded.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if len(e.watchers) == 0 {
			delete(c.entries, k)
			continue
		}
		e.status = StatusIdle
		e.value = nil
		e.err = nil
		e.stale = false
		e.flight = ""
		e.gen++
		c.notifyLocked(e)
	}
	c.logger.Debug("Cache cleared")
}

// CleanExpired implements Cleaner. It evicts entries that have no
// subscribers, are not loading and were last used more than GCTime ago.
func (c *Cache) CleanExpired() int {
	if c.gcTime <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.entries {
		if len(e.watchers) > 0 || e.status == StatusLoading {
			continue
		}
		if now.Sub(e.lastUsed) > c.gcTime {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, watchers: make(map[*watcher]struct{})}
		c.entries[key] = e
	}
	return e
}

// flightLocked joins the running fetch of e or starts a new one.
func (c *Cache) flightLocked(e *entry) (<-chan singleflight.Result, error) {
	if e.status == StatusLoading && e.flight != "" {
		// the flight cannot have completed while c.mu is held, so this joins it
		return c.group.DoChan(e.flight, func() (any, error) { return nil, ErrNoFetcher }), nil
	}
	if e.fetcher == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, e.key)
	}

	c.seq++
	flight := e.key.String() + "#" + strconv.FormatUint(c.seq, 10)
	gen := e.gen
	fetch := e.fetcher

	e.flight = flight
	e.status = StatusLoading
	e.value = nil
	e.err = nil
	c.notifyLocked(e)
	c.logger.Debug("Fetching", log.FieldCacheKey, e.key.String())

	return c.group.DoChan(flight, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
		defer cancel()

		v, err := fetch(ctx)
		if err == nil && v == nil {
			err = ErrNilResult
		}
		c.complete(e, flight, gen, v, err)
		return v, err
	}), nil
}

func (c *Cache) complete(e *entry, flight string, gen uint64, v any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.flight != flight || c.entries[e.key] != e {
		return
	}
	e.flight = ""
	e.updatedAt = c.now()
	e.stale = e.gen != gen
	if err != nil {
		e.status = StatusError
		e.value = nil
		e.err = err
		c.logger.Warn("Fetch failed", log.FieldCacheKey, e.key.String(), log.FieldError, err)
	} else {
		e.status = StatusSuccess
		e.value = v
		e.err = nil
	}
	c.notifyLocked(e)
}

func (c *Cache) wait(ctx context.Context, e *entry, ch <-chan singleflight.Result) (Entry, error) {
	select {
	case res := <-ch:
		c.mu.Lock()
		snap := c.snapshotLocked(e)
		c.mu.Unlock()
		if res.Err != nil {
			snap.Status, snap.Value, snap.Err = StatusError, nil, res.Err
			return snap, res.Err
		}
		snap.Status, snap.Value, snap.Err = StatusSuccess, res.Val, nil
		return snap, nil
	case <-ctx.Done():
		c.mu.Lock()
		snap := c.snapshotLocked(e)
		c.mu.Unlock()
		return snap, ctx.Err()
	}
}

func (c *Cache) snapshotLocked(e *entry) Entry {
	return Entry{
		Key:         e.key,
		Status:      e.status,
		Value:       e.value,
		Err:         e.err,
		Subscribers: len(e.watchers),
		Stale:       e.stale,
		UpdatedAt:   e.updatedAt,
	}
}

func (c *Cache) notifyLocked(e *entry) {
	if len(e.watchers) == 0 {
		return
	}
	snap := c.snapshotLocked(e)
	for w := range e.watchers {
		select {
		case <-w.ch:
		default:
		}
		select {
		case w.ch <- snap:
		default:
		}
	}
}

func matchesAny(keys []Key, k Key) bool {
	for _, inv := range keys {
		if inv.matches(k) {
			return true
		}
	}
	return false
}

// Get queries key and returns its value as T.
func Get[T any](ctx context.Context, c *Cache, key Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var f Fetcher
	if fetch != nil {
		f = func(ctx context.Context) (any, error) { return fetch(ctx) }
	}
	e, err := c.Query(ctx, key, f)
	if err != nil {
		return zero, err
	}
	v, ok := e.Value.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T", ErrTypeMismatch, key, e.Value)
	}
	return v, nil
}

// Do runs a write returning a value and invalidates keys on success.
func Do[T any](ctx context.Context, c *Cache, write func(ctx context.Context) (T, error), keys ...Key) (T, error) {
	var out T
	err := c.Mutate(ctx, func(ctx context.Context) error {
		var err error
		out, err = write(ctx)
		return err
	}, keys...)
	return out, err
}
