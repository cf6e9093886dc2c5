package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/runnerr0/dwell/internal/logging"
)

// Default adapter tunables.
const (
	DefaultCacheTTL    = 5 * time.Minute
	DefaultBatchWindow = 100 * time.Millisecond
)

// AdapterOptions configures an Adapter. Zero values take the defaults.
type AdapterOptions struct {
	CacheTTL    time.Duration
	BatchWindow time.Duration
	Logger      *slog.Logger
	Now         func() time.Time

	// Dependents maps a key to key prefixes holding aggregates derived
	// from it. Removing or immediately rewriting the key drops them.
	Dependents map[string][]string
}

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// Adapter wraps a Backend with JSON encoding, a TTL read cache and
// per-key write coalescing.
type Adapter struct {
	backend     Backend
	ttl         time.Duration
	batchWindow time.Duration
	now         func() time.Time
	logger      *slog.Logger
	dependents  map[string][]string

	// wmu orders backend writes so a batch taken by Flush can never land
	// after a later SetNow or Remove of the same key.
	wmu sync.Mutex

	mu      sync.Mutex
	cache   map[string]cacheEntry
	pending map[string][]byte
	timer   *time.Timer
	closed  bool
}

// NewAdapter wraps backend and subscribes to its change notifications.
func NewAdapter(backend Backend, opts AdapterOptions) *Adapter {
	a := &Adapter{
		backend:     backend,
		ttl:         opts.CacheTTL,
		batchWindow: opts.BatchWindow,
		now:         opts.Now,
		logger:      logging.OrDiscard(opts.Logger).With("component", "store"),
		dependents:  opts.Dependents,
		cache:       make(map[string]cacheEntry),
		pending:     make(map[string][]byte),
	}
	if a.ttl <= 0 {
		a.ttl = DefaultCacheTTL
	}
	if a.batchWindow <= 0 {
		a.batchWindow = DefaultBatchWindow
	}
	if a.now == nil {
		a.now = time.Now
	}
	backend.Watch(a.onChange)
	return a
}

// Backend returns the wrapped backend.
func (a *Adapter) Backend() Backend { return a.backend }

// Get decodes the value at key into v. It reports false when the key is
// absent. Pending writes are visible to Get before they are flushed.
func (a *Adapter) Get(ctx context.Context, key string, v any) (bool, error) {
	a.mu.Lock()
	if data, ok := a.pending[key]; ok {
		a.mu.Unlock()
		return true, json.Unmarshal(data, v)
	}
	if e, ok := a.cache[key]; ok && a.now().Before(e.expires) {
		a.mu.Unlock()
		return true, json.Unmarshal(e.data, v)
	}
	a.mu.Unlock()

	data, err := a.backend.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	if _, raced := a.pending[key]; !raced {
		a.cache[key] = cacheEntry{data: data, expires: a.now().Add(a.ttl)}
	}
	a.mu.Unlock()

	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Set queues v for key. Writes to the same key within the batch window
// are coalesced into one backend write.
func (a *Adapter) Set(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("store adapter closed")
	}
	a.pending[key] = data
	a.cache[key] = cacheEntry{data: data, expires: a.now().Add(a.ttl)}
	if a.timer == nil {
		a.timer = time.AfterFunc(a.batchWindow, a.flushTimer)
	}
	return nil
}

// SetNow writes v for key immediately, bypassing batching, and drops
// aggregates derived from key.
func (a *Adapter) SetNow(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	a.wmu.Lock()
	defer a.wmu.Unlock()

	a.mu.Lock()
	delete(a.pending, key)
	delete(a.cache, key)
	a.mu.Unlock()

	if err := a.backend.Set(ctx, key, data); err != nil {
		return err
	}

	a.mu.Lock()
	a.cache[key] = cacheEntry{data: data, expires: a.now().Add(a.ttl)}
	a.mu.Unlock()

	return a.dropDependents(ctx, key)
}

// Remove deletes keys immediately, together with any aggregates derived
// from them.
func (a *Adapter) Remove(ctx context.Context, keys ...string) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()

	a.mu.Lock()
	for _, k := range keys {
		delete(a.pending, k)
		delete(a.cache, k)
	}
	a.mu.Unlock()

	if err := a.backend.Remove(ctx, keys...); err != nil {
		return err
	}
	for _, k := range keys {
		if err := a.dropDependents(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate drops cached values for keys without touching the backend.
func (a *Adapter) Invalidate(keys ...string) {
	a.mu.Lock()
	for _, k := range keys {
		delete(a.cache, k)
	}
	a.mu.Unlock()
}

func (a *Adapter) dropDependents(ctx context.Context, key string) error {
	prefixes := a.dependents[key]
	if len(prefixes) == 0 {
		return nil
	}

	keys, err := a.backend.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	var victims []string
	a.mu.Lock()
	for k := range a.cache {
		if hasAnyPrefix(k, prefixes) {
			delete(a.cache, k)
		}
	}
	for k := range a.pending {
		if hasAnyPrefix(k, prefixes) {
			delete(a.pending, k)
		}
	}
	a.mu.Unlock()
	for _, k := range keys {
		if hasAnyPrefix(k, prefixes) {
			victims = append(victims, k)
		}
	}
	if len(victims) == 0 {
		return nil
	}
	return a.backend.Remove(ctx, victims...)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func (a *Adapter) flushTimer() {
	if err := a.Flush(context.Background()); err != nil {
		a.logger.Warn("batched write failed", "error", err)
	}
}

// Flush writes every pending value now. A failed write is logged, dropped
// and reported; it is not retried.
func (a *Adapter) Flush(ctx context.Context) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()

	a.mu.Lock()
	batch := a.pending
	a.pending = make(map[string][]byte)
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	var firstErr error
	for key, data := range batch {
		if err := a.backend.Set(ctx, key, data); err != nil {
			a.logger.Error("write dropped", "key", key, "error", err)
			a.Invalidate(key)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close flushes pending writes and rejects further Sets.
func (a *Adapter) Close(ctx context.Context) error {
	err := a.Flush(ctx)
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return err
}

// onChange drops cache entries for keys changed behind the adapter.
// Keys with a pending write keep their cached value, which is newer.
func (a *Adapter) onChange(ev ChangeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range ev.Keys {
		if _, ok := a.pending[k]; ok {
			continue
		}
		delete(a.cache, k)
	}
}
