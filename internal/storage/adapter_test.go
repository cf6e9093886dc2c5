package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blob struct {
	N int `json:"n"`
}

func newTestAdapter(t *testing.T, opts AdapterOptions) (*Adapter, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	if opts.BatchWindow == 0 {
		opts.BatchWindow = time.Hour // tests flush explicitly
	}
	a := NewAdapter(backend, opts)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, backend
}

func TestAdapter_SetIsVisibleBeforeFlush(t *testing.T) {
	a, backend := newTestAdapter(t, AdapterOptions{})
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", blob{N: 1}))

	var got blob
	found, err := a.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, got.N)
	assert.Equal(t, 0, backend.Writes(), "write is still pending")
}

func TestAdapter_CoalescesWritesToSameKey(t *testing.T) {
	a, backend := newTestAdapter(t, AdapterOptions{})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, a.Set(ctx, "k", blob{N: i}))
	}
	require.NoError(t, a.Flush(ctx))

	assert.Equal(t, 1, backend.Writes())
	raw, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":5}`, string(raw))
}

func TestAdapter_TimerFlushesBatch(t *testing.T) {
	backend := NewMemoryBackend()
	a := NewAdapter(backend, AdapterOptions{BatchWindow: 10 * time.Millisecond})
	defer a.Close(context.Background())

	require.NoError(t, a.Set(context.Background(), "k", blob{N: 7}))

	require.Eventually(t, func() bool {
		_, err := backend.Get(context.Background(), "k")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestAdapter_GetMissing(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterOptions{})

	var got blob
	found, err := a.Get(context.Background(), "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAdapter_CacheExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a, backend := newTestAdapter(t, AdapterOptions{
		CacheTTL: time.Minute,
		Now:      func() time.Time { return now },
	})
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte(`{"n":1}`)))
	var got blob
	_, err := a.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.Equal(t, 1, got.N)

	// Change the raw value without a notification the adapter can see.
	backend.mu.Lock()
	backend.data["k"] = []byte(`{"n":2}`)
	backend.mu.Unlock()

	_, err = a.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.Equal(t, 1, got.N, "served from cache")

	now = now.Add(2 * time.Minute)
	_, err = a.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.Equal(t, 2, got.N, "cache expired")
}

func TestAdapter_ChangeNotificationInvalidatesCache(t *testing.T) {
	a, backend := newTestAdapter(t, AdapterOptions{})
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte(`{"n":1}`)))
	var got blob
	_, err := a.Get(ctx, "k", &got)
	require.NoError(t, err)

	require.NoError(t, backend.Set(ctx, "k", []byte(`{"n":3}`)))

	_, err = a.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.Equal(t, 3, got.N)
}

func TestAdapter_RemoveDropsDependents(t *testing.T) {
	a, backend := newTestAdapter(t, AdapterOptions{
		Dependents: map[string][]string{"pageviews": {"stats:"}},
	})
	ctx := context.Background()

	require.NoError(t, a.SetNow(ctx, "pageviews", blob{N: 1}))
	require.NoError(t, a.SetNow(ctx, "stats:today", blob{N: 2}))
	require.NoError(t, a.SetNow(ctx, "stats:week", blob{N: 3}))
	require.NoError(t, a.SetNow(ctx, "settings", blob{N: 4}))

	require.NoError(t, a.Remove(ctx, "pageviews"))

	keys, err := backend.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"settings"}, keys)

	var got blob
	found, err := a.Get(ctx, "stats:today", &got)
	require.NoError(t, err)
	assert.False(t, found, "dependent aggregate must not be served from cache")
}

func TestAdapter_SetNowBypassesBatching(t *testing.T) {
	a, backend := newTestAdapter(t, AdapterOptions{
		Dependents: map[string][]string{"pageviews": {"stats:"}},
	})
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "stats:today", blob{N: 9}))
	require.NoError(t, a.SetNow(ctx, "pageviews", blob{N: 1}))

	raw, err := backend.Get(ctx, "pageviews")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(raw))

	require.NoError(t, a.Flush(ctx))
	_, err = backend.Get(ctx, "stats:today")
	assert.ErrorIs(t, err, ErrKeyNotFound, "pending dependent write was dropped")
}

func TestAdapter_FlushFailureIsReportedNotRetried(t *testing.T) {
	a, backend := newTestAdapter(t, AdapterOptions{})
	ctx := context.Background()

	backend.FailWrites = errors.New("quota exceeded")
	require.NoError(t, a.Set(ctx, "k", blob{N: 1}))
	assert.Error(t, a.Flush(ctx))

	backend.FailWrites = nil
	require.NoError(t, a.Flush(ctx))
	assert.Equal(t, 0, backend.Writes(), "dropped write is not replayed")

	var got blob
	found, err := a.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAdapter_SetAfterCloseFails(t *testing.T) {
	backend := NewMemoryBackend()
	a := NewAdapter(backend, AdapterOptions{BatchWindow: time.Hour})

	require.NoError(t, a.Set(context.Background(), "k", blob{N: 1}))
	require.NoError(t, a.Close(context.Background()))
	assert.Error(t, a.Set(context.Background(), "k", blob{N: 2}))

	raw, err := backend.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(raw), "close flushed the pending write")
}

// gatedBackend blocks the first Set of gateValue until release is closed.
type gatedBackend struct {
	*MemoryBackend
	gateValue string
	entered   chan struct{}
	release   chan struct{}
}

func (g *gatedBackend) Set(ctx context.Context, key string, value []byte) error {
	if string(value) == g.gateValue {
		close(g.entered)
		<-g.release
	}
	return g.MemoryBackend.Set(ctx, key, value)
}

func TestAdapter_SetNowWinsOverInFlightFlush(t *testing.T) {
	backend := &gatedBackend{
		MemoryBackend: NewMemoryBackend(),
		gateValue:     `"with-domain"`,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	a := NewAdapter(backend, AdapterOptions{BatchWindow: time.Hour})
	defer a.Close(context.Background())
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "pageviews", "with-domain"))

	flushed := make(chan error, 1)
	go func() { flushed <- a.Flush(ctx) }()
	<-backend.entered

	saved := make(chan error, 1)
	go func() { saved <- a.SetNow(ctx, "pageviews", "deleted") }()
	time.Sleep(20 * time.Millisecond)
	close(backend.release)

	require.NoError(t, <-flushed)
	require.NoError(t, <-saved)

	var got string
	found, err := a.Get(ctx, "pageviews", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "deleted", got)

	raw, err := backend.MemoryBackend.Get(ctx, "pageviews")
	require.NoError(t, err)
	assert.Equal(t, `"deleted"`, string(raw))
}

func TestMemoryBackend_NotifiesWatchersAddedDuringDispatch(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	var first, late []ChangeEvent
	backend.Watch(func(ev ChangeEvent) {
		first = append(first, ev)
		if len(first) == 1 {
			backend.Watch(func(ev ChangeEvent) { late = append(late, ev) })
		}
	})

	require.NoError(t, backend.Set(ctx, "a", []byte("1")))
	require.NoError(t, backend.Set(ctx, "b", []byte("2")))

	require.Len(t, first, 2)
	assert.Equal(t, []string{"a"}, first[0].Keys)
	require.Len(t, late, 1)
	assert.Equal(t, []string{"b"}, late[0].Keys)
}
