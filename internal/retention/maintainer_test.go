package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/aggregator"
	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/storage"
)

type memSettings struct {
	mu sync.Mutex
	s  pageview.UserSettings
}

func (m *memSettings) Current(context.Context) pageview.UserSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

func (m *memSettings) Update(_ context.Context, fn func(*pageview.UserSettings)) (pageview.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.s)
	return m.s, nil
}

type fakePruner struct {
	cutoffs []time.Time
	err     error
}

func (f *fakePruner) PruneVisits(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, f.err
}

type fakeMerger struct{ calls int }

func (f *fakeMerger) FindAndMergeSimilarURLs(context.Context) ([]aggregator.MergeRecord, error) {
	f.calls++
	return []aggregator.MergeRecord{{ID: "m1"}}, nil
}

type maintFixture struct {
	m        *Maintainer
	repo     *pageview.Repository
	settings *memSettings
	pruner   *fakePruner
	merger   *fakeMerger
	now      time.Time
}

func newMaintFixture(t *testing.T) *maintFixture {
	t.Helper()
	adapter := storage.NewAdapter(storage.NewMemoryBackend(), storage.AdapterOptions{BatchWindow: time.Hour})
	t.Cleanup(func() { _ = adapter.Close(context.Background()) })

	f := &maintFixture{
		repo:     pageview.NewRepository(adapter),
		settings: &memSettings{s: pageview.UserSettings{PageViewStorageDays: 30}},
		pruner:   &fakePruner{},
		merger:   &fakeMerger{},
		now:      day0.Add(12 * time.Hour),
	}
	f.m = NewMaintainer(f.repo, adapter, f.settings, MaintainerOptions{
		Visits:   f.pruner,
		Merger:   f.merger,
		Location: time.UTC,
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *maintFixture) seed(t *testing.T, url string, sessions ...pageview.Session) {
	t.Helper()
	err := f.repo.Update(context.Background(), func(pages pageview.Pages) (bool, error) {
		pages[url] = pageWith(url, sessions...)
		return true, nil
	})
	require.NoError(t, err)
}

func TestMaintainer_RunIfDueOncePerInterval(t *testing.T) {
	f := newMaintFixture(t)
	ctx := context.Background()
	f.seed(t, "https://a.com/old", span(-40*24*time.Hour, -40*24*time.Hour+time.Minute))
	f.seed(t, "https://a.com/new", span(time.Hour, 2*time.Hour))

	rep, err := f.m.RunIfDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.PagesRemoved)
	assert.Equal(t, int64(3), rep.VisitsPruned)
	assert.Equal(t, 1, rep.Merges)
	assert.Equal(t, f.now.AddDate(0, 0, -30), f.pruner.cutoffs[0])

	last, err := f.m.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.now.UnixMilli(), last.UnixMilli())

	f.now = f.now.Add(23 * time.Hour)
	rep, err = f.m.RunIfDue(ctx)
	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.Equal(t, 1, f.merger.calls)

	f.now = f.now.Add(2 * time.Hour)
	rep, err = f.m.RunIfDue(ctx)
	require.NoError(t, err)
	assert.NotNil(t, rep)
	assert.Equal(t, 2, f.merger.calls)
}

func TestMaintainer_RunCompactsOldDays(t *testing.T) {
	f := newMaintFixture(t)
	f.seed(t, "https://a.com/",
		span(-10*24*time.Hour, -10*24*time.Hour+time.Minute),
		span(-10*24*time.Hour+time.Hour, -10*24*time.Hour+time.Hour+time.Minute),
		span(time.Hour, time.Hour+time.Minute),
		span(2*time.Hour, 2*time.Hour+time.Minute),
	)

	rep, err := f.m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.SessionsCompacted)

	p, err := f.repo.Get(context.Background(), "https://a.com/")
	require.NoError(t, err)
	assert.Len(t, p.Sessions, 3)
	assert.InDelta(t, 240.0, p.TotalDuration, 1e-9)
}

func TestMaintainer_SpanModeCompactsToDayBounds(t *testing.T) {
	f := newMaintFixture(t)
	f.m.opts.CompactMode = CompactSpan
	f.seed(t, "https://a.com/",
		span(-10*24*time.Hour, -10*24*time.Hour+time.Minute),
		span(-10*24*time.Hour+time.Hour, -10*24*time.Hour+time.Hour+time.Minute),
	)

	rep, err := f.m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.SessionsCompacted)

	p, err := f.repo.Get(context.Background(), "https://a.com/")
	require.NoError(t, err)
	require.Len(t, p.Sessions, 1)
	assert.Equal(t, at(-10*24*time.Hour), p.Sessions[0].StartTime)
	assert.Equal(t, at(-10*24*time.Hour+time.Hour+time.Minute), p.Sessions[0].EndTime)
	assert.InDelta(t, 3660.0, p.TotalDuration, 1e-9)
}

func TestMaintainer_SetRetentionAppliesImmediately(t *testing.T) {
	f := newMaintFixture(t)
	f.seed(t, "https://a.com/x",
		span(-5*24*time.Hour, -5*24*time.Hour+time.Minute),
		span(time.Hour, time.Hour+time.Minute),
	)

	rep, err := f.m.SetRetention(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.SessionsRemoved)
	assert.Equal(t, 3, f.settings.Current(context.Background()).PageViewStorageDays)
	assert.Zero(t, f.merger.calls, "merging only runs in the periodic pass")

	p, err := f.repo.Get(context.Background(), "https://a.com/x")
	require.NoError(t, err)
	assert.Len(t, p.Sessions, 1)
}

func TestMaintainer_CleanupRejectsBadHorizon(t *testing.T) {
	f := newMaintFixture(t)
	_, err := f.m.Cleanup(context.Background(), 0)
	assert.Error(t, err)
}

func TestMaintainer_VisitPruneFailureIsLogged(t *testing.T) {
	f := newMaintFixture(t)
	f.pruner.err = errors.New("disk full")

	rep, err := f.m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), rep.VisitsPruned)
}
