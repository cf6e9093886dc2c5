package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/runnerr0/dwell/internal/logging"
	"github.com/runnerr0/dwell/internal/pageview"
)

// KeyPrefix prefixes every cached roll-up key.
const KeyPrefix = "stats:"

// Named windows. Week and month are the trailing 7 and 30 calendar days
// including today; domain covers everything retained.
const (
	WindowToday  = "today"
	WindowWeek   = "week"
	WindowMonth  = "month"
	WindowDomain = "domain"
)

// Windows lists the named windows refreshed by RefreshAll.
var Windows = []string{WindowToday, WindowWeek, WindowMonth, WindowDomain}

var ErrUnknownWindow = errors.New("unknown stats window")

const rangeLayout = "2006-01-02"

// WindowStats is the cached roll-up for one window.
type WindowStats struct {
	Window              string               `json:"window"`
	Start               time.Time            `json:"start"`
	End                 time.Time            `json:"end"`
	TotalDuration       float64              `json:"totalDuration"`
	PageCount           int                  `json:"pageCount"`
	TopPages            []*pageview.PageView `json:"topPages"`
	TopDomains          []DomainTotal        `json:"topDomains"`
	DomainDistribution  map[string]float64   `json:"domainDistribution"`
	HourlyDistribution  [24]float64          `json:"hourlyDistribution"`
	WeekdayDistribution [7]float64           `json:"weekdayDistribution"`
	ComputedAt          time.Time            `json:"computedAt"`
}

// Loader supplies the PageView snapshot.
type Loader interface {
	Load(ctx context.Context) (pageview.Pages, error)
}

// RollupOptions configures a Rollup.
type RollupOptions struct {
	Location *time.Location
	Now      func() time.Time
	TopN     int
	Logger   *slog.Logger
}

// Rollup computes window statistics and caches them in the store.
// Touch marks windows stale when a session inside them is recorded.
type Rollup struct {
	pages  Loader
	store  pageview.Store
	loc    *time.Location
	now    func() time.Time
	topN   int
	logger *slog.Logger

	mu     sync.Mutex
	dirty  map[string]bool
	ranges map[string][2]time.Time
}

// NewRollup returns a Rollup reading pages and caching into store.
func NewRollup(pages Loader, store pageview.Store, opts RollupOptions) *Rollup {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	return &Rollup{
		pages:  pages,
		store:  store,
		loc:    opts.Location,
		now:    opts.Now,
		topN:   opts.TopN,
		logger: logging.OrDiscard(opts.Logger).With("component", "rollup"),
		dirty:  make(map[string]bool),
		ranges: make(map[string][2]time.Time),
	}
}

// Bounds returns the first and last calendar day of a named window.
func (r *Rollup) Bounds(window string, now time.Time) (time.Time, time.Time, error) {
	day := pageview.StartOfDay(now, r.loc)
	switch window {
	case WindowToday:
		return day, day, nil
	case WindowWeek:
		return day.AddDate(0, 0, -6), day, nil
	case WindowMonth:
		return day.AddDate(0, 0, -29), day, nil
	case WindowDomain:
		return time.Time{}, day, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownWindow, window)
}

// Window returns the stats for a named window, from cache when fresh.
func (r *Rollup) Window(ctx context.Context, window string) (*WindowStats, error) {
	start, end, err := r.Bounds(window, r.now())
	if err != nil {
		return nil, err
	}
	return r.get(ctx, KeyPrefix+window, window, start, end)
}

// Range returns the stats for the calendar days [start, end].
func (r *Rollup) Range(ctx context.Context, start, end time.Time) (*WindowStats, error) {
	start = pageview.StartOfDay(start, r.loc)
	end = pageview.StartOfDay(end, r.loc)
	if end.Before(start) {
		return nil, fmt.Errorf("range end %s before start %s", end.Format(rangeLayout), start.Format(rangeLayout))
	}
	name := "range:" + start.Format(rangeLayout) + ":" + end.Format(rangeLayout)

	r.mu.Lock()
	r.ranges[KeyPrefix+name] = [2]time.Time{start, end}
	r.mu.Unlock()

	return r.get(ctx, KeyPrefix+name, name, start, end)
}

func (r *Rollup) get(ctx context.Context, key, window string, start, end time.Time) (*WindowStats, error) {
	r.mu.Lock()
	dirty := r.dirty[key]
	r.mu.Unlock()

	if !dirty {
		var cached WindowStats
		found, err := r.store.Get(ctx, key, &cached)
		if err != nil {
			r.logger.Warn("cached stats unreadable", "key", key, "error", err)
		} else if found && cached.Start.Equal(start) && cached.End.Equal(end) {
			return &cached, nil
		}
	}
	return r.refresh(ctx, key, window, start, end)
}

func (r *Rollup) refresh(ctx context.Context, key, window string, start, end time.Time) (*WindowStats, error) {
	// Cleared before reading so a Touch racing the computation survives.
	r.mu.Lock()
	delete(r.dirty, key)
	r.mu.Unlock()

	ws, err := r.compute(ctx, window, start, end)
	if err != nil {
		return nil, err
	}
	if err := r.store.Set(ctx, key, ws); err != nil {
		r.logger.Warn("stats not cached", "key", key, "error", err)
	}
	return ws, nil
}

func (r *Rollup) compute(ctx context.Context, window string, start, end time.Time) (*WindowStats, error) {
	pages, err := r.pages.Load(ctx)
	if err != nil {
		return nil, err
	}
	filtered := FilterByDateRange(pages.Sorted(), start, end, r.loc)
	return &WindowStats{
		Window:              window,
		Start:               start,
		End:                 end,
		TotalDuration:       TotalDuration(filtered),
		PageCount:           len(filtered),
		TopPages:            TopPages(filtered, r.topN),
		TopDomains:          TopDomains(filtered, r.topN),
		DomainDistribution:  DomainDistribution(filtered),
		HourlyDistribution:  HourlyDistribution(filtered, r.loc),
		WeekdayDistribution: WeekdayDistribution(filtered, r.loc),
		ComputedAt:          r.now(),
	}, nil
}

// Touch marks every cached window containing startTime as stale.
func (r *Rollup) Touch(startTime int64) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range Windows {
		start, end, _ := r.Bounds(w, now)
		if r.covers(start, end, startTime) {
			r.dirty[KeyPrefix+w] = true
		}
	}
	for key, b := range r.ranges {
		if r.covers(b[0], b[1], startTime) {
			r.dirty[key] = true
		}
	}
}

func (r *Rollup) covers(start, end time.Time, ts int64) bool {
	lo := start.UnixMilli()
	if start.IsZero() {
		lo = 0
	}
	return ts >= lo && ts < end.AddDate(0, 0, 1).UnixMilli()
}

// Dirty reports whether a key awaits recomputation.
func (r *Rollup) Dirty(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty[key]
}

// RefreshAll recomputes every named window.
func (r *Rollup) RefreshAll(ctx context.Context) error {
	now := r.now()
	for _, w := range Windows {
		start, end, _ := r.Bounds(w, now)
		if _, err := r.refresh(ctx, KeyPrefix+w, w, start, end); err != nil {
			return fmt.Errorf("refresh %s: %w", w, err)
		}
	}
	r.logger.Debug("stats refreshed")
	return nil
}

// TimeTracking returns today's summary.
func (r *Rollup) TimeTracking(ctx context.Context) (TimeTrackingStats, error) {
	pages, err := r.pages.Load(ctx)
	if err != nil {
		return TimeTrackingStats{}, err
	}
	return ComputeTimeTrackingStats(pages.Sorted(), r.now(), r.loc, r.topN), nil
}
