package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/runnerr0/dwell/internal/aggregator"
	"github.com/runnerr0/dwell/internal/logging"
	"github.com/runnerr0/dwell/internal/pageview"
)

// KeyLastRun stores when maintenance last completed, in Unix ms.
const KeyLastRun = "maintenance:lastRun"

// Defaults for MaintainerOptions.
const (
	DefaultInterval     = 24 * time.Hour
	DefaultCompactAfter = 7 * 24 * time.Hour
)

// SettingsStore reads and updates UserSettings.
type SettingsStore interface {
	Current(ctx context.Context) pageview.UserSettings
	Update(ctx context.Context, fn func(*pageview.UserSettings)) (pageview.UserSettings, error)
}

// VisitPruner trims the visit log.
type VisitPruner interface {
	PruneVisits(ctx context.Context, cutoff time.Time) (int64, error)
}

// SimilarMerger consolidates near-duplicate pages.
type SimilarMerger interface {
	FindAndMergeSimilarURLs(ctx context.Context) ([]aggregator.MergeRecord, error)
}

// MaintainerOptions configures a Maintainer. Nil collaborators are
// skipped.
type MaintainerOptions struct {
	Visits       VisitPruner
	Merger       SimilarMerger
	Interval     time.Duration
	CompactAfter time.Duration
	CompactMode  string
	Location     *time.Location
	Now          func() time.Time
	Logger       *slog.Logger
}

// Report summarizes one maintenance pass.
type Report struct {
	SessionsRemoved   int   `json:"sessionsRemoved"`
	PagesRemoved      int   `json:"pagesRemoved"`
	SessionsCompacted int   `json:"sessionsCompacted"`
	VisitsPruned      int64 `json:"visitsPruned"`
	Merges            int   `json:"merges"`
}

// Maintainer runs retention cleanup, compaction and similar-URL
// consolidation at most once per interval.
type Maintainer struct {
	repo     *pageview.Repository
	store    pageview.Store
	settings SettingsStore
	opts     MaintainerOptions
	logger   *slog.Logger
}

// NewMaintainer returns a Maintainer.
func NewMaintainer(repo *pageview.Repository, store pageview.Store, settings SettingsStore, opts MaintainerOptions) *Maintainer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CompactAfter <= 0 {
		opts.CompactAfter = DefaultCompactAfter
	}
	if opts.CompactMode == "" {
		opts.CompactMode = CompactDuration
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Maintainer{
		repo:     repo,
		store:    store,
		settings: settings,
		opts:     opts,
		logger:   logging.OrDiscard(opts.Logger).With("component", "retention"),
	}
}

// LastRun returns when maintenance last completed, or the zero time.
func (m *Maintainer) LastRun(ctx context.Context) (time.Time, error) {
	var ms int64
	found, err := m.store.Get(ctx, KeyLastRun, &ms)
	if err != nil {
		return time.Time{}, fmt.Errorf("load last run: %w", err)
	}
	if !found {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

// RunIfDue runs a pass unless one completed within the interval.
func (m *Maintainer) RunIfDue(ctx context.Context) (*Report, error) {
	last, err := m.LastRun(ctx)
	if err != nil {
		return nil, err
	}
	now := m.opts.Now()
	if !last.IsZero() && now.Sub(last) < m.opts.Interval {
		return nil, nil
	}
	return m.Run(ctx)
}

// Run performs a pass unconditionally and records its completion time.
func (m *Maintainer) Run(ctx context.Context) (*Report, error) {
	now := m.opts.Now()
	rep, err := m.cleanup(ctx, m.settings.Current(ctx).PageViewStorageDays, true)
	if err != nil {
		return nil, err
	}

	if m.opts.Merger != nil {
		merges, err := m.opts.Merger.FindAndMergeSimilarURLs(ctx)
		if err != nil {
			m.logger.Warn("similar url pass failed", "error", err)
		}
		rep.Merges = len(merges)
	}

	if err := m.store.SetNow(ctx, KeyLastRun, now.UnixMilli()); err != nil {
		return rep, fmt.Errorf("save last run: %w", err)
	}
	m.logger.Info("maintenance complete",
		"sessions_removed", rep.SessionsRemoved,
		"pages_removed", rep.PagesRemoved,
		"sessions_compacted", rep.SessionsCompacted,
		"visits_pruned", rep.VisitsPruned,
		"merges", rep.Merges)
	return rep, nil
}

// SetRetention saves a new horizon and applies it immediately.
func (m *Maintainer) SetRetention(ctx context.Context, days int) (*Report, error) {
	us, err := m.settings.Update(ctx, func(s *pageview.UserSettings) {
		s.PageViewStorageDays = days
	})
	if err != nil {
		return nil, err
	}
	return m.cleanup(ctx, us.PageViewStorageDays, false)
}

// Cleanup applies a retention horizon of days now.
func (m *Maintainer) Cleanup(ctx context.Context, days int) (*Report, error) {
	return m.cleanup(ctx, days, false)
}

func (m *Maintainer) cleanup(ctx context.Context, days int, compact bool) (*Report, error) {
	if days < 1 {
		return nil, fmt.Errorf("retention must be at least 1 day, got %d", days)
	}
	now := m.opts.Now()
	cutoff := now.AddDate(0, 0, -days)
	rep := &Report{}

	err := m.repo.UpdateNow(ctx, func(pages pageview.Pages) (bool, error) {
		rep.SessionsRemoved, rep.PagesRemoved = Cleanup(pages, cutoff)
		if compact {
			olderThan := pageview.StartOfDay(now.Add(-m.opts.CompactAfter), m.opts.Location)
			rep.SessionsCompacted = Compact(pages, olderThan, m.opts.Location, m.opts.CompactMode)
		}
		return rep.SessionsRemoved+rep.PagesRemoved+rep.SessionsCompacted > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}

	if m.opts.Visits != nil {
		n, err := m.opts.Visits.PruneVisits(ctx, cutoff)
		if err != nil {
			m.logger.Warn("visit prune failed", "error", err)
		}
		rep.VisitsPruned = n
	}
	return rep, nil
}
