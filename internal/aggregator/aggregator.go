// Package aggregator folds session events into persisted PageViews.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/runnerr0/dwell/internal/channel"
	"github.com/runnerr0/dwell/internal/logging"
	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/storage"
	"github.com/runnerr0/dwell/internal/urlnorm"
)

// Tunables.
const (
	DefaultMergeGap       = 30 * time.Second
	DefaultDedupeInterval = 5 * time.Minute
	RefreshThreshold      = 500 * time.Millisecond
)

// SettingsSource returns the effective settings, falling back to defaults
// when none are stored.
type SettingsSource interface {
	Current(ctx context.Context) pageview.UserSettings
}

// VisitLog records page visits for history queries.
type VisitLog interface {
	RecordVisit(ctx context.Context, v *storage.VisitRecord, dedupe time.Duration) (bool, error)
}

// Auditor appends to the audit log.
type Auditor interface {
	Audit(ctx context.Context, action, subject, detail string) error
}

// Toucher is told the start time of every recorded session so cached
// roll-ups covering it can be recomputed.
type Toucher interface {
	Touch(startTime int64)
}

// Options configures an Aggregator. Nil collaborators are skipped.
type Options struct {
	Logger         *slog.Logger
	Normalizer     *urlnorm.Normalizer
	Visits         VisitLog
	Audit          Auditor
	Rollup         Toucher
	MergeGap       time.Duration
	DedupeInterval time.Duration
	Similar        SimilarOptions
	Now            func() time.Time
}

// Aggregator handles session events from page contexts.
type Aggregator struct {
	repo     *pageview.Repository
	store    pageview.Store
	active   *ActiveSessions
	settings SettingsSource
	norm     *urlnorm.Normalizer
	visits   VisitLog
	audit    Auditor
	rollup   Toucher
	logger   *slog.Logger
	gap      time.Duration
	dedupe   time.Duration
	similar  SimilarOptions
	now      func() time.Time

	// tabMu serializes reconciliation of the active map with page writes.
	tabMu sync.Mutex
}

var _ channel.Handler = (*Aggregator)(nil)

// New returns an Aggregator. store is the adapter the repository writes
// through; the merge log is kept there as well.
func New(store pageview.Store, repo *pageview.Repository, active *ActiveSessions, settings SettingsSource, opts Options) *Aggregator {
	if opts.Normalizer == nil {
		opts.Normalizer = urlnorm.New(urlnorm.Options{})
	}
	if opts.MergeGap <= 0 {
		opts.MergeGap = DefaultMergeGap
	}
	if opts.DedupeInterval <= 0 {
		opts.DedupeInterval = DefaultDedupeInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		repo:     repo,
		store:    store,
		active:   active,
		settings: settings,
		norm:     opts.Normalizer,
		visits:   opts.Visits,
		audit:    opts.Audit,
		rollup:   opts.Rollup,
		logger:   logging.OrDiscard(opts.Logger).With("component", "aggregator"),
		gap:      opts.MergeGap,
		dedupe:   opts.DedupeInterval,
		similar:  opts.Similar.withDefaults(),
		now:      opts.Now,
	}
}

// Active returns the active session map.
func (a *Aggregator) Active() *ActiveSessions { return a.active }

// Settings answers a page context's settings request.
func (a *Aggregator) Settings(ctx context.Context) (pageview.UserSettings, error) {
	return a.settings.Current(ctx), nil
}

type identity struct {
	url, norm, host string
}

func (a *Aggregator) identify(url, norm, host string) identity {
	if norm == "" {
		norm = a.norm.Normalize(url)
	}
	if host == "" {
		host = urlnorm.Hostname(url)
	}
	return identity{url: url, norm: norm, host: host}
}

// pending is an interval to merge into a page.
type pending struct {
	id       identity
	session  pageview.Session
	title    string
	favicon  string
	metaOnly bool
}

// HandleActivated records that tab started timing msg.URL, closing any
// interval still pending on the tab.
func (a *Aggregator) HandleActivated(ctx context.Context, tabID int, msg channel.Activated) error {
	if msg.URL == "" {
		return fmt.Errorf("%w: activated without url", pageview.ErrInvalidSession)
	}
	id := a.identify(msg.URL, msg.NormalizedURL, msg.Hostname)
	ts := msg.Timestamp
	if ts <= 0 {
		ts = a.now().UnixMilli()
	}

	s := a.settings.Current(ctx)
	if !s.CollectData || s.Excludes(id.host) {
		a.logger.Debug("activation ignored", "host", id.host)
		return nil
	}
	a.recordVisit(ctx, tabID, id, msg.PageTitle, ts)
	if !s.TrackPageViewDuration {
		return nil
	}

	a.tabMu.Lock()
	defer a.tabMu.Unlock()

	var work []pending
	prev, ok := a.active.Get(tabID)
	switch {
	case ok && ts < prev.StartTime:
		a.logger.Debug("stale activation", "tab", tabID, "ts", ts, "start", prev.StartTime)
		return nil
	case ok && !prev.Paused && prev.NormalizedURL != id.norm:
		work = append(work, pending{
			id:      a.identify(prev.URL, prev.NormalizedURL, ""),
			session: pageview.Session{StartTime: prev.StartTime, EndTime: ts},
			title:   prev.PageTitle,
			favicon: prev.FaviconURL,
		})
	case ok && !prev.Paused && ts-prev.StartTime <= RefreshThreshold.Milliseconds():
		// Same page, same session.
		a.active.Put(tabID, a.entryMeta(prev, msg))
		return a.apply(ctx, []pending{{id: id, title: msg.PageTitle, favicon: msg.FaviconURL, metaOnly: true}})
	case ok && !prev.Paused:
		// Refresh: close the old interval and open a fresh one.
		work = append(work, pending{
			id:      id,
			session: pageview.Session{StartTime: prev.StartTime, EndTime: ts},
			title:   prev.PageTitle,
			favicon: prev.FaviconURL,
		})
	}

	a.active.Put(tabID, pageview.ActiveEntry{
		URL:           id.url,
		NormalizedURL: id.norm,
		StartTime:     ts,
		PageTitle:     msg.PageTitle,
		FaviconURL:    msg.FaviconURL,
	})
	work = append(work, pending{id: id, title: msg.PageTitle, favicon: msg.FaviconURL, metaOnly: true})
	return a.apply(ctx, work)
}

func (a *Aggregator) entryMeta(e pageview.ActiveEntry, msg channel.Activated) pageview.ActiveEntry {
	if len(msg.PageTitle) > len(e.PageTitle) {
		e.PageTitle = msg.PageTitle
	}
	if e.FaviconURL == "" {
		e.FaviconURL = msg.FaviconURL
	}
	return e
}

// HandleSessionDelta merges a reported interval into its page.
func (a *Aggregator) HandleSessionDelta(ctx context.Context, tabID int, msg channel.SessionDelta) error {
	if msg.URL == "" {
		return fmt.Errorf("%w: delta without url", pageview.ErrInvalidSession)
	}
	if err := msg.SessionData.Validate(); err != nil {
		return err
	}
	id := a.identify(msg.URL, msg.NormalizedURL, "")

	a.tabMu.Lock()
	defer a.tabMu.Unlock()

	var title, favicon string
	// A delta ending before the entry started belongs to an earlier load
	// of the same URL and must not close the current one.
	if e, ok := a.active.Get(tabID); ok && e.NormalizedURL == id.norm {
		title, favicon = e.PageTitle, e.FaviconURL
		switch {
		case msg.Final && msg.SessionData.EndTime >= e.StartTime:
			a.active.Take(tabID)
		case msg.SessionData.EndTime > e.StartTime:
			e.StartTime = msg.SessionData.EndTime
			e.Paused = true
			a.active.Put(tabID, e)
		}
	}

	s := a.settings.Current(ctx)
	if !s.CollectData || !s.TrackPageViewDuration || s.Excludes(id.host) {
		return nil
	}
	if msg.SessionData.IsNoise() {
		return nil
	}
	return a.apply(ctx, []pending{{id: id, session: msg.SessionData, title: title, favicon: favicon}})
}

// HandleTabClosed flushes whatever is pending on the tab up to ts.
func (a *Aggregator) HandleTabClosed(ctx context.Context, tabID int, ts int64) error {
	if ts <= 0 {
		ts = a.now().UnixMilli()
	}

	a.tabMu.Lock()
	defer a.tabMu.Unlock()

	e, ok := a.active.Take(tabID)
	if !ok || e.Paused || ts < e.StartTime {
		return nil
	}
	s := pageview.Session{StartTime: e.StartTime, EndTime: ts}
	if s.IsNoise() {
		return nil
	}
	return a.apply(ctx, []pending{{
		id:      a.identify(e.URL, e.NormalizedURL, ""),
		session: s,
		title:   e.PageTitle,
		favicon: e.FaviconURL,
	}})
}

// apply writes work in one read-modify-write. Store failures are logged
// and the event dropped.
func (a *Aggregator) apply(ctx context.Context, work []pending) error {
	var touched []int64
	err := a.repo.Update(ctx, func(pages pageview.Pages) (bool, error) {
		changed := false
		for _, w := range work {
			p, exists := pages[w.id.norm]
			if w.metaOnly {
				if exists && p.UpdateMetadata(w.title, w.favicon) {
					changed = true
				}
				continue
			}
			if w.session.IsNoise() {
				continue
			}
			if !exists {
				p = pageview.New(w.id.url, w.id.norm, w.id.host)
				pages[w.id.norm] = p
			}
			p.AddSession(w.session, a.gap)
			p.UpdateMetadata(w.title, w.favicon)
			touched = append(touched, w.session.StartTime)
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		a.logger.Error("page view update dropped", "error", err)
		return nil
	}
	if a.rollup != nil {
		for _, ts := range touched {
			a.rollup.Touch(ts)
		}
	}
	return nil
}

func (a *Aggregator) recordVisit(ctx context.Context, tabID int, id identity, title string, ts int64) {
	if a.visits == nil {
		return
	}
	_, err := a.visits.RecordVisit(ctx, &storage.VisitRecord{
		Timestamp:     time.UnixMilli(ts),
		URL:           id.url,
		NormalizedURL: id.norm,
		Hostname:      id.host,
		Title:         title,
		TabID:         tabID,
	}, a.dedupe)
	if err != nil {
		a.logger.Warn("visit not recorded", "url", id.url, "error", err)
	}
}
