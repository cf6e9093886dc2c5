// Package app assembles the storage, aggregation and maintenance
// components from a Config. The daemon and the CLI share it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/runnerr0/dwell/internal/aggregator"
	"github.com/runnerr0/dwell/internal/channel"
	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/logging"
	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/retention"
	"github.com/runnerr0/dwell/internal/settings"
	"github.com/runnerr0/dwell/internal/stats"
	"github.com/runnerr0/dwell/internal/storage"
	"github.com/runnerr0/dwell/internal/urlnorm"
)

// Audit actions recorded for user deletions.
const (
	ActionDeletePage   = "delete_page"
	ActionDeleteDomain = "delete_domain"
	ActionDeleteDate   = "delete_date"
	ActionDeleteAll    = "delete_all"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	DBPath     string
	DB         *sql.DB
	Store      *storage.SQLiteStore
	Adapter    *storage.Adapter
	Pages      *pageview.Repository
	Settings   *settings.Service
	Rollup     *stats.Rollup
	Aggregator *aggregator.Aggregator
	Maintainer *retention.Maintainer
	Router     *channel.Router
	Location   *time.Location
	Logger     *slog.Logger
}

// Open opens the SQLite database named by cfg, applies migrations and
// wires the components over it.
func Open(cfg *config.Config, logger *slog.Logger) (*App, error) {
	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	runner := storage.NewMigrationRunner(db).WithJournalMode(cfg.Storage.SQLiteJournalMode)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	a, err := New(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.DBPath = dbPath
	return a, nil
}

// New wires the components over an already migrated database.
func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*App, error) {
	logger = logging.OrDiscard(logger)
	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	a := &App{
		Config:   cfg,
		DB:       db,
		Store:    store,
		Location: time.Local,
		Logger:   logger,
	}

	a.Adapter = storage.NewAdapter(store, storage.AdapterOptions{
		CacheTTL:    time.Duration(cfg.Storage.CacheTTLSeconds) * time.Second,
		BatchWindow: time.Duration(cfg.Storage.WriteBatchMillis) * time.Millisecond,
		Logger:      logger,
		Dependents:  map[string][]string{pageview.KeyPageViews: {stats.KeyPrefix}},
	})
	a.Pages = pageview.NewRepository(a.Adapter)

	a.Settings = settings.NewService(a.Adapter, settings.Defaults(cfg), settings.Options{
		Logger:    logger,
		OnExclude: a.purgeExcluded,
	})

	a.Rollup = stats.NewRollup(a.Pages, a.Adapter, stats.RollupOptions{
		Location: a.Location,
		Logger:   logger,
	})

	a.Aggregator = aggregator.New(a.Adapter, a.Pages, aggregator.NewActiveSessions(), a.Settings, aggregator.Options{
		Logger:         logger,
		Normalizer:     urlnorm.New(urlnorm.Options{}),
		Visits:         store,
		Audit:          store,
		Rollup:         a.Rollup,
		DedupeInterval: time.Duration(cfg.Tracking.DedupeIntervalSeconds) * time.Second,
		Similar:        aggregator.SimilarOptions{Threshold: cfg.Tracking.SimilarityThreshold},
	})

	a.Maintainer = retention.NewMaintainer(a.Pages, a.Adapter, a.Settings, retention.MaintainerOptions{
		Visits:       store,
		Merger:       a.Aggregator,
		Interval:     time.Duration(cfg.Retention.PruneIntervalHours) * time.Hour,
		CompactAfter: time.Duration(cfg.Retention.CompactAfterDays) * 24 * time.Hour,
		CompactMode:  cfg.Retention.CompactMode,
		Location:     a.Location,
		Logger:       logger,
	})

	a.Router = channel.NewRouter(a.Aggregator, logger)
	return a, nil
}

// Close drains pending writes and releases the database.
func (a *App) Close(ctx context.Context) error {
	err := a.Adapter.Close(ctx)
	if cerr := a.Store.Close(); err == nil {
		err = cerr
	}
	if cerr := a.DB.Close(); err == nil {
		err = cerr
	}
	return err
}

// DeletePage removes one page and its visit log rows.
func (a *App) DeletePage(ctx context.Context, normalizedURL string) error {
	if err := a.Pages.DeletePage(ctx, normalizedURL); err != nil {
		return err
	}
	if _, err := a.Store.DeleteVisitsForURL(ctx, normalizedURL); err != nil {
		return fmt.Errorf("delete visits: %w", err)
	}
	a.audit(ctx, ActionDeletePage, normalizedURL, "")
	return nil
}

// DeleteDomain removes every page on domain or its subdomains.
func (a *App) DeleteDomain(ctx context.Context, domain string) (int, error) {
	n, err := a.Pages.DeleteDomain(ctx, domain)
	if err != nil {
		return 0, err
	}
	if _, err := a.Store.DeleteVisitsForHost(ctx, domain); err != nil {
		return n, fmt.Errorf("delete visits: %w", err)
	}
	a.audit(ctx, ActionDeleteDomain, domain, fmt.Sprintf("%d pages", n))
	return n, nil
}

// DeleteDate removes sessions starting on the calendar day of day.
func (a *App) DeleteDate(ctx context.Context, day time.Time) (int, error) {
	n, err := a.Pages.DeleteDate(ctx, day, a.Location)
	if err != nil {
		return 0, err
	}
	start := pageview.StartOfDay(day, a.Location)
	if _, err := a.Store.DeleteVisitsBetween(ctx, start, start.AddDate(0, 0, 1)); err != nil {
		return n, fmt.Errorf("delete visits: %w", err)
	}
	a.audit(ctx, ActionDeleteDate, start.Format(time.DateOnly), fmt.Sprintf("%d sessions", n))
	return n, nil
}

// DeleteAll removes all recorded page views, roll-ups, merge records and
// visits. Settings are kept.
func (a *App) DeleteAll(ctx context.Context) error {
	if err := a.Pages.Clear(ctx); err != nil {
		return err
	}
	if err := a.Adapter.Remove(ctx, aggregator.KeyMergeLog); err != nil {
		return fmt.Errorf("remove merge log: %w", err)
	}
	if _, err := a.Store.DeleteVisitsBetween(ctx, time.UnixMilli(0), time.UnixMilli(math.MaxInt64)); err != nil {
		return fmt.Errorf("delete visits: %w", err)
	}
	a.audit(ctx, ActionDeleteAll, "", "")
	return nil
}

// Purge deletes every stored value including settings.
func (a *App) Purge(ctx context.Context) error {
	if err := a.Adapter.Flush(ctx); err != nil {
		a.Logger.Warn("flush before purge failed", "error", err)
	}
	if err := a.Store.PurgeAll(ctx); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	a.audit(ctx, ActionDeleteAll, "purge", "")
	return nil
}

func (a *App) purgeExcluded(ctx context.Context, domain string) error {
	_, err := a.DeleteDomain(ctx, domain)
	return err
}

func (a *App) audit(ctx context.Context, action, subject, detail string) {
	if err := a.Store.Audit(ctx, action, subject, detail); err != nil {
		a.Logger.Warn("audit failed", "action", action, "error", err)
	}
}
