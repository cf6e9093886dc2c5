// Package settings owns the persisted UserSettings: defaulting,
// validation, storage and change broadcast.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/logging"
	"github.com/runnerr0/dwell/internal/pageview"
)

// KeySettings is the store key holding UserSettings.
const KeySettings = "settings"

// Bounds accepted by Validate.
const (
	MinInactivityMinutes = 1
	MaxInactivityMinutes = 15
	MaxStorageDays       = 3650
)

var ErrInvalidSettings = errors.New("invalid settings")

// Defaults builds the settings used before any are saved.
func Defaults(cfg *config.Config) pageview.UserSettings {
	t := cfg.Tracking
	return pageview.UserSettings{
		SchemaVersion:              pageview.SchemaVersion,
		CollectData:                t.CollectData,
		TrackPageViewDuration:      t.TrackPageViewDuration,
		ExcludeIncognito:           t.ExcludeIncognito,
		PauseOnInactivity:          t.PauseOnInactivity,
		CollectionFrequency:        t.CollectionFrequency,
		InactivityThresholdMinutes: t.InactivityThresholdMinutes,
		PageViewStorageDays:        cfg.Retention.Days,
		ExcludedDomains:            normalizeDomains(t.ExcludedDomains),
		DomainMatch:                t.DomainMatch,
	}
}

// Validate checks s and cleans its domain list in place.
func Validate(s *pageview.UserSettings) error {
	switch s.CollectionFrequency {
	case pageview.FrequencyHourly, pageview.FrequencyDaily:
	default:
		return fmt.Errorf("%w: collectionFrequency must be %q or %q, got %q",
			ErrInvalidSettings, pageview.FrequencyHourly, pageview.FrequencyDaily, s.CollectionFrequency)
	}
	if s.InactivityThresholdMinutes < MinInactivityMinutes || s.InactivityThresholdMinutes > MaxInactivityMinutes {
		return fmt.Errorf("%w: inactivityThresholdMinutes must be between %d and %d, got %d",
			ErrInvalidSettings, MinInactivityMinutes, MaxInactivityMinutes, s.InactivityThresholdMinutes)
	}
	if s.PageViewStorageDays < 1 || s.PageViewStorageDays > MaxStorageDays {
		return fmt.Errorf("%w: pageViewStorageDays must be between 1 and %d, got %d",
			ErrInvalidSettings, MaxStorageDays, s.PageViewStorageDays)
	}
	switch s.DomainMatch {
	case "":
		s.DomainMatch = pageview.MatchSuffix
	case pageview.MatchSuffix, pageview.MatchSubstring:
	default:
		return fmt.Errorf("%w: domainMatch must be %q or %q, got %q",
			ErrInvalidSettings, pageview.MatchSuffix, pageview.MatchSubstring, s.DomainMatch)
	}
	s.ExcludedDomains = normalizeDomains(s.ExcludedDomains)
	s.SchemaVersion = pageview.SchemaVersion
	return nil
}

// normalizeDomains lowercases, trims and dedupes, keeping only hosts.
func normalizeDomains(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		if i := strings.Index(d, "://"); i >= 0 {
			d = d[i+3:]
		}
		d = strings.TrimPrefix(d, "www.")
		if i := strings.IndexByte(d, '/'); i >= 0 {
			d = d[:i]
		}
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Options configures a Service.
type Options struct {
	Logger *slog.Logger

	// OnExclude is called for each domain newly added to the exclusion
	// list so its recorded data can be removed.
	OnExclude func(ctx context.Context, domain string) error
}

// Service loads and saves UserSettings and broadcasts changes.
type Service struct {
	store     pageview.Store
	defaults  pageview.UserSettings
	logger    *slog.Logger
	onExclude func(ctx context.Context, domain string) error
	hub       *Hub

	mu sync.Mutex
}

// NewService returns a Service over store.
func NewService(store pageview.Store, defaults pageview.UserSettings, opts Options) *Service {
	return &Service{
		store:     store,
		defaults:  defaults,
		logger:    logging.OrDiscard(opts.Logger).With("component", "settings"),
		onExclude: opts.OnExclude,
		hub:       NewHub(),
	}
}

// Hub returns the change broadcaster.
func (s *Service) Hub() *Hub { return s.hub }

// Load returns the stored settings, or the defaults when none are stored.
func (s *Service) Load(ctx context.Context) (pageview.UserSettings, error) {
	var us pageview.UserSettings
	found, err := s.store.Get(ctx, KeySettings, &us)
	if err != nil {
		return s.defaults, fmt.Errorf("load settings: %w", err)
	}
	if !found {
		return s.defaults, nil
	}
	if us.SchemaVersion > pageview.SchemaVersion {
		return s.defaults, fmt.Errorf("load settings: schema version %d is newer than supported %d", us.SchemaVersion, pageview.SchemaVersion)
	}
	if err := Validate(&us); err != nil {
		return s.defaults, err
	}
	return us, nil
}

// Current is Load with failures logged and replaced by the defaults.
func (s *Service) Current(ctx context.Context) pageview.UserSettings {
	us, err := s.Load(ctx)
	if err != nil {
		s.logger.Warn("settings unavailable, using defaults", "error", err)
	}
	return us
}

// Save validates and persists us, removes data for newly excluded
// domains and notifies subscribers.
func (s *Service) Save(ctx context.Context, us pageview.UserSettings) (pageview.UserSettings, error) {
	if err := Validate(&us); err != nil {
		return pageview.UserSettings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.Current(ctx)
	if err := s.store.SetNow(ctx, KeySettings, us); err != nil {
		return pageview.UserSettings{}, fmt.Errorf("save settings: %w", err)
	}
	s.logger.Info("settings saved", "excluded_domains", len(us.ExcludedDomains), "storage_days", us.PageViewStorageDays)

	if s.onExclude != nil {
		for _, d := range added(prev.ExcludedDomains, us.ExcludedDomains) {
			if err := s.onExclude(ctx, d); err != nil {
				return us, fmt.Errorf("remove data for %s: %w", d, err)
			}
		}
	}
	s.hub.Broadcast(us)
	return us, nil
}

// Update applies fn to the current settings and saves the result.
func (s *Service) Update(ctx context.Context, fn func(*pageview.UserSettings)) (pageview.UserSettings, error) {
	us, err := s.Load(ctx)
	if err != nil {
		return pageview.UserSettings{}, err
	}
	us.ExcludedDomains = append([]string(nil), us.ExcludedDomains...)
	fn(&us)
	return s.Save(ctx, us)
}

func added(before, after []string) []string {
	had := make(map[string]bool, len(before))
	for _, d := range before {
		had[d] = true
	}
	var out []string
	for _, d := range after {
		if !had[d] {
			out = append(out, d)
		}
	}
	return out
}
