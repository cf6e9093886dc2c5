package pageview

import (
	"errors"
	"time"
)

// SchemaVersion is stamped on every persisted record.
const SchemaVersion = 1

// MinSessionMillis is the shortest interval kept; anything shorter is
// navigation noise.
const MinSessionMillis = 500

var (
	ErrNotFound       = errors.New("page view not found")
	ErrInvalidSession = errors.New("invalid session")
)

// Session is one contiguous interval of attention on a page. Times are
// Unix milliseconds, matching what the extension sends.
type Session struct {
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime"`
	Active    bool  `json:"active"`
}

// PageView aggregates every session recorded for one normalized URL.
type PageView struct {
	SchemaVersion int       `json:"schemaVersion"`
	URL           string    `json:"url"`
	NormalizedURL string    `json:"normalizedUrl"`
	Hostname      string    `json:"hostname"`
	PageTitle     string    `json:"pageTitle,omitempty"`
	FaviconURL    string    `json:"faviconUrl,omitempty"`
	Sessions      []Session `json:"sessions"`
	TotalDuration float64   `json:"totalDuration"`
	FirstVisited  int64     `json:"firstVisited"`
	LastVisited   int64     `json:"lastVisited"`
}

// Collection frequencies accepted in UserSettings.
const (
	FrequencyHourly = "hourly"
	FrequencyDaily  = "daily"
)

// Domain match modes for ExcludedDomains.
const (
	MatchSuffix    = "suffix"
	MatchSubstring = "substring"
)

// UserSettings is the process-wide tracking configuration shared with
// every page context.
type UserSettings struct {
	SchemaVersion              int      `json:"schemaVersion"`
	CollectData                bool     `json:"collectData"`
	TrackPageViewDuration      bool     `json:"trackPageViewDuration"`
	ExcludeIncognito           bool     `json:"excludeIncognito"`
	PauseOnInactivity          bool     `json:"pauseOnInactivity"`
	CollectionFrequency        string   `json:"collectionFrequency"`
	InactivityThresholdMinutes int      `json:"inactivityThresholdMinutes"`
	PageViewStorageDays        int      `json:"pageViewStorageDays"`
	ExcludedDomains            []string `json:"excludedDomains"`
	DomainMatch                string   `json:"domainMatch"`
}

// InactivityThreshold returns the configured inactivity timeout.
func (s UserSettings) InactivityThreshold() time.Duration {
	return time.Duration(s.InactivityThresholdMinutes) * time.Minute
}

// ActiveEntry is the in-memory record of a currently timed tab. StartTime
// is the start of the interval not yet reported by a delta.
type ActiveEntry struct {
	URL           string
	NormalizedURL string
	StartTime     int64
	PageTitle     string
	FaviconURL    string

	// Paused is set once a partial delta reported everything up to
	// StartTime. No time is pending until the next Activated.
	Paused bool
}

// Visit is one row of the history query: a URL with its visit count and
// most recent visit.
type Visit struct {
	URL           string    `json:"url"`
	Title         string    `json:"title,omitempty"`
	LastVisitTime time.Time `json:"lastVisitTime"`
	VisitCount    int       `json:"visitCount"`
}
