package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/dwell/internal/stats"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string              `json:"version"`
	DatabasePath      string              `json:"database_path"`
	DatabaseSizeBytes int64               `json:"database_size_bytes"`
	Pages             int                 `json:"pages"`
	TrackedSeconds    float64             `json:"tracked_seconds"`
	TotalVisits       int64               `json:"total_visits"`
	OldestSession     string              `json:"oldest_session,omitempty"`
	NewestSession     string              `json:"newest_session,omitempty"`
	RetentionDays     int                 `json:"retention_days"`
	CollectingData    bool                `json:"collecting_data"`
	TopDomains        []stats.DomainTotal `json:"top_domains"`
	DaemonRunning     bool                `json:"daemon_running"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	t, err := resolve(c.globals, c.app, c.daemon, true)
	if err != nil {
		return err
	}
	defer t.Close()
	return c.executeWith(t)
}

// executeWith gathers status from the local store. Injected apps (tests)
// skip daemon discovery unless a client was injected too.
func (c *StatusCommand) executeWith(t *target) error {
	ctx := context.Background()
	a := t.app

	dbStats, err := a.Store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	pages, err := a.Pages.Load(ctx)
	if err != nil {
		return fmt.Errorf("load page views: %w", err)
	}
	us := a.Settings.Current(ctx)
	sorted := pages.Sorted()

	out := statusJSON{
		Version:           c.version,
		DatabasePath:      a.DBPath,
		DatabaseSizeBytes: getDatabaseSize(a.DBPath, dbStats.DatabaseSizeBytes),
		Pages:             len(pages),
		TrackedSeconds:    stats.TotalDuration(sorted),
		TotalVisits:       dbStats.TotalVisits,
		RetentionDays:     us.PageViewStorageDays,
		CollectingData:    us.CollectData,
		TopDomains:        stats.TopDomains(sorted, 5),
		DaemonRunning:     t.daemon != nil && t.daemon.alive(ctx),
	}
	var oldest, newest int64
	for _, p := range sorted {
		if oldest == 0 || p.FirstVisited < oldest {
			oldest = p.FirstVisited
		}
		newest = max(newest, p.LastVisited)
	}
	if len(sorted) > 0 {
		out.OldestSession = time.UnixMilli(oldest).UTC().Format(time.RFC3339)
		out.NewestSession = time.UnixMilli(newest).UTC().Format(time.RFC3339)
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	c.printHuman(out, oldest, newest)
	return nil
}

func (c *StatusCommand) printHuman(out statusJSON, oldest, newest int64) {
	fmt.Println("dwell Status")
	fmt.Println("============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", out.DatabasePath, formatBytes(out.DatabaseSizeBytes))
	fmt.Printf("Pages:         %s\n", formatNumber(int64(out.Pages)))
	fmt.Printf("Tracked:       %s\n", formatSeconds(out.TrackedSeconds))
	fmt.Printf("Visits:        %s\n", formatNumber(out.TotalVisits))

	if out.Pages > 0 {
		fmt.Printf("Oldest:        %s\n", time.UnixMilli(oldest).Local().Format("2006-01-02"))
		fmt.Printf("Newest:        %s\n", time.UnixMilli(newest).Local().Format("2006-01-02"))
	}

	fmt.Printf("Retention:     %s\n", formatDurationHuman(time.Duration(out.RetentionDays)*24*time.Hour))
	if !out.CollectingData {
		fmt.Println("Collection:    paused")
	}

	if len(out.TopDomains) > 0 {
		fmt.Println()
		fmt.Println("Top Domains:")
		for _, d := range out.TopDomains {
			fmt.Printf("  %-24s %s\n", d.Domain, formatSeconds(d.Seconds))
		}
	}

	fmt.Println()
	if out.DaemonRunning {
		fmt.Println("Daemon:        running")
	} else {
		fmt.Println("Daemon:        not running")
	}
}

// getDatabaseSize returns the database file size in bytes, falling back
// to the size SQLite reports for in-memory or unavailable files.
func getDatabaseSize(dbPath string, reported int64) int64 {
	if dbPath != "" {
		if info, err := os.Stat(dbPath); err == nil {
			return info.Size()
		}
	}
	return reported
}
