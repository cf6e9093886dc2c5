package cli

import (
	"github.com/runnerr0/dwell/internal/app"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand is the "status" subcommand: show daemon health, tracked totals, database stats.
type StatusCommand struct {
	globals *GlobalFlags
	version string
	app     *app.App      // injectable for testing; nil opens the configured database
	daemon  *daemonClient // injectable for testing; nil dials the configured address
}

// SearchCommand is the "search" subcommand: keyword search over the visit log.
type SearchCommand struct {
	Since  string   `long:"since" description:"Only visits newer than duration (e.g., 7d, 24h, 2w)" default:"30d"`
	Until  string   `long:"until" description:"Only visits older than duration"`
	Domain []string `long:"domain" description:"Filter by domain (repeatable)"`
	Limit  int      `long:"limit" description:"Maximum results" default:"10"`
	Offset int      `long:"offset" description:"Skip first N results" default:"0"`

	globals *GlobalFlags
	version string
	app     *app.App
}

// ShowCommand is the "show" subcommand: print one page view with its sessions.
type ShowCommand struct {
	URL    string `long:"url" description:"Page URL (required)"`
	Format string `long:"format" description:"Output format: full | md | json" default:"full"`

	globals *GlobalFlags
	version string
	app     *app.App
}

// StatsCommand is the "stats" subcommand: time-tracking roll-ups for a window or date range.
type StatsCommand struct {
	Window string `long:"window" description:"today | week | month | domain" default:"today"`
	Start  string `long:"start" description:"First day (YYYY-MM-DD); overrides --window"`
	End    string `long:"end" description:"Last day (YYYY-MM-DD), default today"`
	Top    int    `long:"top" description:"Rows per ranking" default:"10"`

	globals *GlobalFlags
	version string
	app     *app.App
}

// ExportCommand is the "export" subcommand: write page views as JSON or CSV.
type ExportCommand struct {
	Format string `long:"format" description:"json | csv" default:"json"`
	Start  string `long:"start" description:"First day (YYYY-MM-DD)"`
	End    string `long:"end" description:"Last day (YYYY-MM-DD)"`
	Domain string `long:"domain" description:"Only pages on this domain"`
	Output string `long:"output" short:"o" description:"Output file (default stdout)"`

	globals *GlobalFlags
	version string
	app     *app.App
}

// DeleteCommand is the "delete" subcommand: remove tracked data by page, domain, day or all of it.
type DeleteCommand struct {
	URL    string `long:"url" description:"Delete one page"`
	Domain string `long:"domain" description:"Delete a domain and its subdomains"`
	Date   string `long:"date" description:"Delete sessions on a day (YYYY-MM-DD)"`
	All    bool   `long:"all" description:"Delete all page views and visits (settings are kept)"`
	Force  bool   `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	app     *app.App
	daemon  *daemonClient
}

// IngestCommand is the "ingest" subcommand: run the daemon (local HTTP service) in the foreground.
type IngestCommand struct {
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}

// PruneCommand is the "prune" subcommand: apply retention, compaction and similar-URL merging now.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
	app     *app.App
	daemon  *daemonClient
}

// PurgeCommand is the "purge" subcommand: delete ALL dwell data including settings.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	app     *app.App
	daemon  *daemonClient
}

// SettingsCommand is the "settings" subcommand: show or change tracking settings.
type SettingsCommand struct {
	Retention   int      `long:"retention" description:"Keep page views for N days"`
	Exclude     []string `long:"exclude" description:"Stop tracking a domain and delete its data (repeatable)"`
	Include     []string `long:"include" description:"Resume tracking a domain (repeatable)"`
	DomainMatch string   `long:"domain-match" description:"Exclusion matching: suffix | substring"`
	Pause       bool     `long:"pause" description:"Stop collecting data"`
	Resume      bool     `long:"resume" description:"Resume collecting data"`

	globals *GlobalFlags
	version string
	app     *app.App
	daemon  *daemonClient
}

// MergesCommand is the "merges" subcommand: list similar-URL merges or undo one.
type MergesCommand struct {
	Undo string `long:"undo" description:"Merge ID to undo"`

	globals *GlobalFlags
	version string
	app     *app.App
	daemon  *daemonClient
}
