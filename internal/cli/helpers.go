package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/dwell/internal/app"
	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/logging"
)

// loadConfig resolves the config file: --config if given, otherwise the
// default path, created with defaults on first use.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.Load(globals.Config)
	}
	return config.LoadOrCreate()
}

// cliLogger discards logs unless --verbose, in which case debug-level
// JSON goes to the configured destination.
func cliLogger(globals *GlobalFlags, cfg *config.Config) (*slog.Logger, io.Closer) {
	if globals == nil || !globals.Verbose {
		return logging.Discard(), nopCloser{}
	}
	lc := cfg.Logging
	lc.Level = "debug"
	logger, closer, err := logging.New(lc)
	if err != nil {
		return logging.Discard(), nopCloser{}
	}
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// target is what a command runs against: the local database, and the
// daemon when one is listening.
type target struct {
	cfg    *config.Config
	app    *app.App
	daemon *daemonClient
	close  func()
}

// Close releases whatever resolve opened.
func (t *target) Close() {
	if t.close != nil {
		t.close()
	}
}

// resolve returns the injected app (tests) or opens the configured one.
// When discover is set and nothing was injected, a running daemon is
// detected so mutations can go through it.
func resolve(globals *GlobalFlags, injected *app.App, daemon *daemonClient, discover bool) (*target, error) {
	if injected != nil {
		return &target{cfg: injected.Config, app: injected, daemon: daemon}, nil
	}

	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, err
	}
	t := &target{cfg: cfg, daemon: daemon}
	if discover && t.daemon == nil {
		if d := newDaemonClient(cfg.ListenAddr()); d.alive(context.Background()) {
			t.daemon = d
		}
	}

	logger, logCloser := cliLogger(globals, cfg)
	a, err := app.Open(cfg, logger)
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	t.app = a
	t.close = func() {
		_ = a.Close(context.Background())
		logCloser.Close()
	}
	return t, nil
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// parseDay parses a YYYY-MM-DD calendar day in loc. Empty returns the zero time.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t, nil
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// formatSeconds renders tracked time as "2h 05m", "4m 10s" or "12s".
func formatSeconds(sec float64) string {
	d := time.Duration(sec * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
