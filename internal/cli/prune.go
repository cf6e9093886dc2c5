package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/runnerr0/dwell/internal/retention"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	t, err := resolve(c.globals, c.app, c.daemon, !c.DryRun)
	if err != nil {
		return err
	}
	defer t.Close()
	return c.executeWith(t)
}

func (c *PruneCommand) executeWith(t *target) error {
	ctx := context.Background()

	days := 0
	if c.OlderThan != "" {
		d, err := parseDuration(c.OlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than value %q: %w", c.OlderThan, err)
		}
		days = int(d / (24 * time.Hour))
		if days < 1 {
			return fmt.Errorf("--older-than must be at least 1d")
		}
	}
	if days == 0 {
		days = t.app.Settings.Current(ctx).PageViewStorageDays
	}

	if c.DryRun {
		return c.dryRun(ctx, t, days)
	}

	var rep retention.Report
	var err error
	switch {
	case t.daemon != nil && c.OlderThan != "":
		err = t.daemon.do(ctx, "POST", "/v1/maintenance?days="+strconv.Itoa(days), nil, &rep)
	case t.daemon != nil:
		err = t.daemon.do(ctx, "POST", "/v1/maintenance", nil, &rep)
	case c.OlderThan != "":
		var r *retention.Report
		if r, err = t.app.Maintainer.Cleanup(ctx, days); r != nil {
			rep = *r
		}
	default:
		var r *retention.Report
		if r, err = t.app.Maintainer.Run(ctx); r != nil {
			rep = *r
		}
	}
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Printf("Pruned data older than %s.\n", formatDurationHuman(time.Duration(days)*24*time.Hour))
	fmt.Printf("  Sessions removed:    %d\n", rep.SessionsRemoved)
	fmt.Printf("  Pages removed:       %d\n", rep.PagesRemoved)
	fmt.Printf("  Sessions compacted:  %d\n", rep.SessionsCompacted)
	fmt.Printf("  Visits pruned:       %d\n", rep.VisitsPruned)
	fmt.Printf("  Pages merged:        %d\n", rep.Merges)
	return nil
}

// dryRun applies the cleanup to a loaded copy that is never saved.
func (c *PruneCommand) dryRun(ctx context.Context, t *target, days int) error {
	pages, err := t.app.Pages.Load(ctx)
	if err != nil {
		return fmt.Errorf("load page views: %w", err)
	}
	sessions, removed := retention.Cleanup(pages, time.Now().AddDate(0, 0, -days))

	if c.globals != nil && c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"dry_run":          true,
			"retention_days":   days,
			"sessions_removed": sessions,
			"pages_removed":    removed,
		})
	}
	fmt.Printf("Dry run: would remove %d sessions and %d pages older than %s.\n",
		sessions, removed, formatDurationHuman(time.Duration(days)*24*time.Hour))
	return nil
}
