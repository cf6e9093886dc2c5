package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/runnerr0/dwell/internal/export"
	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/stats"
)

// Execute implements the go-flags Commander interface for ExportCommand.
func (c *ExportCommand) Execute(args []string) error {
	format, err := export.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	t, err := resolve(c.globals, c.app, nil, false)
	if err != nil {
		return err
	}
	defer t.Close()

	var w io.Writer = os.Stdout
	if c.Output != "" && c.Output != "-" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	return c.executeWith(t, format, w)
}

func (c *ExportCommand) executeWith(t *target, format export.Format, w io.Writer) error {
	loc := t.app.Location
	start, err := parseDay(c.Start, loc)
	if err != nil {
		return err
	}
	end, err := parseDay(c.End, loc)
	if err != nil {
		return err
	}

	pages, err := t.app.Pages.Load(context.Background())
	if err != nil {
		return fmt.Errorf("load page views: %w", err)
	}
	out := pages.Sorted()
	if !start.IsZero() || !end.IsZero() {
		if end.IsZero() {
			end = pageview.StartOfDay(time.Now(), loc)
		}
		out = stats.FilterByDateRange(out, start, end, loc)
	}
	if c.Domain != "" {
		out = stats.FilterByDomain(out, c.Domain)
	}
	return export.Write(w, format, out, time.Now())
}
