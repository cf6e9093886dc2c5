package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/stats"
)

var weekdays = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Execute implements the go-flags Commander interface for StatsCommand.
func (c *StatsCommand) Execute(args []string) error {
	t, err := resolve(c.globals, c.app, nil, false)
	if err != nil {
		return err
	}
	defer t.Close()
	return c.executeWith(t)
}

func (c *StatsCommand) executeWith(t *target) error {
	ctx := context.Background()
	loc := t.app.Location

	var ws *stats.WindowStats
	if c.Start != "" {
		start, err := parseDay(c.Start, loc)
		if err != nil {
			return err
		}
		end := pageview.StartOfDay(time.Now(), loc)
		if c.End != "" {
			if end, err = parseDay(c.End, loc); err != nil {
				return err
			}
		}
		if end.Before(start) {
			return fmt.Errorf("--end %s is before --start %s", c.End, c.Start)
		}
		if ws, err = t.app.Rollup.Range(ctx, start, end); err != nil {
			return err
		}
	} else {
		var err error
		if ws, err = t.app.Rollup.Window(ctx, c.Window); err != nil {
			return err
		}
	}

	if c.Top > 0 {
		ws.TopPages = ws.TopPages[:min(c.Top, len(ws.TopPages))]
		ws.TopDomains = ws.TopDomains[:min(c.Top, len(ws.TopDomains))]
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ws)
	}
	c.printHuman(ws)
	return nil
}

func (c *StatsCommand) printHuman(ws *stats.WindowStats) {
	title := fmt.Sprintf("Time tracked: %s", ws.Window)
	if ws.Window != stats.WindowDomain {
		title += fmt.Sprintf(" (%s to %s)", ws.Start.Format(time.DateOnly), ws.End.Format(time.DateOnly))
	}
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", len(title)))
	fmt.Printf("Total:         %s across %d pages\n", formatSeconds(ws.TotalDuration), ws.PageCount)

	if len(ws.TopDomains) > 0 {
		fmt.Println()
		fmt.Println("Top Domains:")
		for _, d := range ws.TopDomains {
			fmt.Printf("  %-32s %s\n", d.Domain, formatSeconds(d.Seconds))
		}
	}
	if len(ws.TopPages) > 0 {
		fmt.Println()
		fmt.Println("Top Pages:")
		for i, p := range ws.TopPages {
			label := p.PageTitle
			if label == "" {
				label = p.NormalizedURL
			}
			fmt.Printf("  %2d. %-48s %s\n", i+1, truncate(label, 48), formatSeconds(p.TotalDuration))
		}
	}
	if ws.TotalDuration == 0 {
		return
	}

	fmt.Println()
	fmt.Println("By Hour:")
	for h, sec := range ws.HourlyDistribution {
		if sec > 0 {
			fmt.Printf("  %02d:00  %-20s %s\n", h, bar(sec, ws.TotalDuration), formatSeconds(sec))
		}
	}
	fmt.Println()
	fmt.Println("By Weekday:")
	for d, sec := range ws.WeekdayDistribution {
		if sec > 0 {
			fmt.Printf("  %s    %-20s %s\n", weekdays[d], bar(sec, ws.TotalDuration), formatSeconds(sec))
		}
	}
}

func bar(part, total float64) string {
	return strings.Repeat("#", int(part/total*20+0.5))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
