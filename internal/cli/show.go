package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/urlnorm"
)

// Execute implements the go-flags Commander interface for ShowCommand.
func (c *ShowCommand) Execute(args []string) error {
	if c.URL == "" && len(args) > 0 {
		c.URL = args[0]
	}
	if c.URL == "" {
		return fmt.Errorf("--url is required for show command")
	}

	t, err := resolve(c.globals, c.app, nil, false)
	if err != nil {
		return err
	}
	defer t.Close()
	return c.executeWith(t)
}

func (c *ShowCommand) executeWith(t *target) error {
	ctx := context.Background()

	// Accept the raw URL as well as its normalized form.
	p, err := t.app.Pages.Get(ctx, urlnorm.Normalize(c.URL))
	if errors.Is(err, pageview.ErrNotFound) {
		p, err = t.app.Pages.Get(ctx, c.URL)
	}
	if errors.Is(err, pageview.ErrNotFound) {
		return fmt.Errorf("page not found: %s", c.URL)
	}
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		return c.outputJSON(p)
	}

	switch c.Format {
	case "json":
		return c.outputJSON(p)
	case "md":
		c.outputMarkdown(p)
	default: // "full"
		c.outputFull(p)
	}
	return nil
}

func stamp(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

func (c *ShowCommand) outputFull(p *pageview.PageView) {
	fmt.Println(p.NormalizedURL)
	fmt.Printf("Title:     %s\n", p.PageTitle)
	fmt.Printf("URL:       %s\n", p.URL)
	fmt.Printf("Domain:    %s\n", p.Hostname)
	fmt.Printf("First:     %s\n", stamp(p.FirstVisited))
	fmt.Printf("Last:      %s\n", stamp(p.LastVisited))
	fmt.Printf("Tracked:   %s\n", formatSeconds(p.TotalDuration))
	fmt.Println()
	fmt.Printf("--- Sessions (%d) ---\n", len(p.Sessions))
	for _, s := range p.Sessions {
		fmt.Printf("%s  %8s\n", stamp(s.StartTime), formatSeconds(s.Duration()))
	}
}

func (c *ShowCommand) outputMarkdown(p *pageview.PageView) {
	fmt.Println("---")
	fmt.Printf("url: %s\n", p.NormalizedURL)
	fmt.Printf("title: %s\n", p.PageTitle)
	fmt.Printf("domain: %s\n", p.Hostname)
	fmt.Printf("first_visited: %s\n", time.UnixMilli(p.FirstVisited).UTC().Format(time.RFC3339))
	fmt.Printf("last_visited: %s\n", time.UnixMilli(p.LastVisited).UTC().Format(time.RFC3339))
	fmt.Printf("total_seconds: %.1f\n", p.TotalDuration)
	fmt.Println("---")
	fmt.Println()
	fmt.Println("| Start | Duration |")
	fmt.Println("|---|---|")
	for _, s := range p.Sessions {
		fmt.Printf("| %s | %s |\n", stamp(s.StartTime), formatSeconds(s.Duration()))
	}
}

func (c *ShowCommand) outputJSON(p *pageview.PageView) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
