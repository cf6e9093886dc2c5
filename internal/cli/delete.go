package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Execute implements the go-flags Commander interface for DeleteCommand.
func (c *DeleteCommand) Execute(args []string) error {
	n := 0
	for _, set := range []bool{c.URL != "", c.Domain != "", c.Date != "", c.All} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("delete requires exactly one of --url, --domain, --date or --all")
	}

	if c.All && !c.Force {
		fmt.Println("⚠ WARNING: This will permanently delete all tracked page views and visits.")
		fmt.Println("Settings are kept. This action cannot be undone.")
		fmt.Println()
		fmt.Print(`Type "DELETE" to confirm: `)

		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return fmt.Errorf("aborted: no input received")
		}
		if strings.TrimSpace(scanner.Text()) != "DELETE" {
			return fmt.Errorf("aborted: confirmation text did not match")
		}
	}

	t, err := resolve(c.globals, c.app, c.daemon, true)
	if err != nil {
		return err
	}
	defer t.Close()
	return c.executeWith(t)
}

func (c *DeleteCommand) executeWith(t *target) error {
	ctx := context.Background()
	result := map[string]any{}

	var err error
	if t.daemon != nil {
		err = c.viaDaemon(ctx, t.daemon, result)
	} else {
		err = c.local(ctx, t, result)
	}
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	switch {
	case c.URL != "":
		fmt.Printf("Deleted page %s\n", c.URL)
	case c.Domain != "":
		fmt.Printf("Deleted %v pages on %s\n", result["pages"], c.Domain)
	case c.Date != "":
		fmt.Printf("Deleted %v sessions on %s\n", result["sessions"], c.Date)
	default:
		fmt.Println("Deleted all tracked data.")
	}
	return nil
}

func (c *DeleteCommand) local(ctx context.Context, t *target, result map[string]any) error {
	switch {
	case c.URL != "":
		result["deleted"] = c.URL
		return t.app.DeletePage(ctx, c.URL)
	case c.Domain != "":
		n, err := t.app.DeleteDomain(ctx, c.Domain)
		result["domain"], result["pages"] = c.Domain, n
		return err
	case c.Date != "":
		day, err := parseDay(c.Date, t.app.Location)
		if err != nil {
			return err
		}
		n, err := t.app.DeleteDate(ctx, day)
		result["date"], result["sessions"] = c.Date, n
		return err
	default:
		result["deleted"] = true
		return t.app.DeleteAll(ctx)
	}
}

func (c *DeleteCommand) viaDaemon(ctx context.Context, d *daemonClient, result map[string]any) error {
	var path string
	switch {
	case c.URL != "":
		path = "/v1/pageviews?url=" + url.QueryEscape(c.URL)
	case c.Domain != "":
		path = "/v1/domains/" + url.PathEscape(c.Domain)
	case c.Date != "":
		path = "/v1/dates/" + url.PathEscape(c.Date)
	default:
		path = "/v1/data"
	}
	return d.do(ctx, "DELETE", path, nil, &result)
}
