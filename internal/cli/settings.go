package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/runnerr0/dwell/internal/pageview"
)

func (c *SettingsCommand) changes() bool {
	return c.Retention != 0 || len(c.Exclude) > 0 || len(c.Include) > 0 ||
		c.DomainMatch != "" || c.Pause || c.Resume
}

// Execute implements the go-flags Commander interface for SettingsCommand.
func (c *SettingsCommand) Execute(args []string) error {
	if c.Pause && c.Resume {
		return fmt.Errorf("--pause and --resume are mutually exclusive")
	}
	t, err := resolve(c.globals, c.app, c.daemon, c.changes())
	if err != nil {
		return err
	}
	defer t.Close()
	return c.executeWith(t)
}

// apply edits us in place from the flags, except retention which has
// its own path so the cleanup runs immediately.
func (c *SettingsCommand) apply(us *pageview.UserSettings) {
	us.ExcludedDomains = append(us.ExcludedDomains, c.Exclude...)
	if len(c.Include) > 0 {
		us.ExcludedDomains = slices.DeleteFunc(us.ExcludedDomains, func(d string) bool {
			for _, inc := range c.Include {
				if strings.EqualFold(d, strings.TrimSpace(inc)) {
					return true
				}
			}
			return false
		})
	}
	if c.DomainMatch != "" {
		us.DomainMatch = c.DomainMatch
	}
	if c.Pause {
		us.CollectData = false
	}
	if c.Resume {
		us.CollectData = true
	}
}

func (c *SettingsCommand) executeWith(t *target) error {
	ctx := context.Background()
	var us pageview.UserSettings
	var err error

	switch {
	case !c.changes():
		us = t.app.Settings.Current(ctx)
	case t.daemon != nil:
		us, err = c.viaDaemon(ctx, t.daemon)
	default:
		us, err = c.local(ctx, t)
	}
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(us)
	}
	printSettings(us)
	return nil
}

func (c *SettingsCommand) local(ctx context.Context, t *target) (pageview.UserSettings, error) {
	us, err := t.app.Settings.Update(ctx, c.apply)
	if err != nil {
		return us, err
	}
	if c.Retention != 0 {
		if _, err := t.app.Maintainer.SetRetention(ctx, c.Retention); err != nil {
			return us, err
		}
		us = t.app.Settings.Current(ctx)
	}
	return us, nil
}

func (c *SettingsCommand) viaDaemon(ctx context.Context, d *daemonClient) (pageview.UserSettings, error) {
	var us pageview.UserSettings
	if err := d.do(ctx, "GET", "/v1/settings", nil, &us); err != nil {
		return us, err
	}
	c.apply(&us)
	if err := d.do(ctx, "PUT", "/v1/settings", us, &us); err != nil {
		return us, err
	}
	if c.Retention != 0 {
		body := map[string]int{"days": c.Retention}
		if err := d.do(ctx, "PUT", "/v1/settings/retention", body, nil); err != nil {
			return us, err
		}
		if err := d.do(ctx, "GET", "/v1/settings", nil, &us); err != nil {
			return us, err
		}
	}
	return us, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func printSettings(us pageview.UserSettings) {
	fmt.Println("dwell Settings")
	fmt.Println("==============")
	fmt.Printf("Collect data:        %s\n", onOff(us.CollectData))
	fmt.Printf("Track duration:      %s\n", onOff(us.TrackPageViewDuration))
	fmt.Printf("Exclude incognito:   %s\n", onOff(us.ExcludeIncognito))
	fmt.Printf("Pause on inactivity: %s (after %d min)\n", onOff(us.PauseOnInactivity), us.InactivityThresholdMinutes)
	fmt.Printf("Collection:          %s\n", us.CollectionFrequency)
	fmt.Printf("Retention:           %d days\n", us.PageViewStorageDays)
	fmt.Printf("Domain matching:     %s\n", us.DomainMatch)
	fmt.Printf("Excluded domains:    %d\n", len(us.ExcludedDomains))
	for _, d := range us.ExcludedDomains {
		fmt.Printf("  %s\n", d)
	}
}
