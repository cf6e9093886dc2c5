package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/runnerr0/dwell/internal/aggregator"
)

// Execute implements the go-flags Commander interface for MergesCommand.
func (c *MergesCommand) Execute(args []string) error {
	t, err := resolve(c.globals, c.app, c.daemon, c.Undo != "")
	if err != nil {
		return err
	}
	defer t.Close()
	return c.executeWith(t)
}

func (c *MergesCommand) executeWith(t *target) error {
	ctx := context.Background()

	if c.Undo != "" {
		var err error
		if t.daemon != nil {
			err = t.daemon.do(ctx, "POST", "/v1/merges/"+url.PathEscape(c.Undo)+"/undo", nil, nil)
		} else {
			err = t.app.Aggregator.UndoMerge(ctx, c.Undo)
		}
		if err != nil {
			return fmt.Errorf("undo failed: %w", err)
		}
		fmt.Printf("Undid merge %s\n", c.Undo)
		return nil
	}

	records, err := t.app.Aggregator.MergeLog(ctx)
	if err != nil {
		return err
	}
	if records == nil {
		records = []aggregator.MergeRecord{}
	}
	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Println("No merges recorded.")
		return nil
	}
	for _, m := range records {
		status := ""
		if m.Undone {
			status = " (undone)"
		}
		fmt.Printf("%s  %s  %.2f%s\n", m.ID, time.UnixMilli(m.At).Local().Format("2006-01-02 15:04"), m.Score, status)
		fmt.Printf("    %s\n    <- %s\n", m.Primary, m.Duplicate)
	}
	return nil
}
