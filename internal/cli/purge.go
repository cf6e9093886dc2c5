package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	// Confirmation prompt unless --force
	if !c.Force {
		fmt.Println("⚠ WARNING: This will permanently delete ALL dwell data.")
		fmt.Println("  - All page views and sessions")
		fmt.Println("  - All visits")
		fmt.Println("  - Settings and excluded domains")
		fmt.Println()
		fmt.Println("This action cannot be undone.")
		fmt.Println()
		fmt.Print(`Type "PURGE" to confirm: `)

		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return fmt.Errorf("aborted: no input received")
		}
		input := strings.TrimSpace(scanner.Text())
		if input != "PURGE" {
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

func (c *PurgeCommand) executeWith(t *target) error {
	if t.daemon != nil {
		return fmt.Errorf("the daemon is running; stop it before purging")
	}

	if err := t.app.Purge(context.Background()); err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	// Output
	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"purged":  true,
			"message": "all data deleted",
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(out)
	}

	fmt.Println("Purged all data. dwell is empty.")
	return nil
}
