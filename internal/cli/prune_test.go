package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/app"
	"github.com/runnerr0/dwell/internal/retention"
)

// setupPrune seeds one page per age, each with a single one-minute session.
func setupPrune(t *testing.T, ages ...time.Duration) *app.App {
	t.Helper()
	a := newTestApp(t)
	now := time.Now()
	for i, age := range ages {
		seedPage(t, a, "https://go.dev/page/"+string(rune('a'+i)), now.Add(-age), time.Minute)
	}
	return a
}

const oneDay = 24 * time.Hour

func TestPrune_DefaultRetention(t *testing.T) {
	a := setupPrune(t, 45*oneDay, 40*oneDay, time.Hour)

	cmd := &PruneCommand{globals: &GlobalFlags{}, app: a}
	output := captureOutput(t, func() { require.NoError(t, cmd.Execute(nil)) })

	assert.Contains(t, output, "Pruned data older than 30 days.")
	assert.Contains(t, output, "Pages removed:       2")

	pages, err := a.Pages.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, pages, 1)

	last, err := a.Maintainer.LastRun(context.Background())
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestPrune_CustomOlderThan(t *testing.T) {
	a := setupPrune(t, 15*oneDay, 5*oneDay, time.Hour)

	cmd := &PruneCommand{OlderThan: "10d", globals: &GlobalFlags{}, app: a}
	output := captureOutput(t, func() { require.NoError(t, cmd.Execute(nil)) })
	assert.Contains(t, output, "Pruned data older than 10 days.")

	pages, err := a.Pages.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	// A one-off horizon leaves the saved setting alone.
	assert.Equal(t, 30, a.Settings.Current(context.Background()).PageViewStorageDays)
}

func TestPrune_DryRun(t *testing.T) {
	a := setupPrune(t, 45*oneDay, time.Hour)

	cmd := &PruneCommand{DryRun: true, globals: &GlobalFlags{}, app: a}
	output := captureOutput(t, func() { require.NoError(t, cmd.Execute(nil)) })
	assert.Contains(t, output, "Dry run: would remove 1 sessions and 1 pages older than 30 days.")

	pages, err := a.Pages.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, pages, 2, "dry run must not delete anything")
}

func TestPrune_JSONOutput(t *testing.T) {
	a := setupPrune(t, 45*oneDay, time.Hour)

	cmd := &PruneCommand{globals: &GlobalFlags{JSON: true}, app: a}
	output := captureOutput(t, func() { require.NoError(t, cmd.Execute(nil)) })

	var rep retention.Report
	require.NoError(t, json.Unmarshal([]byte(output), &rep))
	assert.Equal(t, 1, rep.SessionsRemoved)
	assert.Equal(t, 1, rep.PagesRemoved)
}

func TestPrune_JSONDryRun(t *testing.T) {
	a := setupPrune(t, 45*oneDay)

	cmd := &PruneCommand{DryRun: true, OlderThan: "2w", globals: &GlobalFlags{JSON: true}, app: a}
	output := captureOutput(t, func() { require.NoError(t, cmd.Execute(nil)) })

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, true, out["dry_run"])
	assert.Equal(t, float64(14), out["retention_days"])
	assert.Equal(t, float64(1), out["pages_removed"])
}

func TestPrune_NothingToPrune(t *testing.T) {
	a := setupPrune(t, time.Hour)

	cmd := &PruneCommand{globals: &GlobalFlags{}, app: a}
	output := captureOutput(t, func() { require.NoError(t, cmd.Execute(nil)) })
	assert.Contains(t, output, "Sessions removed:    0")
}

func TestPrune_ViaDaemon(t *testing.T) {
	a := setupPrune(t, 45*oneDay, time.Hour)

	cmd := &PruneCommand{OlderThan: "30d", globals: &GlobalFlags{JSON: true}, app: a, daemon: newTestDaemon(t, a)}
	output := captureOutput(t, func() { require.NoError(t, cmd.Execute(nil)) })

	var rep retention.Report
	require.NoError(t, json.Unmarshal([]byte(output), &rep))
	assert.Equal(t, 1, rep.PagesRemoved)
}

func TestPrune_InvalidOlderThan(t *testing.T) {
	a := newTestApp(t)

	cmd := &PruneCommand{OlderThan: "yesterday", globals: &GlobalFlags{}, app: a}
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --older-than")

	cmd = &PruneCommand{OlderThan: "12h", globals: &GlobalFlags{}, app: a}
	err = cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 1d")
}
