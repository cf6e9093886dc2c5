package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/app"
)

func seedSearchVisits(t *testing.T) *app.App {
	t.Helper()
	a := newTestApp(t)
	now := time.Now()
	at := func(ago time.Duration) int64 { return now.Add(-ago).UnixMilli() }

	visit(t, a, "https://go.dev/doc/effective_go", "Effective Go", at(2*time.Hour), at(2*time.Hour-time.Minute))
	visit(t, a, "https://pkg.go.dev/net/http", "http package", at(90*time.Minute), at(89*time.Minute))
	visit(t, a, "https://rust-lang.org/learn", "Learn Rust", at(5*time.Hour), at(5*time.Hour-time.Minute))
	visit(t, a, "https://go.dev/blog/", "The Go Blog", at(48*time.Hour), at(48*time.Hour-time.Minute))
	return a
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"7d":  7 * 24 * time.Hour,
		"24h": 24 * time.Hour,
		"2w":  14 * 24 * time.Hour,
		"30m": 30 * time.Minute,
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "d", "7x", "abc"} {
		_, err := parseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestSearch_WithResults(t *testing.T) {
	a := seedSearchVisits(t)
	cmd := &SearchCommand{Since: "30d", Limit: 10, globals: &GlobalFlags{}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(a.Store, []string{"effective", "blog"}))
	})
	assert.Contains(t, output, "Found 2 results for \"effective blog\"")
	assert.Contains(t, output, "Effective Go")
	assert.Contains(t, output, "The Go Blog")
	assert.NotContains(t, output, "Learn Rust")
}

func TestSearch_NoResults(t *testing.T) {
	a := seedSearchVisits(t)
	cmd := &SearchCommand{Since: "30d", Limit: 10, globals: &GlobalFlags{}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(a.Store, []string{"haskell"}))
	})
	assert.Contains(t, output, "No results found for \"haskell\"")
}

func TestSearch_DomainFilter(t *testing.T) {
	a := seedSearchVisits(t)
	cmd := &SearchCommand{Since: "30d", Limit: 10, Domain: []string{"pkg.go.dev"}, globals: &GlobalFlags{}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(a.Store, nil))
	})
	assert.Contains(t, output, "Found 1 result ")
	assert.Contains(t, output, "http package")
}

func TestSearch_TimeRange(t *testing.T) {
	a := seedSearchVisits(t)
	cmd := &SearchCommand{Since: "3h", Limit: 10, globals: &GlobalFlags{}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(a.Store, nil))
	})
	assert.Contains(t, output, "Found 2 results")
	assert.NotContains(t, output, "Learn Rust")
	assert.NotContains(t, output, "The Go Blog")
}

func TestSearch_JSONOutput(t *testing.T) {
	a := seedSearchVisits(t)
	cmd := &SearchCommand{Since: "30d", Limit: 10, globals: &GlobalFlags{JSON: true}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(a.Store, []string{"rust"}))
	})

	var out jsonSearchOutput
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, "rust", out.Query)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "rust-lang.org", out.Results[0].Domain)
	assert.Equal(t, "https://rust-lang.org/learn", out.Results[0].URL)
}

func TestSearch_Pagination(t *testing.T) {
	a := seedSearchVisits(t)
	cmd := &SearchCommand{Since: "30d", Limit: 2, Offset: 2, globals: &GlobalFlags{JSON: true}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(a.Store, nil))
	})

	var out jsonSearchOutput
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	require.Equal(t, 2, out.Count)
	// Newest first: the third and fourth most recent visits.
	assert.Equal(t, "Learn Rust", out.Results[0].Title)
	assert.Equal(t, "The Go Blog", out.Results[1].Title)
}

func TestSearch_InvalidSince(t *testing.T) {
	a := newTestApp(t)
	cmd := &SearchCommand{Since: "soon", globals: &GlobalFlags{}}
	err := cmd.executeWithStore(a.Store, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--since")
}
