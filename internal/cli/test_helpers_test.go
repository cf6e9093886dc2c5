package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/app"
	"github.com/runnerr0/dwell/internal/channel"
	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/daemon"
	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/storage"
	"github.com/runnerr0/dwell/internal/urlnorm"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// newTestApp wires an App over an in-memory database.
func newTestApp(t *testing.T) *app.App {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, storage.NewMigrationRunner(db).Run())

	a, err := app.New(config.DefaultConfig(), db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

// newTestDaemon serves a's management API and returns a client for it.
func newTestDaemon(t *testing.T, a *app.App) *daemonClient {
	t.Helper()
	ts := httptest.NewServer(daemon.New(a, "test"))
	t.Cleanup(ts.Close)
	return newDaemonClient(ts.URL)
}

// visit records one finished session through the message router, the way
// the extension does.
func visit(t *testing.T, a *app.App, url, title string, start, end int64) {
	t.Helper()
	send := func(typ channel.MessageType, payload any) {
		env, err := channel.NewEnvelope(typ, 1, payload)
		require.NoError(t, err)
		resp := a.Router.Dispatch(context.Background(), env)
		require.True(t, resp.OK, resp.Error)
	}
	send(channel.TypeActivated, channel.Activated{URL: url, PageTitle: title, Timestamp: start})
	send(channel.TypeSessionDelta, channel.SessionDelta{
		URL:         url,
		SessionData: pageview.Session{StartTime: start, EndTime: end},
		Final:       true,
	})
}

// seedPage writes a page view with one session directly to the repository,
// bypassing the router so sessions can be arbitrarily old.
func seedPage(t *testing.T, a *app.App, url string, start time.Time, d time.Duration) {
	t.Helper()
	norm := urlnorm.Normalize(url)
	err := a.Pages.UpdateNow(context.Background(), func(pages pageview.Pages) (bool, error) {
		p, ok := pages[norm]
		if !ok {
			p = pageview.New(url, norm, urlnorm.Hostname(url))
			pages[norm] = p
		}
		p.Sessions = append(p.Sessions, pageview.Session{StartTime: start.UnixMilli(), EndTime: start.Add(d).UnixMilli()})
		pageview.SortByStart(p.Sessions)
		p.Recalculate()
		return true, nil
	})
	require.NoError(t, err)
}
