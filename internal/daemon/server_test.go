package daemon

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/app"
	"github.com/runnerr0/dwell/internal/channel"
	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, storage.NewMigrationRunner(db).Run())

	a, err := app.New(config.DefaultConfig(), db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return New(a, "test")
}

func doJSON(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), "body: %s", rec.Body.String())
}

func postMessage(t *testing.T, s http.Handler, typ channel.MessageType, payload any) channel.Response {
	t.Helper()
	env, err := channel.NewEnvelope(typ, 7, payload)
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/v1/messages", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp channel.Response
	decodeJSON(t, rec, &resp)
	return resp
}

func recordSession(t *testing.T, s http.Handler, url string, seconds int64) {
	t.Helper()
	end := time.Now().UnixMilli()
	start := end - seconds*1000
	require.True(t, postMessage(t, s, channel.TypeActivated, channel.Activated{URL: url, PageTitle: "Docs", Timestamp: start}).OK)
	resp := postMessage(t, s, channel.TypeSessionDelta, channel.SessionDelta{
		URL:         url,
		SessionData: pageview.Session{StartTime: start, EndTime: end},
		Final:       true,
	})
	require.True(t, resp.OK, resp.Error)
}

func TestServer_Status(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st statusResponse
	decodeJSON(t, rec, &st)
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, "test", st.Version)
}

func TestServer_CORSAllowsExtensionOrigin(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "chrome-extension://abcdef", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_MessagesThenPageViews(t *testing.T) {
	s := newTestServer(t)
	recordSession(t, s, "https://go.dev/doc/", 12)

	rec := doJSON(t, s, http.MethodGet, "/v1/pageviews", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pages []pageview.PageView
	decodeJSON(t, rec, &pages)
	require.Len(t, pages, 1)
	assert.Equal(t, "https://go.dev/doc", pages[0].NormalizedURL)
	assert.InDelta(t, 12.0, pages[0].TotalDuration, 1e-9)

	rec = doJSON(t, s, http.MethodGet, "/v1/pageviews?domain=rust-lang.org", "")
	pages = nil
	decodeJSON(t, rec, &pages)
	assert.Empty(t, pages)
}

func TestServer_MessageInvalidJSON(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/messages", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_MessageRejectedStillOK(t *testing.T) {
	s := newTestServer(t)
	resp := postMessage(t, s, channel.TypeSessionDelta, channel.SessionDelta{
		URL:         "https://go.dev/",
		SessionData: pageview.Session{StartTime: 5_000, EndTime: 1_000},
	})
	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Error)
}

func TestServer_Stats(t *testing.T) {
	s := newTestServer(t)
	recordSession(t, s, "https://go.dev/", 20)

	rec := doJSON(t, s, http.MethodGet, "/v1/stats?window=week", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ws struct {
		Window        string  `json:"window"`
		TotalDuration float64 `json:"totalDuration"`
	}
	decodeJSON(t, rec, &ws)
	assert.Equal(t, "week", ws.Window)
	assert.InDelta(t, 20.0, ws.TotalDuration, 1e-9)

	rec = doJSON(t, s, http.MethodGet, "/v1/stats?window=decade", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/stats?start=2026-03-10&end=2026-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DeletePage(t *testing.T) {
	s := newTestServer(t)
	recordSession(t, s, "https://go.dev/", 5)

	rec := doJSON(t, s, http.MethodDelete, "/v1/pageviews?url=https://go.dev/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/v1/pageviews?url=https://go.dev/", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/v1/pageviews", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DeleteDomainAndAll(t *testing.T) {
	s := newTestServer(t)
	recordSession(t, s, "https://go.dev/", 5)
	recordSession(t, s, "https://pkg.go.dev/fmt", 5)
	recordSession(t, s, "https://rust-lang.org/", 5)

	rec := doJSON(t, s, http.MethodDelete, "/v1/domains/go.dev", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Pages int `json:"pages"`
	}
	decodeJSON(t, rec, &body)
	assert.Equal(t, 2, body.Pages)

	rec = doJSON(t, s, http.MethodDelete, "/v1/data", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/pageviews", "")
	var pages []pageview.PageView
	decodeJSON(t, rec, &pages)
	assert.Empty(t, pages)
}

func TestServer_DeleteDateValidates(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodDelete, "/v1/dates/yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/v1/dates/2026-03-10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Settings(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var us pageview.UserSettings
	decodeJSON(t, rec, &us)
	assert.Equal(t, 30, us.PageViewStorageDays)

	us.InactivityThresholdMinutes = 99
	body, _ := json.Marshal(us)
	rec = doJSON(t, s, http.MethodPut, "/v1/settings", string(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	us.InactivityThresholdMinutes = 10
	body, _ = json.Marshal(us)
	rec = doJSON(t, s, http.MethodPut, "/v1/settings", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/settings", "")
	us = pageview.UserSettings{}
	decodeJSON(t, rec, &us)
	assert.Equal(t, 10, us.InactivityThresholdMinutes)
}

func TestServer_Retention(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPut, "/v1/settings/retention", `{"days": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPut, "/v1/settings/retention", `{"days": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/settings", "")
	var us pageview.UserSettings
	decodeJSON(t, rec, &us)
	assert.Equal(t, 3, us.PageViewStorageDays)
}

func TestServer_ExportCSV(t *testing.T) {
	s := newTestServer(t)
	recordSession(t, s, "https://go.dev/", 5)

	rec := doJSON(t, s, http.MethodGet, "/v1/export?format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 2)

	rec = doJSON(t, s, http.MethodGet, "/v1/export?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_VisitsAndSearch(t *testing.T) {
	s := newTestServer(t)
	recordSession(t, s, "https://go.dev/doc/", 5)

	rec := doJSON(t, s, http.MethodGet, "/v1/visits", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var visits []pageview.Visit
	decodeJSON(t, rec, &visits)
	require.Len(t, visits, 1)
	assert.Equal(t, 1, visits[0].VisitCount)

	rec = doJSON(t, s, http.MethodGet, "/v1/search?q=docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var results []storage.VisitRecord
	decodeJSON(t, rec, &results)
	assert.Len(t, results, 1)
}

func TestServer_MergesAndMaintenance(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/v1/merges", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = doJSON(t, s, http.MethodPost, "/v1/merges/nope/undo", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/maintenance", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SettingsWatch(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/settings/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial pageview.UserSettings
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, 30, initial.PageViewStorageDays)

	require.Eventually(t, func() bool { return s.app.Settings.Hub().Len() == 1 }, time.Second, 10*time.Millisecond)

	rec := doJSON(t, s, http.MethodPut, "/v1/settings/retention", `{"days": 9}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var update pageview.UserSettings
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, 9, update.PageViewStorageDays)
}

func TestServer_Tick(t *testing.T) {
	s := newTestServer(t)
	recordSession(t, s, "https://go.dev/", 5)
	s.Tick(context.Background())

	last, err := s.app.Maintainer.LastRun(context.Background())
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}
