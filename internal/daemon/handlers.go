package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/runnerr0/dwell/internal/aggregator"
	"github.com/runnerr0/dwell/internal/export"
	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/retention"
	"github.com/runnerr0/dwell/internal/settings"
	"github.com/runnerr0/dwell/internal/stats"
	"github.com/runnerr0/dwell/internal/storage"
)

const dateLayout = "2006-01-02"

// dateRange parses the optional start and end query parameters. Either
// may be omitted; a missing end means today.
func (s *Server) dateRange(r *http.Request) (start, end time.Time, ok bool, err error) {
	q := r.URL.Query()
	startStr, endStr := q.Get("start"), q.Get("end")
	if startStr == "" && endStr == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	loc := s.app.Location
	if startStr != "" {
		if start, err = time.ParseInLocation(dateLayout, startStr, loc); err != nil {
			return start, end, false, fmt.Errorf("invalid start %q", startStr)
		}
	}
	end = pageview.StartOfDay(s.now(), loc)
	if endStr != "" {
		if end, err = time.ParseInLocation(dateLayout, endStr, loc); err != nil {
			return start, end, false, fmt.Errorf("invalid end %q", endStr)
		}
	}
	if !start.IsZero() && end.Before(start) {
		return start, end, false, fmt.Errorf("end %s before start %s", endStr, startStr)
	}
	return start, end, true, nil
}

// snapshot loads the pages filtered by the request's date range and
// domain parameters, most recently visited first.
func (s *Server) snapshot(r *http.Request) ([]*pageview.PageView, int, error) {
	start, end, ranged, err := s.dateRange(r)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	pages, err := s.app.Pages.Load(r.Context())
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	out := pages.Sorted()
	if ranged {
		out = stats.FilterByDateRange(out, start, end, s.app.Location)
	}
	if d := r.URL.Query().Get("domain"); d != "" {
		out = stats.FilterByDomain(out, d)
	}
	return out, http.StatusOK, nil
}

// --- Page views ---

func (s *Server) handleListPageViews(w http.ResponseWriter, r *http.Request) {
	pages, status, err := s.snapshot(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	err := s.app.DeletePage(r.Context(), u)
	if errors.Is(err, pageview.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("deleting page", "url", u, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": u})
}

func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	n, err := s.app.DeleteDomain(r.Context(), domain)
	if err != nil {
		s.logger.Warn("deleting domain", "domain", domain, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "pages": n})
}

func (s *Server) handleDeleteDate(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "date")
	day, err := time.ParseInLocation(dateLayout, raw, s.app.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q", raw))
		return
	}
	n, err := s.app.DeleteDate(r.Context(), day)
	if err != nil {
		s.logger.Warn("deleting date", "date", raw, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": raw, "sessions": n})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteAll(r.Context()); err != nil {
		s.logger.Warn("deleting all data", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// --- Stats ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	start, end, ranged, err := s.dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ws *stats.WindowStats
	if ranged {
		ws, err = s.app.Rollup.Range(r.Context(), start, end)
	} else {
		window := r.URL.Query().Get("window")
		if window == "" {
			window = stats.WindowToday
		}
		ws, err = s.app.Rollup.Window(r.Context(), window)
	}
	if errors.Is(err, stats.ErrUnknownWindow) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("computing stats", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	tt, err := s.app.Rollup.TimeTracking(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tt)
}

// --- Visit log ---

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return def
}

func (s *Server) handleVisits(w http.ResponseWriter, r *http.Request) {
	start, end, ranged, err := s.dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ranged {
		end = pageview.StartOfDay(s.now(), s.app.Location)
	}
	// end is a calendar day; include all of it.
	summaries, err := s.app.Store.QueryVisits(r.Context(), start, end.AddDate(0, 0, 1).Add(-time.Millisecond), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	visits := make([]pageview.Visit, len(summaries))
	for i, v := range summaries {
		visits[i] = pageview.Visit{URL: v.URL, Title: v.Title, LastVisitTime: v.LastVisitTime, VisitCount: v.VisitCount}
	}
	if r.URL.Query().Get("sort") == "count" {
		visits = stats.TopPagesByVisits(visits, len(visits))
	}
	writeJSON(w, http.StatusOK, visits)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := storage.SearchQuery{
		Query:    r.URL.Query().Get("q"),
		Hostname: r.URL.Query().Get("domain"),
		Limit:    queryInt(r, "limit", 20),
		Offset:   queryInt(r, "offset", 0),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since %q", since))
			return
		}
		q.Since = s.now().Add(-d)
	}
	results, err := s.app.Store.SearchVisits(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []storage.VisitRecord{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pages, status, err := s.snapshot(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="dwell-export.%s"`, format))
	if err := export.Write(w, format, pages, s.now()); err != nil {
		s.logger.Warn("writing export", "error", err)
	}
}

// --- Settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Settings.Current(r.Context()))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var us pageview.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&us); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	saved, err := s.app.Settings.Save(r.Context(), us)
	if errors.Is(err, settings.ErrInvalidSettings) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("saving settings", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handlePutRetention(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rep, err := s.app.Maintainer.SetRetention(r.Context(), body.Days)
	if errors.Is(err, settings.ErrInvalidSettings) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("setting retention", "days", body.Days, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// --- Maintenance ---

func (s *Server) handleListMerges(w http.ResponseWriter, r *http.Request) {
	records, err := s.app.Aggregator.MergeLog(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []aggregator.MergeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleUndoMerge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.app.Aggregator.UndoMerge(r.Context(), id)
	switch {
	case errors.Is(err, aggregator.ErrMergeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, aggregator.ErrMergeUndone):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Warn("undoing merge", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"undone": id})
	}
}

// handleMaintenance runs a full pass, or only the retention cleanup with
// a horizon of ?days=N.
func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	var rep *retention.Report
	var err error
	if days := r.URL.Query().Get("days"); days != "" {
		n, convErr := strconv.Atoi(days)
		if convErr != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid days %q", days))
			return
		}
		rep, err = s.app.Maintainer.Cleanup(r.Context(), n)
	} else {
		rep, err = s.app.Maintainer.Run(r.Context())
	}
	if err != nil {
		s.logger.Warn("maintenance", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.app.Rollup.RefreshAll(r.Context()); err != nil {
		s.logger.Warn("refreshing roll-ups", "error", err)
	}
	writeJSON(w, http.StatusOK, rep)
}
