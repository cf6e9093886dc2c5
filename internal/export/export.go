// Package export writes page-view history as JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/runnerr0/dwell/internal/pageview"
)

// Format names an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "json" (also the empty string) and "csv".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Document is the JSON export envelope.
type Document struct {
	SchemaVersion int                  `json:"schemaVersion"`
	ExportedAt    time.Time            `json:"exportedAt"`
	Pages         []*pageview.PageView `json:"pages"`
}

// Header is the CSV column set, one row per session.
var Header = []string{
	"url", "normalized_url", "hostname", "title",
	"session_start", "session_end", "duration_seconds", "active",
}

// Write encodes pages in format f.
func Write(w io.Writer, f Format, pages []*pageview.PageView, now time.Time) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, pages)
	case FormatJSON, "":
		return WriteJSON(w, pages, now)
	}
	return fmt.Errorf("unknown export format %q", f)
}

// WriteJSON writes an indented Document.
func WriteJSON(w io.Writer, pages []*pageview.PageView, now time.Time) error {
	if pages == nil {
		pages = []*pageview.PageView{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	doc := Document{SchemaVersion: pageview.SchemaVersion, ExportedAt: now.UTC(), Pages: pages}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return nil
}

// WriteCSV writes Header then one row per session. Times are RFC 3339 UTC.
func WriteCSV(w io.Writer, pages []*pageview.PageView) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range pages {
		for _, s := range p.Sessions {
			row := []string{
				p.URL,
				p.NormalizedURL,
				p.Hostname,
				p.PageTitle,
				s.Start().UTC().Format(time.RFC3339),
				s.End().UTC().Format(time.RFC3339),
				strconv.FormatFloat(s.Duration(), 'f', 3, 64),
				strconv.FormatBool(s.Active),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
