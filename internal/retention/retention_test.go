package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/pageview"
)

var day0 = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(d time.Duration) int64 { return day0.Add(d).UnixMilli() }

func span(from, to time.Duration) pageview.Session {
	return pageview.Session{StartTime: at(from), EndTime: at(to)}
}

func pageWith(url string, sessions ...pageview.Session) *pageview.PageView {
	p := pageview.New(url, url, "a.com")
	p.Sessions = sessions
	p.Recalculate()
	return p
}

func TestCleanup_DropsOldSessionsAndEmptyPages(t *testing.T) {
	pages := pageview.Pages{
		"https://a.com/old": pageWith("https://a.com/old", span(-48*time.Hour, -47*time.Hour)),
		"https://a.com/mixed": pageWith("https://a.com/mixed",
			span(-30*time.Hour, -29*time.Hour),
			span(time.Hour, time.Hour+time.Minute),
		),
		"https://a.com/new": pageWith("https://a.com/new", span(2*time.Hour, 3*time.Hour)),
	}

	sessions, removed := Cleanup(pages, day0)
	assert.Equal(t, 2, sessions)
	assert.Equal(t, 1, removed)
	require.Len(t, pages, 2)

	for _, p := range pages {
		require.NotEmpty(t, p.Sessions)
		for _, s := range p.Sessions {
			assert.GreaterOrEqual(t, s.StartTime, day0.UnixMilli())
		}
		assert.True(t, p.CheckInvariant())
	}
	assert.InDelta(t, 60.0, pages["https://a.com/mixed"].TotalDuration, 1e-9)
	assert.Equal(t, at(time.Hour), pages["https://a.com/mixed"].FirstVisited)
}

func TestCompact_DurationModeKeepsDailyTotal(t *testing.T) {
	p := pageWith("https://a.com/",
		span(9*time.Hour, 9*time.Hour+time.Minute),
		span(9*time.Hour+10*time.Minute, 9*time.Hour+12*time.Minute),
		pageview.Session{StartTime: at(21 * time.Hour), EndTime: at(21*time.Hour + time.Minute), Active: true},
		span(30*time.Hour, 31*time.Hour),
		span(80*time.Hour, 80*time.Hour+time.Minute),
	)
	pages := pageview.Pages{p.NormalizedURL: p}

	n := Compact(pages, day0.Add(48*time.Hour), time.UTC, CompactDuration)
	assert.Equal(t, 2, n)

	require.Len(t, p.Sessions, 3)
	assert.Equal(t, at(9*time.Hour), p.Sessions[0].StartTime)
	assert.Equal(t, at(9*time.Hour+4*time.Minute), p.Sessions[0].EndTime)
	assert.True(t, p.Sessions[0].Active)
	assert.Equal(t, span(30*time.Hour, 31*time.Hour), p.Sessions[1])
	assert.Equal(t, span(80*time.Hour, 80*time.Hour+time.Minute), p.Sessions[2])
	assert.InDelta(t, 240.0+3600+60, p.TotalDuration, 1e-9)
	assert.True(t, p.CheckInvariant())
}

func TestCompact_SpanModeCoversDay(t *testing.T) {
	p := pageWith("https://a.com/",
		span(9*time.Hour, 9*time.Hour+time.Minute),
		span(21*time.Hour, 21*time.Hour+time.Minute),
	)
	pages := pageview.Pages{p.NormalizedURL: p}

	Compact(pages, day0.Add(48*time.Hour), time.UTC, CompactSpan)
	require.Len(t, p.Sessions, 1)
	assert.Equal(t, span(9*time.Hour, 21*time.Hour+time.Minute), p.Sessions[0])
}

func TestCompact_SingleSessionDaysUntouched(t *testing.T) {
	p := pageWith("https://a.com/", span(time.Hour, 2*time.Hour), span(25*time.Hour, 26*time.Hour))
	pages := pageview.Pages{p.NormalizedURL: p}

	assert.Zero(t, Compact(pages, day0.Add(72*time.Hour), time.UTC, CompactDuration))
	assert.Len(t, p.Sessions, 2)
}
