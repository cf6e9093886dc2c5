// Package stats derives time-windowed aggregates from PageViews.
package stats

import (
	"sort"
	"time"

	"github.com/runnerr0/dwell/internal/pageview"
)

// FilterByDateRange keeps, for each page, the sessions starting within
// [start, end] where end covers its whole calendar day in loc. Totals are
// recomputed and pages left without sessions are dropped. Inputs are not
// modified.
func FilterByDateRange(pages []*pageview.PageView, start, end time.Time, loc *time.Location) []*pageview.PageView {
	lo := start.UnixMilli()
	hi := pageview.StartOfDay(end, loc).AddDate(0, 0, 1).UnixMilli()
	if start.IsZero() {
		lo = 0
	}

	out := make([]*pageview.PageView, 0, len(pages))
	for _, p := range pages {
		var kept []pageview.Session
		for _, s := range p.Sessions {
			if s.StartTime >= lo && s.StartTime < hi {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			continue
		}
		c := p.Clone()
		c.Sessions = kept
		c.Recalculate()
		out = append(out, c)
	}
	return out
}

// FilterByDomain keeps pages on domain or its subdomains.
func FilterByDomain(pages []*pageview.PageView, domain string) []*pageview.PageView {
	var out []*pageview.PageView
	for _, p := range pages {
		if pageview.HostMatches(p.Hostname, domain) {
			out = append(out, p)
		}
	}
	return out
}

// TotalDuration sums page totals in seconds.
func TotalDuration(pages []*pageview.PageView) float64 {
	var total float64
	for _, p := range pages {
		total += p.TotalDuration
	}
	return total
}

// DomainDistribution sums seconds per hostname.
func DomainDistribution(pages []*pageview.PageView) map[string]float64 {
	out := make(map[string]float64)
	for _, p := range pages {
		out[p.Hostname] += p.TotalDuration
	}
	return out
}

// HourlyDistribution spreads each session's seconds over the hours of the
// day it spans in loc.
func HourlyDistribution(pages []*pageview.PageView, loc *time.Location) [24]float64 {
	var buckets [24]float64
	walk(pages, loc, nextHour, func(t time.Time, secs float64) {
		buckets[t.Hour()] += secs
	})
	return buckets
}

// WeekdayDistribution spreads each session's seconds over the weekdays it
// spans in loc. Index 0 is Sunday.
func WeekdayDistribution(pages []*pageview.PageView, loc *time.Location) [7]float64 {
	var buckets [7]float64
	walk(pages, loc, nextDay, func(t time.Time, secs float64) {
		buckets[t.Weekday()] += secs
	})
	return buckets
}

func nextHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

// walk steps through every session in boundary-aligned pieces, calling add
// with the piece's start and length in seconds.
func walk(pages []*pageview.PageView, loc *time.Location, next func(time.Time) time.Time, add func(time.Time, float64)) {
	if loc == nil {
		loc = time.Local
	}
	for _, p := range pages {
		for _, s := range p.Sessions {
			cur := s.StartTime
			for cur < s.EndTime {
				t := time.UnixMilli(cur).In(loc)
				boundary := next(t).UnixMilli()
				if boundary <= cur {
					boundary = cur + time.Hour.Milliseconds()
				}
				stop := min(boundary, s.EndTime)
				add(t, float64(stop-cur)/1000)
				cur = stop
			}
		}
	}
}

// DomainTotal is one row of a domain ranking.
type DomainTotal struct {
	Domain  string  `json:"domain"`
	Seconds float64 `json:"seconds"`
}

// TopPages returns up to n pages by total duration, longest first.
func TopPages(pages []*pageview.PageView, n int) []*pageview.PageView {
	out := append([]*pageview.PageView(nil), pages...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalDuration != out[j].TotalDuration {
			return out[i].TotalDuration > out[j].TotalDuration
		}
		return out[i].NormalizedURL < out[j].NormalizedURL
	})
	return head(out, n)
}

// TopDomains returns up to n domains by total duration.
func TopDomains(pages []*pageview.PageView, n int) []DomainTotal {
	dist := DomainDistribution(pages)
	out := make([]DomainTotal, 0, len(dist))
	for d, secs := range dist {
		out = append(out, DomainTotal{Domain: d, Seconds: secs})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].Domain < out[j].Domain
	})
	return head(out, n)
}

// TopPagesByVisits returns up to n history rows by visit count.
func TopPagesByVisits(visits []pageview.Visit, n int) []pageview.Visit {
	out := append([]pageview.Visit(nil), visits...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].VisitCount != out[j].VisitCount {
			return out[i].VisitCount > out[j].VisitCount
		}
		return out[i].LastVisitTime.After(out[j].LastVisitTime)
	})
	return head(out, n)
}

func head[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}

// TimeTrackingStats is the summary shown for the current day.
type TimeTrackingStats struct {
	TotalTimeToday      float64              `json:"totalTimeToday"`
	TopSites            []*pageview.PageView `json:"topSites"`
	DomainDistribution  map[string]float64   `json:"domainDistribution"`
	HourlyDistribution  [24]float64          `json:"hourlyDistribution"`
	WeekdayDistribution [7]float64           `json:"weekdayDistribution"`
}

// ComputeTimeTrackingStats summarizes the sessions that started on now's
// calendar day in loc.
func ComputeTimeTrackingStats(pages []*pageview.PageView, now time.Time, loc *time.Location, topN int) TimeTrackingStats {
	day := pageview.StartOfDay(now, loc)
	today := FilterByDateRange(pages, day, day, loc)
	return TimeTrackingStats{
		TotalTimeToday:      TotalDuration(today),
		TopSites:            TopPages(today, topN),
		DomainDistribution:  DomainDistribution(today),
		HourlyDistribution:  HourlyDistribution(today, loc),
		WeekdayDistribution: WeekdayDistribution(today, loc),
	}
}
