// Package retention bounds stored history: it drops sessions past the
// retention horizon and collapses old sessions into one per day.
package retention

import (
	"sort"
	"time"

	"github.com/runnerr0/dwell/internal/pageview"
)

// Compaction modes.
const (
	// CompactDuration keeps each day's total: the collapsed session starts
	// at the day's first start and lasts the sum of the day's sessions.
	CompactDuration = "duration"
	// CompactSpan spans the day's first start to its last end, counting
	// the gaps between sessions as dwell time.
	CompactSpan = "span"
)

// Cleanup removes sessions starting before cutoff and pages left empty.
func Cleanup(pages pageview.Pages, cutoff time.Time) (sessions, removedPages int) {
	c := cutoff.UnixMilli()
	for key, p := range pages {
		kept := p.Sessions[:0]
		for _, s := range p.Sessions {
			if s.StartTime < c {
				sessions++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(pages, key)
			removedPages++
			continue
		}
		if len(kept) != len(p.Sessions) {
			p.Sessions = kept
			p.Recalculate()
		}
	}
	return sessions, removedPages
}

// Compact collapses, per page and calendar day in loc, the sessions
// starting before olderThan into a single session whose active flag is
// the OR of the originals. It returns how many sessions were absorbed.
func Compact(pages pageview.Pages, olderThan time.Time, loc *time.Location, mode string) int {
	limit := olderThan.UnixMilli()
	absorbed := 0
	for _, p := range pages {
		days := make(map[int64][]pageview.Session)
		var recent []pageview.Session
		for _, s := range p.Sessions {
			if s.StartTime >= limit {
				recent = append(recent, s)
				continue
			}
			day := pageview.StartOfDay(s.Start(), loc).UnixMilli()
			days[day] = append(days[day], s)
		}

		var old []pageview.Session
		changed := false
		for _, group := range days {
			if len(group) == 1 {
				old = append(old, group[0])
				continue
			}
			old = append(old, collapse(group, mode))
			absorbed += len(group) - 1
			changed = true
		}
		if !changed {
			continue
		}
		pageview.SortByStart(old)
		p.Sessions = append(old, recent...)
		p.Recalculate()
	}
	return absorbed
}

func collapse(group []pageview.Session, mode string) pageview.Session {
	sort.Slice(group, func(i, j int) bool { return group[i].StartTime < group[j].StartTime })
	out := pageview.Session{StartTime: group[0].StartTime, EndTime: group[0].EndTime}
	var total int64
	for _, s := range group {
		out.EndTime = max(out.EndTime, s.EndTime)
		out.Active = out.Active || s.Active
		total += s.Millis()
	}
	if mode != CompactSpan {
		out.EndTime = out.StartTime + total
	}
	return out
}
