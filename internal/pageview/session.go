package pageview

import (
	"fmt"
	"sort"
	"time"
)

// Duration returns the session length in seconds.
func (s Session) Duration() float64 {
	return float64(s.EndTime-s.StartTime) / 1000
}

// Millis returns the session length in milliseconds.
func (s Session) Millis() int64 {
	return s.EndTime - s.StartTime
}

// Start returns StartTime as a time.Time.
func (s Session) Start() time.Time { return time.UnixMilli(s.StartTime) }

// End returns EndTime as a time.Time.
func (s Session) End() time.Time { return time.UnixMilli(s.EndTime) }

// IsNoise reports whether the session is too short to keep.
func (s Session) IsNoise() bool {
	return s.Millis() < MinSessionMillis
}

// Validate rejects sessions with missing or inverted bounds.
func (s Session) Validate() error {
	if s.StartTime <= 0 || s.EndTime <= 0 {
		return fmt.Errorf("%w: missing bounds (start=%d end=%d)", ErrInvalidSession, s.StartTime, s.EndTime)
	}
	if s.EndTime < s.StartTime {
		return fmt.Errorf("%w: end %d before start %d", ErrInvalidSession, s.EndTime, s.StartTime)
	}
	return nil
}

func (s Session) overlaps(o Session) bool {
	return s.StartTime <= o.EndTime && o.StartTime <= s.EndTime
}

func (s Session) union(o Session) Session {
	return Session{
		StartTime: min(s.StartTime, o.StartTime),
		EndTime:   max(s.EndTime, o.EndTime),
		Active:    s.Active || o.Active,
	}
}

// CalculateTotalDuration sums session durations in seconds.
func CalculateTotalDuration(sessions []Session) float64 {
	var total int64
	for _, s := range sessions {
		total += s.Millis()
	}
	return float64(total) / 1000
}

// MergeSession folds s into sessions and returns the result.
//
// A session overlapping any existing one is unioned into it, so a
// redelivered delta never counts twice. Otherwise, if s starts within
// maxGap after the most recent session ends, that session is extended.
// Anything else is appended. merged is false only for an append.
func MergeSession(sessions []Session, s Session, maxGap time.Duration) (out []Session, merged bool) {
	gap := maxGap.Milliseconds()

	for i := len(sessions) - 1; i >= 0; i-- {
		if sessions[i].overlaps(s) {
			out = append([]Session(nil), sessions...)
			out[i] = out[i].union(s)
			return coalesceOverlaps(out, i), true
		}
	}

	if latest := latestByEnd(sessions); latest >= 0 {
		d := s.StartTime - sessions[latest].EndTime
		if d >= 0 && d <= gap {
			out = append([]Session(nil), sessions...)
			out[latest] = out[latest].union(s)
			return coalesceOverlaps(out, latest), true
		}
	}

	out = append(append([]Session(nil), sessions...), s)
	return out, false
}

// coalesceOverlaps absorbs any session that now overlaps the grown
// session at index i.
func coalesceOverlaps(sessions []Session, i int) []Session {
	for {
		grown := sessions[i]
		absorbed := -1
		for j := range sessions {
			if j != i && sessions[j].overlaps(grown) {
				absorbed = j
				break
			}
		}
		if absorbed < 0 {
			return sessions
		}
		sessions[i] = grown.union(sessions[absorbed])
		sessions = append(sessions[:absorbed], sessions[absorbed+1:]...)
		if absorbed < i {
			i--
		}
	}
}

func latestByEnd(sessions []Session) int {
	idx := -1
	for i, s := range sessions {
		if idx < 0 || s.EndTime > sessions[idx].EndTime {
			idx = i
		}
	}
	return idx
}

// SortByStart orders sessions by start time in place.
func SortByStart(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime < sessions[j].StartTime
	})
}
