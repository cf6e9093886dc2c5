package pageview

import "time"

// New returns an empty PageView for the given identity.
func New(url, normalizedURL, hostname string) *PageView {
	return &PageView{
		SchemaVersion: SchemaVersion,
		URL:           url,
		NormalizedURL: normalizedURL,
		Hostname:      hostname,
		Sessions:      []Session{},
	}
}

// Recalculate recomputes TotalDuration and the visit bounds from Sessions.
// Every mutation of Sessions must be followed by a call to Recalculate.
func (p *PageView) Recalculate() {
	p.TotalDuration = CalculateTotalDuration(p.Sessions)
	p.FirstVisited, p.LastVisited = 0, 0
	for _, s := range p.Sessions {
		if p.FirstVisited == 0 || s.StartTime < p.FirstVisited {
			p.FirstVisited = s.StartTime
		}
		if s.EndTime > p.LastVisited {
			p.LastVisited = s.EndTime
		}
	}
}

// AddSession merges s into the page and recalculates totals. Noise
// sessions are dropped and reported as not added.
func (p *PageView) AddSession(s Session, maxGap time.Duration) bool {
	if s.IsNoise() {
		return false
	}
	p.Sessions, _ = MergeSession(p.Sessions, s, maxGap)
	p.Recalculate()
	return true
}

// UpdateMetadata applies the backfill rules: a longer title replaces a
// shorter one, and a favicon is only set when none is known.
func (p *PageView) UpdateMetadata(title, favicon string) bool {
	changed := false
	if len(title) > len(p.PageTitle) {
		p.PageTitle = title
		changed = true
	}
	if p.FaviconURL == "" && favicon != "" {
		p.FaviconURL = favicon
		changed = true
	}
	return changed
}

// Clone returns a deep copy.
func (p *PageView) Clone() *PageView {
	c := *p
	c.Sessions = append([]Session(nil), p.Sessions...)
	return &c
}

// CheckInvariant reports whether TotalDuration matches the session sum.
func (p *PageView) CheckInvariant() bool {
	diff := p.TotalDuration - CalculateTotalDuration(p.Sessions)
	return diff > -1e-6 && diff < 1e-6
}
