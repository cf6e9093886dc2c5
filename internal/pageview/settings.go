package pageview

import "strings"

// Excludes reports whether host is on the exclusion list under the
// configured match mode. Suffix matching covers the domain itself and its
// subdomains; substring matching excludes any host containing an entry.
func (s UserSettings) Excludes(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	for _, d := range s.ExcludedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if s.DomainMatch == MatchSubstring {
			if strings.Contains(host, d) {
				return true
			}
			continue
		}
		if HostMatches(host, d) {
			return true
		}
	}
	return false
}

// Tracking reports whether dwell time may be recorded for a page on host.
func (s UserSettings) Tracking(host string, incognito bool) bool {
	if !s.CollectData || !s.TrackPageViewDuration {
		return false
	}
	if incognito && s.ExcludeIncognito {
		return false
	}
	return !s.Excludes(host)
}
