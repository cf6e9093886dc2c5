package pageview

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserSettingsExcludes(t *testing.T) {
	suffix := UserSettings{ExcludedDomains: []string{"ads.com", " Bank.example "}, DomainMatch: MatchSuffix}
	substring := UserSettings{ExcludedDomains: []string{"ads.com"}, DomainMatch: MatchSubstring}

	tests := []struct {
		host           string
		suffix, substr bool
	}{
		{"ads.com", true, true},
		{"track.ads.com", true, true},
		{"notads.com", false, true},
		{"ads.company.com", false, true},
		{"bank.example", true, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.suffix, suffix.Excludes(tt.host))
			assert.Equal(t, tt.substr, substring.Excludes(tt.host))
		})
	}
}

func TestUserSettingsTracking(t *testing.T) {
	s := UserSettings{CollectData: true, TrackPageViewDuration: true, ExcludeIncognito: true}

	assert.True(t, s.Tracking("a.com", false))
	assert.False(t, s.Tracking("a.com", true))

	s.TrackPageViewDuration = false
	assert.False(t, s.Tracking("a.com", false))
}
