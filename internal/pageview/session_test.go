package pageview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gap = 30 * time.Second

func TestMergeSession_AdjacentBoundary(t *testing.T) {
	first := Session{StartTime: 1_000, EndTime: 10_000, Active: false}

	t.Run("gap of exactly 30s merges", func(t *testing.T) {
		out, merged := MergeSession([]Session{first}, Session{StartTime: 40_000, EndTime: 50_000, Active: true}, gap)
		assert.True(t, merged)
		require.Len(t, out, 1)
		assert.Equal(t, Session{StartTime: 1_000, EndTime: 50_000, Active: true}, out[0])
	})

	t.Run("gap of 30.001s appends", func(t *testing.T) {
		out, merged := MergeSession([]Session{first}, Session{StartTime: 40_001, EndTime: 50_000}, gap)
		assert.False(t, merged)
		assert.Len(t, out, 2)
	})
}

func TestMergeSession_FullOverlapIsIdempotent(t *testing.T) {
	p := New("https://a.com/x", "https://a.com/x", "a.com")
	require.True(t, p.AddSession(Session{StartTime: 1_000, EndTime: 9_000, Active: true}, gap))
	before := p.TotalDuration

	require.True(t, p.AddSession(Session{StartTime: 2_000, EndTime: 8_000}, gap))
	require.True(t, p.AddSession(Session{StartTime: 1_000, EndTime: 9_000, Active: true}, gap))

	assert.Equal(t, before, p.TotalDuration)
	assert.Len(t, p.Sessions, 1)
	assert.True(t, p.CheckInvariant())
}

func TestMergeSession_PartialOverlapUnions(t *testing.T) {
	out, merged := MergeSession(
		[]Session{{StartTime: 1_000, EndTime: 5_000}},
		Session{StartTime: 4_000, EndTime: 7_000, Active: true},
		gap,
	)
	assert.True(t, merged)
	assert.Equal(t, []Session{{StartTime: 1_000, EndTime: 7_000, Active: true}}, out)
}

func TestMergeSession_RedeliveredOldSessionDoesNotDoubleCount(t *testing.T) {
	sessions := []Session{
		{StartTime: 1_000, EndTime: 5_000},
		{StartTime: 100_000, EndTime: 110_000},
	}
	out, merged := MergeSession(sessions, Session{StartTime: 1_000, EndTime: 5_000}, gap)
	assert.True(t, merged)
	assert.Equal(t, sessions, out)
}

func TestMergeSession_GrowthAbsorbsNeighbours(t *testing.T) {
	sessions := []Session{
		{StartTime: 1_000, EndTime: 5_000},
		{StartTime: 100_000, EndTime: 110_000},
	}
	out, _ := MergeSession(sessions, Session{StartTime: 4_000, EndTime: 105_000, Active: true}, gap)
	require.Len(t, out, 1)
	assert.Equal(t, Session{StartTime: 1_000, EndTime: 110_000, Active: true}, out[0])
}

func TestMergeSession_DoesNotMutateInput(t *testing.T) {
	in := []Session{{StartTime: 1_000, EndTime: 5_000}}
	_, _ = MergeSession(in, Session{StartTime: 6_000, EndTime: 9_000}, gap)
	assert.Equal(t, int64(5_000), in[0].EndTime)
}

func TestAddSession_DropsNoise(t *testing.T) {
	p := New("https://a.com/", "https://a.com/", "a.com")

	assert.False(t, p.AddSession(Session{StartTime: 1_000, EndTime: 1_499}, gap))
	assert.Empty(t, p.Sessions)
	assert.Zero(t, p.TotalDuration)

	assert.True(t, p.AddSession(Session{StartTime: 1_000, EndTime: 1_500}, gap))
	assert.InDelta(t, 0.5, p.TotalDuration, 1e-9)
}

func TestRecalculate_SumInvariantAndBounds(t *testing.T) {
	p := New("https://a.com/", "https://a.com/", "a.com")
	p.AddSession(Session{StartTime: 100_000, EndTime: 160_000}, gap)
	p.AddSession(Session{StartTime: 1_000, EndTime: 4_000}, gap)
	p.AddSession(Session{StartTime: 500_000, EndTime: 502_500}, gap)

	assert.InDelta(t, 60+3+2.5, p.TotalDuration, 1e-9)
	assert.Equal(t, int64(1_000), p.FirstVisited)
	assert.Equal(t, int64(502_500), p.LastVisited)
	assert.True(t, p.CheckInvariant())
}

func TestSessionValidate(t *testing.T) {
	assert.NoError(t, Session{StartTime: 1, EndTime: 1}.Validate())
	assert.ErrorIs(t, Session{StartTime: 5, EndTime: 4}.Validate(), ErrInvalidSession)
	assert.ErrorIs(t, Session{StartTime: 0, EndTime: 4}.Validate(), ErrInvalidSession)
}

func TestUpdateMetadata(t *testing.T) {
	p := New("https://a.com/", "https://a.com/", "a.com")

	assert.True(t, p.UpdateMetadata("Short", "https://a.com/f1.ico"))
	assert.False(t, p.UpdateMetadata("Tiny", "https://a.com/f2.ico"))
	assert.Equal(t, "Short", p.PageTitle)
	assert.Equal(t, "https://a.com/f1.ico", p.FaviconURL)

	assert.True(t, p.UpdateMetadata("A Longer Title", ""))
	assert.Equal(t, "A Longer Title", p.PageTitle)
}
