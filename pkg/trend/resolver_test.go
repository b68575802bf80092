package trend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/rankradar/internal/store"
)

func intp(n int) *int { return &n }

func TestDayOf(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)

	// 23:30 EST on Jan 1 is 04:30 UTC on Jan 2.
	in := time.Date(2026, 1, 1, 23, 30, 0, 0, est)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), DayOf(in))

	noon := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), DayOf(noon))
}

func TestResolveDailyKeepsLatestCapture(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	snaps := []store.Snapshot{
		{ID: 1, GameID: 7, CountryCode: "US", RankFree: intp(10), CapturedAt: day.Add(6 * time.Hour)},
		{ID: 2, GameID: 7, CountryCode: "US", RankFree: intp(12), CapturedAt: day.Add(18 * time.Hour)},
	}

	obs := ResolveDaily(snaps)
	require.Len(t, obs, 1)
	assert.Equal(t, int64(2), obs[0].SnapshotID)
	assert.Equal(t, 12, *obs[0].RankFree)
	assert.Equal(t, day, obs[0].Day)
}

func TestResolveDailyTieBreaksByID(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	snaps := []store.Snapshot{
		{ID: 5, GameID: 7, CountryCode: "US", RankFree: intp(10), CapturedAt: at},
		{ID: 3, GameID: 7, CountryCode: "US", RankFree: intp(11), CapturedAt: at},
	}

	obs := ResolveDaily(snaps)
	require.Len(t, obs, 1)
	assert.Equal(t, int64(5), obs[0].SnapshotID)
}

func TestResolveDailyDropsRanklessSnapshots(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	snaps := []store.Snapshot{
		{ID: 1, GameID: 7, CountryCode: "US", CapturedAt: at},
		{ID: 2, GameID: 8, CountryCode: "US", RankGrossing: intp(4), CapturedAt: at},
	}

	obs := ResolveDaily(snaps)
	require.Len(t, obs, 1)
	assert.Equal(t, int64(8), obs[0].GameID)
}

func TestResolveDailySeparatesDays(t *testing.T) {
	day1 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	snaps := []store.Snapshot{
		{ID: 1, GameID: 7, CountryCode: "US", RankFree: intp(10), CapturedAt: day1.Add(8 * time.Hour)},
		{ID: 2, GameID: 7, CountryCode: "US", RankFree: intp(7), CapturedAt: day2.Add(8 * time.Hour)},
	}

	obs := ResolveDaily(snaps)
	require.Len(t, obs, 2)
	assert.Equal(t, day1, obs[0].Day)
	assert.Equal(t, day2, obs[1].Day)
}

func TestResolveDailyIndependentOfInputOrder(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	snaps := []store.Snapshot{
		{ID: 1, GameID: 9, CountryCode: "US", RankFree: intp(3), CapturedAt: day.Add(2 * time.Hour)},
		{ID: 2, GameID: 7, CountryCode: "US", RankFree: intp(10), CapturedAt: day.Add(6 * time.Hour)},
		{ID: 3, GameID: 7, CountryCode: "US", RankFree: intp(12), CapturedAt: day.Add(18 * time.Hour)},
		{ID: 4, GameID: 9, CountryCode: "US", RankFree: intp(2), CapturedAt: day.AddDate(0, 0, 1)},
	}
	reversed := make([]store.Snapshot, len(snaps))
	for i, s := range snaps {
		reversed[len(snaps)-1-i] = s
	}

	assert.Equal(t, ResolveDaily(snaps), ResolveDaily(reversed))
}

func TestResolveDailyEmpty(t *testing.T) {
	assert.Empty(t, ResolveDaily(nil))
}
