package trend

import (
	"sort"
	"time"

	"github.com/elonfeng/rankradar/internal/store"
)

// Aggregate computes one country's trend cache rows from its resolved
// daily series. chartDays carries the full-history distinct-day count
// per game; it is supplied separately because the series itself is
// usually window-limited to the last two days.
//
// The reference day is the latest day present in the series, not the
// wall-clock date, so a missed scrape day cannot zero out the cache.
// "Yesterday" is exactly one calendar day earlier; if that day is
// absent every delta is null and every game is a new entry.
func Aggregate(obs []Observation, chartDays map[int64]int) []store.TrendRow {
	if len(obs) == 0 {
		return nil
	}

	latestDay := obs[0].Day
	for _, o := range obs[1:] {
		if o.Day.After(latestDay) {
			latestDay = o.Day
		}
	}
	prevDay := latestDay.AddDate(0, 0, -1)

	today := make(map[int64]Observation)
	yesterday := make(map[int64]Observation)
	for _, o := range obs {
		switch {
		case o.Day.Equal(latestDay):
			today[o.GameID] = o
		case o.Day.Equal(prevDay):
			yesterday[o.GameID] = o
		}
	}

	gameIDs := make([]int64, 0, len(today))
	for id := range today {
		gameIDs = append(gameIDs, id)
	}
	sort.Slice(gameIDs, func(i, j int) bool { return gameIDs[i] < gameIDs[j] })

	rows := make([]store.TrendRow, 0, len(today))
	for _, id := range gameIDs {
		t := today[id]
		y, seenYesterday := yesterday[id]

		row := store.TrendRow{
			GameID:              id,
			CountryCode:         t.CountryCode,
			CurrentRankFree:     t.RankFree,
			CurrentRankPaid:     t.RankPaid,
			CurrentRankGrossing: t.RankGrossing,
			DaysOnChart:         daysOnChart(chartDays, id),
			IsNewEntry:          !seenYesterday,
			LastUpdated:         t.CapturedAt,
		}
		if seenYesterday {
			row.RankChangeFree = rankDelta(y.RankFree, t.RankFree)
			row.RankChangePaid = rankDelta(y.RankPaid, t.RankPaid)
			row.RankChangeGrossing = rankDelta(y.RankGrossing, t.RankGrossing)
		}
		rows = append(rows, row)
	}
	return rows
}

// rankDelta is yesterday − today: positive means the game climbed
// toward rank 1. Null if either side is unknown; deltas are never
// imputed across chart types.
func rankDelta(yesterday, today *int) *int {
	if yesterday == nil || today == nil {
		return nil
	}
	d := *yesterday - *today
	return &d
}

// daysOnChart reads the full-history count with a floor of 1: a game on
// today's chart has, by definition, charted at least one day, even if
// the count raced with ingestion.
func daysOnChart(chartDays map[int64]int, gameID int64) int {
	if d := chartDays[gameID]; d > 0 {
		return d
	}
	return 1
}

// LatestDay reports the most recent day present in a resolved series.
func LatestDay(obs []Observation) (time.Time, bool) {
	if len(obs) == 0 {
		return time.Time{}, false
	}
	latest := obs[0].Day
	for _, o := range obs[1:] {
		if o.Day.After(latest) {
			latest = o.Day
		}
	}
	return latest, true
}
