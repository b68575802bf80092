// Package trend implements the trend aggregation engine: collapsing raw
// chart snapshots into one canonical observation per (game, country,
// UTC day), deriving day-over-day movement from the two most recent
// days, and refreshing the per-country trend cache.
//
// The resolver and aggregator are pure functions over in-memory
// snapshots so the business rules are testable without a database.
package trend

import (
	"sort"
	"time"

	"github.com/elonfeng/rankradar/internal/store"
)

// Observation is one canonical daily chart observation: the latest
// snapshot captured for a (game, country) pair on one UTC calendar day.
type Observation struct {
	SnapshotID   int64
	GameID       int64
	CountryCode  string
	Day          time.Time // UTC midnight
	RankFree     *int
	RankPaid     *int
	RankGrossing *int
	Rating       float64
	Price        float64
	CapturedAt   time.Time
}

// DayOf truncates an instant to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// hasAnyRank is the single chart-relevance predicate. The resolver's
// output filter and the days-on-chart count in the store must agree on
// it, or streak counts drift against the resolved series.
func hasAnyRank(rankFree, rankPaid, rankGrossing *int) bool {
	return rankFree != nil || rankPaid != nil || rankGrossing != nil
}

// ResolveDaily collapses raw snapshots into at most one Observation per
// (game, country, UTC day): the snapshot with the latest capture
// instant wins, equal instants broken by the higher row id so repeated
// runs resolve identically. Observations with no rank at all are
// dropped. Output is ordered by (day, game) and is deterministic with
// respect to input order.
func ResolveDaily(snaps []store.Snapshot) []Observation {
	type key struct {
		gameID int64
		day    time.Time
	}

	latest := make(map[key]*store.Snapshot, len(snaps))
	for i := range snaps {
		s := &snaps[i]
		k := key{gameID: s.GameID, day: DayOf(s.CapturedAt)}
		cur, ok := latest[k]
		if !ok || newerSnapshot(s, cur) {
			latest[k] = s
		}
	}

	obs := make([]Observation, 0, len(latest))
	for k, s := range latest {
		if !hasAnyRank(s.RankFree, s.RankPaid, s.RankGrossing) {
			continue
		}
		obs = append(obs, Observation{
			SnapshotID:   s.ID,
			GameID:       s.GameID,
			CountryCode:  s.CountryCode,
			Day:          k.day,
			RankFree:     s.RankFree,
			RankPaid:     s.RankPaid,
			RankGrossing: s.RankGrossing,
			Rating:       s.Rating,
			Price:        s.Price,
			CapturedAt:   s.CapturedAt.UTC(),
		})
	}

	sort.Slice(obs, func(i, j int) bool {
		if !obs[i].Day.Equal(obs[j].Day) {
			return obs[i].Day.Before(obs[j].Day)
		}
		return obs[i].GameID < obs[j].GameID
	})
	return obs
}

func newerSnapshot(candidate, current *store.Snapshot) bool {
	if !candidate.CapturedAt.Equal(current.CapturedAt) {
		return candidate.CapturedAt.After(current.CapturedAt)
	}
	return candidate.ID > current.ID
}
