package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/rankradar/internal/logger"
	"github.com/elonfeng/rankradar/internal/store"
)

func newTestIngestor(t *testing.T) (*Ingestor, *store.SQLiteStore) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, logger.NewNop(), nil), s
}

func TestIngestEntriesUpsertsGameAndSnapshot(t *testing.T) {
	ing, s := newTestIngestor(t)
	ctx := context.Background()

	fetched := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	stats, err := ing.IngestEntries(ctx, []Entry{
		{
			AppID: "com.example.tower", Title: "Tower Clash", Developer: "Example Co",
			Genre: "Strategy", Rank: 3, Collection: CollectionFree, Country: "us",
			Score: 4.5, FetchedAt: fetched,
		},
		{
			AppID: "com.example.tower", Title: "Tower Clash", Developer: "Example Co",
			Genre: "Strategy", Rank: 12, Collection: CollectionGrossing, Country: "us",
			Score: 4.5, FetchedAt: fetched.Add(time.Minute),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{Games: 1, Snapshots: 2}, stats)

	game, err := s.GetGameByStoreID(ctx, "com.example.tower")
	require.NoError(t, err)
	assert.Equal(t, "Tower Clash", game.Name)
	assert.Equal(t, "Example Co", game.Publisher)

	// Both collections merged into one day-level row, country uppercased.
	snaps, err := s.SnapshotsByCountrySince(ctx, "US", fetched.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 3, *snaps[0].RankFree)
	assert.Equal(t, 12, *snaps[0].RankGrossing)
	assert.Nil(t, snaps[0].RankPaid)
	assert.InDelta(t, 4.5, snaps[0].Rating, 0.001)
}

func TestIngestEntriesSkipsBadRows(t *testing.T) {
	ing, _ := newTestIngestor(t)

	fetched := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	stats, err := ing.IngestEntries(context.Background(), []Entry{
		{Title: "No ID", Rank: 1, Collection: CollectionFree, FetchedAt: fetched},
		{AppID: "com.example.a", Title: "Bad Rank", Rank: 0, Collection: CollectionFree, FetchedAt: fetched},
		{AppID: "com.example.b", Title: "Bad Collection", Rank: 4, Collection: "TOP_NEW", FetchedAt: fetched},
		{AppID: "com.example.c", Title: "Good", Rank: 5, Collection: CollectionPaid, FetchedAt: fetched},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 1, stats.Snapshots)
}

func TestIngestEntriesStoreIDFromURL(t *testing.T) {
	ing, s := newTestIngestor(t)
	ctx := context.Background()

	_, err := ing.IngestEntries(ctx, []Entry{{
		Title: "URL Only", Rank: 9, Collection: CollectionFree, Country: "GB",
		URL:       "https://play.google.com/store/apps/details?id=com.example.urlonly&hl=en",
		FetchedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)

	_, err = s.GetGameByStoreID(ctx, "com.example.urlonly")
	assert.NoError(t, err)
}

func TestIngestEntriesRatingFallsBackToScoreText(t *testing.T) {
	ing, s := newTestIngestor(t)
	ctx := context.Background()

	fetched := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err := ing.IngestEntries(ctx, []Entry{{
		AppID: "com.example.a", Title: "Alpha", Rank: 2,
		Collection: CollectionFree, ScoreText: " 4.2 ", FetchedAt: fetched,
	}})
	require.NoError(t, err)

	snaps, err := s.SnapshotsByCountrySince(ctx, "US", fetched.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.InDelta(t, 4.2, snaps[0].Rating, 0.001)
}

func TestIngestDirTakesNewestFiles(t *testing.T) {
	ing, s := newTestIngestor(t)
	ctx := context.Background()
	dir := t.TempDir()

	writePayload := func(name, appID string, day int) {
		entries := []Entry{{
			AppID: appID, Title: appID, Rank: 1, Collection: CollectionFree,
			FetchedAt: time.Date(2026, 3, day, 9, 0, 0, 0, time.UTC),
		}}
		data, err := json.Marshal(entries)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	writePayload("scrape_result_2026-03-08.json", "com.example.old", 8)
	writePayload("scrape_result_2026-03-09.json", "com.example.mid", 9)
	writePayload("scrape_result_2026-03-10.json", "com.example.new", 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	stats, err := ing.IngestDir(ctx, dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Snapshots)

	// Newest two files only; the oldest game never made it in.
	_, err = s.GetGameByStoreID(ctx, "com.example.new")
	assert.NoError(t, err)
	_, err = s.GetGameByStoreID(ctx, "com.example.mid")
	assert.NoError(t, err)
	_, err = s.GetGameByStoreID(ctx, "com.example.old")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngestDirSkipsMalformedFile(t *testing.T) {
	ing, _ := newTestIngestor(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "scrape_result_bad.json"), []byte("{not json"), 0o644))
	good := []Entry{{
		AppID: "com.example.a", Title: "Alpha", Rank: 1, Collection: CollectionFree,
		FetchedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}}
	data, err := json.Marshal(good)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scrape_result_good.json"), data, 0o644))

	stats, err := ing.IngestDir(context.Background(), dir, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Snapshots)
}
