package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/rankradar/internal/logger"
	"github.com/elonfeng/rankradar/internal/store"
	"github.com/elonfeng/rankradar/pkg/ingest"
)

func intp(n int) *int { return &n }

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	log := logger.NewNop()
	srv := New(s, log, ingest.New(s, log, nil), nil, 0, 30, 8)
	return srv, s
}

func seedChart(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	games := []store.Game{
		{StoreID: "com.example.tower", Name: "Tower Clash", Genre: "Strategy"},
		{StoreID: "com.example.merge", Name: "Merge Farm", Genre: "Puzzle"},
	}
	now := time.Now().UTC()
	rows := make([]store.TrendRow, 0, len(games))
	for i := range games {
		require.NoError(t, s.UpsertGame(ctx, &games[i]))
		rank := i + 1
		rows = append(rows, store.TrendRow{
			GameID:              games[i].ID,
			CountryCode:         "US",
			CurrentRankFree:     intp(rank),
			RankChangeFree:      intp(3 - 5*i),
			CurrentRankGrossing: intp(rank + 10),
			DaysOnChart:         i + 1,
			LastUpdated:         now,
		})
	}
	require.NoError(t, s.ReplaceTrendRows(ctx, "US", rows))

	require.NoError(t, s.UpsertSnapshot(ctx, &store.Snapshot{
		GameID: rows[0].GameID, CountryCode: "US",
		RankFree: intp(1), CapturedAt: now.Add(-time.Hour),
	}))
}

func doJSON(t *testing.T, h http.Handler, method, target string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestChartsDefaultsAndOrdering(t *testing.T) {
	srv, s := newTestServer(t)
	seedChart(t, s)

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/charts?type=free", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "US", body["country"])
	assert.Equal(t, "free", body["type"])
	assert.EqualValues(t, 2, body["count"])

	data := body["data"].([]any)
	first := data[0].(map[string]any)
	assert.Equal(t, "Tower Clash", first["name"])
	assert.EqualValues(t, 1, first["rank"])
	assert.EqualValues(t, 3, first["rank_change"])
}

func TestChartsGenreFilter(t *testing.T) {
	srv, s := newTestServer(t)
	seedChart(t, s)

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/charts?type=free&genre=Puzzle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
	entry := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "Merge Farm", entry["name"])
}

func TestChartsRejectsUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/charts?type=shiny", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown chart type")
}

func TestChartsEmptyCountryIsOK(t *testing.T) {
	srv, s := newTestServer(t)
	seedChart(t, s)

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/charts?country=jp", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, "JP", body["country"])
}

func TestGameDetail(t *testing.T) {
	srv, s := newTestServer(t)
	seedChart(t, s)

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/games/com.example.tower", "")
	require.Equal(t, http.StatusOK, rec.Code)

	game := body["game"].(map[string]any)
	assert.Equal(t, "Tower Clash", game["name"])

	trend := body["trend"].(map[string]any)
	assert.EqualValues(t, 1, trend["current_rank_free"])

	history := body["history"].([]any)
	assert.Len(t, history, 1)

	global := body["global"].([]any)
	assert.Len(t, global, 1)
}

func TestGameDetailOffChartCountry(t *testing.T) {
	srv, s := newTestServer(t)
	seedChart(t, s)

	// Known game, but no trend row for this country: trend is null,
	// not an error.
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/games/com.example.tower?country=de", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["trend"])
}

func TestGameDetailNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/games/com.example.nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPulse(t *testing.T) {
	srv, s := newTestServer(t)
	seedChart(t, s)

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/pulse", "")
	require.Equal(t, http.StatusOK, rec.Code)

	riser := body["riser"].(map[string]any)
	assert.Equal(t, "Tower Clash", riser["name"])
	faller := body["faller"].(map[string]any)
	assert.Equal(t, "Merge Farm", faller["name"])
	assert.Len(t, body["hot_genres"], 1)
	assert.Len(t, body["cold_genres"], 1)
}

func TestCountries(t *testing.T) {
	srv, s := newTestServer(t)
	seedChart(t, s)

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/countries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"US"}, body["data"])
}

func TestIngestEndpoint(t *testing.T) {
	srv, s := newTestServer(t)

	payload := `[{"appId":"com.example.new","title":"Newcomer","rank":4,"collection":"TOP_FREE","country":"us","fetchedAt":"2026-03-10T09:00:00Z"}]`
	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/ingest", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	ingested := body["ingested"].(map[string]any)
	assert.EqualValues(t, 1, ingested["snapshots"])

	_, err := s.GetGameByStoreID(context.Background(), "com.example.new")
	assert.NoError(t, err)
}

func TestIngestEndpointRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/ingest", "{nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntParam(t *testing.T) {
	assert.Equal(t, 25, intParam("", 25))
	assert.Equal(t, 50, intParam("50", 25))
	assert.Equal(t, 25, intParam("-1", 25))
	assert.Equal(t, 25, intParam("abc", 25))
}
