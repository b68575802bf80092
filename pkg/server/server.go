// Package server exposes the read API. Every endpoint is a read-only
// query against the trend cache or the raw snapshot history; nothing
// here recomputes aggregation synchronously. An empty result is a
// normal, displayable state, never an error.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/elonfeng/rankradar/internal/logger"
	"github.com/elonfeng/rankradar/internal/store"
	"github.com/elonfeng/rankradar/pkg/ingest"
	"github.com/elonfeng/rankradar/pkg/metrics"
)

const maxPageSize = 200

// Server provides the HTTP API.
type Server struct {
	store         store.Store
	log           *logger.Logger
	ingestor      *ingest.Ingestor
	metrics       *metrics.Manager // optional
	port          int
	historyPoints int
	presenceLimit int
}

// New creates a new HTTP server.
func New(s store.Store, log *logger.Logger, ing *ingest.Ingestor, m *metrics.Manager, port, historyPoints, presenceLimit int) *Server {
	if port == 0 {
		port = 8080
	}
	if historyPoints <= 0 {
		historyPoints = 30
	}
	if presenceLimit <= 0 {
		presenceLimit = 8
	}
	return &Server{
		store:         s,
		log:           log,
		ingestor:      ing,
		metrics:       m,
		port:          port,
		historyPoints: historyPoints,
		presenceLimit: presenceLimit,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/charts", s.instrument("/api/v1/charts", s.handleCharts))
	mux.HandleFunc("GET /api/v1/games/{storeID}", s.instrument("/api/v1/games", s.handleGameDetail))
	mux.HandleFunc("GET /api/v1/pulse", s.instrument("/api/v1/pulse", s.handlePulse))
	mux.HandleFunc("GET /api/v1/countries", s.instrument("/api/v1/countries", s.handleCountries))
	mux.HandleFunc("POST /api/v1/ingest", s.instrument("/api/v1/ingest", s.handleIngest))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) instrument(path string, h http.HandlerFunc) http.HandlerFunc {
	return s.metrics.InstrumentHTTP(path, h)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("api server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCharts serves the ranked chart listing: ascending by the
// requested chart's current rank, rows without that rank excluded.
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	country := strings.ToUpper(q.Get("country"))
	if country == "" {
		country = "US"
	}

	chart := store.ChartType(q.Get("type"))
	if chart == "" {
		chart = store.ChartGrossing
	}
	if !chart.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown chart type %q (want free, paid or grossing)", chart),
		})
		return
	}

	limit := intParam(q.Get("limit"), 25)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := intParam(q.Get("offset"), 0)

	entries, err := s.store.ListTrending(r.Context(), store.ChartListOpts{
		Country: country,
		Chart:   chart,
		Genre:   q.Get("genre"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.log.Error("chart listing failed", "country", country, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":    entries,
		"count":   len(entries),
		"country": country,
		"type":    chart,
		"offset":  offset,
	})
}

// handleGameDetail serves one game's current stats for the viewing
// country, its recent capture history for charting, and its best
// current standings across all countries.
func (s *Server) handleGameDetail(w http.ResponseWriter, r *http.Request) {
	storeID := r.PathValue("storeID")

	country := strings.ToUpper(r.URL.Query().Get("country"))
	if country == "" {
		country = "US"
	}

	game, err := s.store.GetGameByStoreID(r.Context(), storeID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown game"})
		return
	}
	if err != nil {
		s.log.Error("game lookup failed", "store_id", storeID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	// No trend row just means the game is not on this country's
	// current chart.
	trendRow, err := s.store.GetTrendRow(r.Context(), game.ID, country)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Error("trend row lookup failed", "store_id", storeID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	history, err := s.store.RecentSnapshots(r.Context(), game.ID, country, s.historyPoints)
	if err != nil {
		s.log.Error("history lookup failed", "store_id", storeID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	global, err := s.store.GlobalPresence(r.Context(), game.ID, s.presenceLimit)
	if err != nil {
		s.log.Error("presence lookup failed", "store_id", storeID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"game":    game,
		"country": country,
		"trend":   trendRow,
		"history": history,
		"global":  global,
	})
}

func (s *Server) handlePulse(w http.ResponseWriter, r *http.Request) {
	country := strings.ToUpper(r.URL.Query().Get("country"))
	if country == "" {
		country = "US"
	}
	ctx := r.Context()

	riser, err := s.store.TopMover(ctx, country, true)
	if err != nil {
		s.log.Error("pulse riser failed", "country", country, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	faller, err := s.store.TopMover(ctx, country, false)
	if err != nil {
		s.log.Error("pulse faller failed", "country", country, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	hot, err := s.store.GenreVelocities(ctx, country, true, 3)
	if err != nil {
		s.log.Error("pulse hot genres failed", "country", country, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	cold, err := s.store.GenreVelocities(ctx, country, false, 3)
	if err != nil {
		s.log.Error("pulse cold genres failed", "country", country, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"country":     country,
		"riser":       riser,
		"faller":      faller,
		"hot_genres":  hot,
		"cold_genres": cold,
	})
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := s.store.CacheCountries(r.Context())
	if err != nil {
		s.log.Error("country listing failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  countries,
		"count": len(countries),
	})
}

// handleIngest accepts a scraper payload inline. The CLI path does the
// same thing from files on disk.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ingestion disabled"})
		return
	}

	var entries []ingest.Entry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload: " + err.Error()})
		return
	}

	stats, err := s.ingestor.IngestEntries(r.Context(), entries)
	if err != nil {
		s.log.Error("inline ingest failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ingest failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ingested": stats})
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
