// Package ingest writes scraper payloads into the snapshot store. The
// crawler itself is an external job; it drops JSON arrays of chart
// entries which arrive here either as files in a data directory or as
// an HTTP request body.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/rankradar/internal/logger"
	"github.com/elonfeng/rankradar/internal/store"
	"github.com/elonfeng/rankradar/pkg/metrics"
)

// Collection identifiers as emitted by the scraper.
const (
	CollectionFree     = "TOP_FREE"
	CollectionPaid     = "TOP_PAID"
	CollectionGrossing = "TOP_GROSSING"
)

// Entry is one scraped chart position.
type Entry struct {
	AppID      string    `json:"appId"`
	Title      string    `json:"title"`
	Developer  string    `json:"developer"`
	Genre      string    `json:"genre"`
	Icon       string    `json:"icon"`
	URL        string    `json:"url"`
	Rank       int       `json:"rank"`
	Collection string    `json:"collection"`
	Country    string    `json:"country"`
	Score      float64   `json:"score"`
	ScoreText  string    `json:"scoreText"`
	Price      float64   `json:"price"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// Stats summarizes one ingestion pass.
type Stats struct {
	Games     int `json:"games"`
	Snapshots int `json:"snapshots"`
	Skipped   int `json:"skipped"`
}

func (s *Stats) add(other Stats) {
	s.Games += other.Games
	s.Snapshots += other.Snapshots
	s.Skipped += other.Skipped
}

// Ingestor upserts games and snapshots from scrape payloads.
type Ingestor struct {
	store   store.Store
	log     *logger.Logger
	metrics *metrics.Manager // optional
}

// New creates an Ingestor.
func New(s store.Store, log *logger.Logger, m *metrics.Manager) *Ingestor {
	return &Ingestor{store: s, log: log, metrics: m}
}

var idFromURL = regexp.MustCompile(`id=([^&]+)`)

// storeID resolves the stable store identifier for an entry, falling
// back to the id query parameter of the store URL.
func storeID(e *Entry) string {
	if e.AppID != "" {
		return e.AppID
	}
	if m := idFromURL.FindStringSubmatch(e.URL); m != nil {
		return m[1]
	}
	return ""
}

func rating(e *Entry) float64 {
	if e.Score > 0 {
		return e.Score
	}
	if r, err := strconv.ParseFloat(strings.TrimSpace(e.ScoreText), 64); err == nil {
		return r
	}
	return 0
}

// IngestEntries writes a payload batch in one transaction: every entry
// upserts its game row before its snapshot so a snapshot can never
// reference a game the registry does not know, and a failed batch
// rolls back whole. Entries without a resolvable store id or a chart
// position are skipped, not fatal.
func (i *Ingestor) IngestEntries(ctx context.Context, entries []Entry) (Stats, error) {
	var stats Stats
	seenGames := make(map[string]int64)

	err := i.store.Ingest(ctx, func(tx store.IngestTx) error {
		for idx := range entries {
			e := &entries[idx]

			id := storeID(e)
			if id == "" || e.Rank < 1 {
				stats.Skipped++
				continue
			}

			country := strings.ToUpper(e.Country)
			if country == "" {
				country = "US"
			}
			capturedAt := e.FetchedAt
			if capturedAt.IsZero() {
				capturedAt = time.Now().UTC()
			}

			gameID, ok := seenGames[id]
			if !ok {
				game := &store.Game{
					StoreID:   id,
					Name:      e.Title,
					Publisher: e.Developer,
					Genre:     e.Genre,
					IconURL:   e.Icon,
					StoreURL:  e.URL,
				}
				if err := tx.UpsertGame(ctx, game); err != nil {
					return fmt.Errorf("ingest game %s: %w", id, err)
				}
				gameID = game.ID
				seenGames[id] = gameID
				stats.Games++
			}

			snap := &store.Snapshot{
				GameID:      gameID,
				CountryCode: country,
				Rating:      rating(e),
				Price:       e.Price,
				CapturedAt:  capturedAt.UTC(),
			}
			// Only the scraped collection's rank is set; the day-level
			// upsert merges in ranks from the other collections.
			rank := e.Rank
			switch e.Collection {
			case CollectionFree:
				snap.RankFree = &rank
			case CollectionPaid:
				snap.RankPaid = &rank
			case CollectionGrossing:
				snap.RankGrossing = &rank
			default:
				stats.Skipped++
				continue
			}

			if err := tx.UpsertSnapshot(ctx, snap); err != nil {
				return fmt.Errorf("ingest snapshot %s/%s: %w", id, country, err)
			}
			stats.Snapshots++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	i.metrics.IngestCounts(stats.Games, stats.Snapshots)
	return stats, nil
}

// IngestFile loads one scrape result file.
func (i *Ingestor) IngestFile(ctx context.Context, path string) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read payload %s: %w", path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return Stats{}, fmt.Errorf("parse payload %s: %w", path, err)
	}
	return i.IngestEntries(ctx, entries)
}

// IngestDir loads the newest maxFiles scrape_result_*.json files from
// dir, newest first. Day-level upserts make re-ingesting a file a
// no-op, so overlapping runs are safe.
func (i *Ingestor) IngestDir(ctx context.Context, dir string, maxFiles int) (Stats, error) {
	if maxFiles <= 0 {
		maxFiles = 5
	}

	matches, err := filepath.Glob(filepath.Join(dir, "scrape_result_*.json"))
	if err != nil {
		return Stats{}, fmt.Errorf("scan data dir %s: %w", dir, err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	if len(matches) > maxFiles {
		matches = matches[:maxFiles]
	}

	var total Stats
	for _, path := range matches {
		stats, err := i.IngestFile(ctx, path)
		if err != nil {
			i.log.Error("payload ingest failed", "file", filepath.Base(path), "err", err)
			continue
		}
		i.log.Info("payload ingested", "file", filepath.Base(path),
			"games", stats.Games, "snapshots", stats.Snapshots, "skipped", stats.Skipped)
		total.add(stats)
	}
	return total, nil
}
