// Package scheduler drives the daemon's batch jobs: scrape-payload
// ingestion and the trend cache refresh, both on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/elonfeng/rankradar/internal/logger"
	"github.com/elonfeng/rankradar/internal/store"
	"github.com/elonfeng/rankradar/pkg/alert"
	"github.com/elonfeng/rankradar/pkg/ingest"
	"github.com/elonfeng/rankradar/pkg/trend"
)

// Scheduler runs periodic ingestion and trend refresh.
type Scheduler struct {
	store       store.Store
	ingestor    *ingest.Ingestor
	refresher   *trend.Refresher
	alertMgr    *alert.Manager
	log         *logger.Logger
	dataDir     string
	maxFiles    int
	ingestSpec  string
	refreshSpec string
	minRankJump int
}

// New creates a new scheduler.
func New(
	s store.Store,
	ingestor *ingest.Ingestor,
	refresher *trend.Refresher,
	alertMgr *alert.Manager,
	log *logger.Logger,
	dataDir string,
	maxFiles int,
	ingestSpec, refreshSpec string,
	minRankJump int,
) *Scheduler {
	if ingestSpec == "" {
		ingestSpec = "15 5 * * *"
	}
	if refreshSpec == "" {
		refreshSpec = "45 5 * * *"
	}
	if minRankJump <= 0 {
		minRankJump = 20
	}
	return &Scheduler{
		store:       s,
		ingestor:    ingestor,
		refresher:   refresher,
		alertMgr:    alertMgr,
		log:         log,
		dataDir:     dataDir,
		maxFiles:    maxFiles,
		ingestSpec:  ingestSpec,
		refreshSpec: refreshSpec,
		minRankJump: minRankJump,
	}
}

// Run registers the cron jobs and blocks until ctx is cancelled. A
// refresh runs immediately on start so a fresh deployment serves data
// without waiting for the next scheduled slot.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()

	if _, err := c.AddFunc(s.ingestSpec, func() { s.runIngest(ctx) }); err != nil {
		return fmt.Errorf("schedule ingest %q: %w", s.ingestSpec, err)
	}
	if _, err := c.AddFunc(s.refreshSpec, func() { s.runRefresh(ctx) }); err != nil {
		return fmt.Errorf("schedule refresh %q: %w", s.refreshSpec, err)
	}

	s.log.Info("scheduler starting", "ingest", s.ingestSpec, "refresh", s.refreshSpec)
	s.runRefresh(ctx)

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
	s.log.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) runIngest(ctx context.Context) {
	stats, err := s.ingestor.IngestDir(ctx, s.dataDir, s.maxFiles)
	if err != nil {
		s.log.Error("scheduled ingest failed", "err", err)
		return
	}
	s.log.Info("scheduled ingest done",
		"games", stats.Games, "snapshots", stats.Snapshots, "skipped", stats.Skipped)
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	sum, err := s.refresher.Run(ctx)
	if err != nil {
		s.log.Error("scheduled refresh failed", "err", err)
		return
	}
	if len(sum.Failed) > 0 {
		s.log.Warn("refresh completed with failures", "failed", sum.Failed)
	}
	s.notifyMovers(ctx)
}

// notifyMovers broadcasts the biggest post-refresh risers. Alerting is
// best effort: any failure is logged and the next cycle tries again.
func (s *Scheduler) notifyMovers(ctx context.Context) {
	if !s.alertMgr.HasNotifiers() {
		return
	}

	countries, err := s.store.CacheCountries(ctx)
	if err != nil {
		s.log.Error("mover alert country listing failed", "err", err)
		return
	}

	var movers []alert.Mover
	for _, country := range countries {
		m, err := s.store.TopMover(ctx, country, true)
		if err != nil {
			s.log.Error("mover lookup failed", "country", country, "err", err)
			continue
		}
		if m == nil || m.RankChange < s.minRankJump {
			continue
		}
		movers = append(movers, alert.Mover{
			Name:        m.Name,
			StoreID:     m.StoreID,
			Genre:       m.Genre,
			CountryCode: country,
			CurrentRank: m.CurrentRank,
			RankChange:  m.RankChange,
		})
	}
	if len(movers) == 0 {
		return
	}

	n := &alert.Notification{
		Title:  "Chart movers",
		Body:   fmt.Sprintf("%d games jumped %d+ places on today's free charts", len(movers), s.minRankJump),
		Movers: movers,
	}
	if err := s.alertMgr.Broadcast(ctx, n); err != nil {
		s.log.Error("mover alert failed", "err", err)
		return
	}
	s.log.Info("mover alert sent", "movers", len(movers))
}
