package trend

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/rankradar/internal/logger"
	"github.com/elonfeng/rankradar/internal/store"
	"github.com/elonfeng/rankradar/pkg/metrics"
)

// Refresher rebuilds the trend cache one country at a time. Each
// country is its own transaction, so a slow or failing country neither
// blocks nor corrupts the others, and a partially completed cycle
// leaves every committed country correct.
type Refresher struct {
	store        store.Store
	log          *logger.Logger
	metrics      *metrics.Manager // optional
	activeWindow time.Duration
	parallelism  int
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithActiveWindow sets how far back a country's newest snapshot may be
// for the country to still be refreshed. Default 48h.
func WithActiveWindow(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.activeWindow = d
		}
	}
}

// WithParallelism bounds how many countries refresh concurrently.
// Country transactions touch disjoint rows, so anything ≥1 is safe.
func WithParallelism(n int) Option {
	return func(r *Refresher) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Manager) Option {
	return func(r *Refresher) { r.metrics = m }
}

// NewRefresher creates a refresh orchestrator.
func NewRefresher(s store.Store, log *logger.Logger, opts ...Option) *Refresher {
	r := &Refresher{
		store:        s,
		log:          log,
		activeWindow: 48 * time.Hour,
		parallelism:  1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Summary reports the outcome of one refresh cycle.
type Summary struct {
	Countries int
	Rows      int
	Failed    []string
}

// Run refreshes every active country. Per-country failures are logged
// and collected, never fatal: the next scheduled run retries them.
func (r *Refresher) Run(ctx context.Context) (Summary, error) {
	countries, err := r.store.ActiveCountries(ctx, time.Now().UTC().Add(-r.activeWindow))
	if err != nil {
		return Summary{}, fmt.Errorf("select active countries: %w", err)
	}

	r.log.Info("refresh cycle starting", "countries", len(countries))

	var sum Summary
	sum.Countries = len(countries)

	results := make([]int, len(countries))
	errs := make([]error, len(countries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, country := range countries {
		g.Go(func() error {
			start := time.Now()
			rows, err := r.RefreshCountry(gctx, country)
			r.metrics.CountryRefreshed(country, rows, time.Since(start), err)
			if err != nil {
				// Recorded, not returned: one country must not
				// cancel the rest of the batch.
				r.log.Error("country refresh failed", "country", country, "err", err)
				errs[i] = err
				return nil
			}
			r.log.Info("country refreshed", "country", country, "rows", rows,
				"took", time.Since(start).Round(time.Millisecond))
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	for i, country := range countries {
		if errs[i] != nil {
			sum.Failed = append(sum.Failed, country)
			continue
		}
		sum.Rows += results[i]
	}

	r.metrics.RefreshCycle(len(countries))
	r.log.Info("refresh cycle done", "countries", sum.Countries,
		"rows", sum.Rows, "failed", len(sum.Failed))
	return sum, nil
}

// RefreshCountry recomputes and atomically replaces one country's slice
// of the trend cache, returning how many rows were written.
//
// The raw working set is bounded to snapshots captured since the start
// of the day before the country's newest rank-bearing capture: that
// always covers the latest charted day and its comparison day,
// regardless of wall clock, and a trailing rankless row cannot drag the
// window past the real chart data. The days-on-chart streak
// deliberately ignores that window and counts over full history.
func (r *Refresher) RefreshCountry(ctx context.Context, country string) (int, error) {
	latest, ok, err := r.store.LatestCapture(ctx, country)
	if err != nil {
		return 0, err
	}
	if !ok {
		// No charted data at all: drop whatever the cache still holds.
		return 0, r.store.ReplaceTrendRows(ctx, country, nil)
	}

	since := DayOf(latest).AddDate(0, 0, -1)
	snaps, err := r.store.SnapshotsByCountrySince(ctx, country, since)
	if err != nil {
		return 0, err
	}

	obs := ResolveDaily(snaps)
	if len(obs) == 0 {
		return 0, r.store.ReplaceTrendRows(ctx, country, nil)
	}

	chartDays, err := r.store.CountChartDays(ctx, country)
	if err != nil {
		return 0, err
	}

	rows := Aggregate(obs, chartDays)
	if err := r.store.ReplaceTrendRows(ctx, country, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
