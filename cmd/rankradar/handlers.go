package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/rankradar/internal/config"
	"github.com/elonfeng/rankradar/internal/logger"
	"github.com/elonfeng/rankradar/internal/scheduler"
	"github.com/elonfeng/rankradar/internal/store"
	"github.com/elonfeng/rankradar/pkg/alert"
	"github.com/elonfeng/rankradar/pkg/ingest"
	"github.com/elonfeng/rankradar/pkg/metrics"
	"github.com/elonfeng/rankradar/pkg/server"
	"github.com/elonfeng/rankradar/pkg/trend"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app bundles the wiring every command needs.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *store.SQLiteStore
	metrics *metrics.Manager
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		store:   db,
		metrics: metrics.New("rankradar"),
	}, nil
}

func (a *app) close() {
	a.store.Close()
	a.log.Sync()
}

func (a *app) buildRefresher(parallel int) *trend.Refresher {
	if parallel <= 0 {
		parallel = a.cfg.Refresh.Parallelism
	}
	return trend.NewRefresher(a.store, a.log,
		trend.WithActiveWindow(a.cfg.Refresh.ActiveWindow()),
		trend.WithParallelism(parallel),
		trend.WithMetrics(a.metrics),
	)
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runIngest(dataDir string, maxFiles int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if dataDir == "" {
		dataDir = a.cfg.Ingest.DataDir
	}
	if maxFiles <= 0 {
		maxFiles = a.cfg.Ingest.MaxFiles
	}

	ingestor := ingest.New(a.store, a.log, a.metrics)
	stats, err := ingestor.IngestDir(context.Background(), dataDir, maxFiles)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", dataDir, err)
	}

	fmt.Printf("ingested %d snapshots across %d games (%d entries skipped)\n",
		stats.Snapshots, stats.Games, stats.Skipped)
	return nil
}

func runRefresh(country string, parallel int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	refresher := a.buildRefresher(parallel)
	ctx := context.Background()

	if country != "" {
		rows, err := refresher.RefreshCountry(ctx, strings.ToUpper(country))
		if err != nil {
			return fmt.Errorf("refresh %s: %w", country, err)
		}
		fmt.Printf("refreshed %s: %d rows\n", strings.ToUpper(country), rows)
		return nil
	}

	sum, err := refresher.Run(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	fmt.Printf("refreshed %d rows across %d countries\n", sum.Rows, sum.Countries)
	if len(sum.Failed) > 0 {
		fmt.Printf("failed: %s (will retry next run)\n", strings.Join(sum.Failed, ", "))
	}
	return nil
}

func runTrends(country, chartType, genre string, jsonOutput bool, limit int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	chart := store.ChartType(chartType)
	if !chart.Valid() {
		return fmt.Errorf("unknown chart type %q (want free, paid or grossing)", chartType)
	}

	entries, err := a.store.ListTrending(context.Background(), store.ChartListOpts{
		Country: strings.ToUpper(country),
		Chart:   chart,
		Genre:   genre,
		Limit:   limit,
	})
	if err != nil {
		return fmt.Errorf("list trending: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("no chart data for this country yet (ingest and refresh first)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCHANGE\tDAYS\tNAME\tGENRE\tUPDATED")
	for _, e := range entries {
		change := "-"
		if e.IsNewEntry {
			change = "NEW"
		} else if e.RankChange != nil {
			change = fmt.Sprintf("%+d", *e.RankChange)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			e.Rank, change, e.DaysOnChart, e.Name, e.Genre,
			e.LastUpdated.Format(time.RFC3339))
	}
	return w.Flush()
}

func runServe(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ingestor := ingest.New(a.store, a.log, a.metrics)
	srv := server.New(a.store, a.log, ingestor, a.metrics, port,
		a.cfg.Server.HistoryPoints, a.cfg.Server.PresenceLimit)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ingestor := ingest.New(a.store, a.log, a.metrics)
	refresher := a.buildRefresher(0)
	alertMgr := buildAlertManager(a.cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(a.store, ingestor, refresher, alertMgr, a.log,
		a.cfg.Ingest.DataDir, a.cfg.Ingest.MaxFiles,
		a.cfg.Schedule.IngestSpec, a.cfg.Schedule.RefreshSpec,
		a.cfg.Alerts.MinRankJump,
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("scheduler error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		a.log.Info("shutting down")
	}()

	srv := server.New(a.store, a.log, ingestor, a.metrics, port,
		a.cfg.Server.HistoryPoints, a.cfg.Server.PresenceLimit)
	return srv.ListenAndServe()
}
