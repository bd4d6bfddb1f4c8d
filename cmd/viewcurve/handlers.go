package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"viewcurve/internal/config"
	"viewcurve/internal/scheduler"
	"viewcurve/internal/store"
	"viewcurve/pkg/alert"
	"viewcurve/pkg/baseline"
	"viewcurve/pkg/classify"
	"viewcurve/pkg/envelope"
	"viewcurve/pkg/metadata"
	"viewcurve/pkg/server"
	"viewcurve/pkg/snapshot"
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

func buildAdapter(cfg *config.Config, db store.Store) *snapshot.Adapter {
	return snapshot.NewAdapter(db, cfg.Adapter.PageSize)
}

func buildEngine(cfg *config.Config, db store.Store) *envelope.Engine {
	adapter := buildAdapter(cfg, db)
	calc := envelope.Calculator{MinSamples: cfg.Envelope.MinSamples}
	writer := envelope.NewWriter(db, cfg.Writer.BatchSize, cfg.Writer.RowsPerSecond)
	return envelope.NewEngine(adapter, calc, cfg.Envelope.Smoother(), writer)
}

func buildEstimator(cfg *config.Config, db store.Store) *baseline.Estimator {
	return baseline.NewEstimator(buildAdapter(cfg, db), cfg.Baseline.EstimatorConfig())
}

func buildClassifier(cfg *config.Config, db store.Store) *classify.Service {
	return classify.NewService(db, cfg.Classify.ParsedThresholds(), cfg.Baseline.ReferenceDay)
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

func runRecompute() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	fmt.Fprintln(os.Stderr, "recomputing envelope...")
	summary, err := buildEngine(cfg, db).Recompute(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "run %d: %d days (%d observed) from %d samples in %s\n",
		summary.RunID, summary.Days, summary.ObservedDays, summary.Samples, summary.Elapsed)
	return nil
}

func runBaseline(channelID string, all bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	estimator := buildEstimator(cfg, db)
	ctx := context.Background()

	var channels []string
	switch {
	case channelID != "":
		channels = []string{channelID}
	case all:
		channels, err = db.ListChannelIDs(ctx)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("pass a channel_id or --all")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tBASELINE\tSTATISTIC\tVIDEOS")
	for _, id := range channels {
		b, err := estimator.ComputeChannel(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "baseline %s error: %v\n", id, err)
			continue
		}
		if err := db.UpsertBaseline(ctx, b); err != nil {
			fmt.Fprintf(os.Stderr, "baseline %s store error: %v\n", id, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%.0f\t%s\t%d\n", b.ChannelID, b.BaselineValue, b.Statistic, len(b.SampleVideoIDs))
	}
	return w.Flush()
}

func runClassify(videoID string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	res, err := buildClassifier(cfg, db).ClassifyVideo(context.Background(), videoID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VIDEO\tAGE\tACTUAL\tEXPECTED\tRATIO\tCATEGORY")
	fmt.Fprintf(w, "%s\t%dd\t%d\t%.0f\t%.2f\t%s\n",
		res.VideoID, res.AgeDays, res.ActualViews, res.ExpectedViews,
		res.PerformanceRatio, res.Category)
	return w.Flush()
}

func runDiscover() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if len(cfg.Metadata.Channels) == 0 {
		return fmt.Errorf("no channels configured (set metadata.channels)")
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	d := metadata.NewDiscoverer(db, cfg.Metadata.APIKey, cfg.Metadata.Channels)
	total, err := d.Discover(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "discovered %d videos from %d channels\n", total, len(cfg.Metadata.Channels))
	return nil
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	srv := server.New(db, buildEngine(cfg, db), buildClassifier(cfg, db), port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := buildEngine(cfg, db)
	classifier := buildClassifier(cfg, db)
	alertMgr := buildAlertManager(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(db, engine, buildEstimator(cfg, db), classifier, alertMgr,
		cfg.Schedule.ParseRecomputeInterval(),
		cfg.Schedule.ParseBaselineInterval(),
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "scheduler error: %v\n", err)
		}
	}()

	srv := server.New(db, engine, classifier, port)
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}()

	return srv.ListenAndServe()
}
