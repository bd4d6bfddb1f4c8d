package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"viewcurve/internal/store"
	"viewcurve/pkg/alert"
	"viewcurve/pkg/baseline"
	"viewcurve/pkg/classify"
	"viewcurve/pkg/envelope"
)

// Scheduler runs periodic envelope recomputation and baseline refreshes.
type Scheduler struct {
	store        store.Store
	engine       *envelope.Engine
	estimator    *baseline.Estimator
	classifier   *classify.Service
	alertMgr     *alert.Manager
	recomputeInt time.Duration
	baselineInt  time.Duration
}

// New creates a new scheduler.
func New(
	s store.Store,
	engine *envelope.Engine,
	estimator *baseline.Estimator,
	classifier *classify.Service,
	alertMgr *alert.Manager,
	recomputeInt, baselineInt time.Duration,
) *Scheduler {
	if recomputeInt == 0 {
		recomputeInt = 24 * time.Hour
	}
	if baselineInt == 0 {
		baselineInt = 6 * time.Hour
	}
	return &Scheduler{
		store:        s,
		engine:       engine,
		estimator:    estimator,
		classifier:   classifier,
		alertMgr:     alertMgr,
		recomputeInt: recomputeInt,
		baselineInt:  baselineInt,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	recomputeTicker := time.NewTicker(s.recomputeInt)
	baselineTicker := time.NewTicker(s.baselineInt)
	defer recomputeTicker.Stop()
	defer baselineTicker.Stop()

	// Run immediately on start.
	fmt.Fprintln(os.Stderr, "scheduler: initial baseline refresh...")
	s.refreshBaselines(ctx)
	fmt.Fprintln(os.Stderr, "scheduler: initial envelope recompute...")
	s.recompute(ctx)

	fmt.Fprintf(os.Stderr, "scheduler: running (recompute every %s, baselines every %s)\n",
		s.recomputeInt, s.baselineInt)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "scheduler: stopped")
			return ctx.Err()
		case <-recomputeTicker.C:
			fmt.Fprintln(os.Stderr, "scheduler: recomputing envelope...")
			s.recompute(ctx)
		case <-baselineTicker.C:
			fmt.Fprintln(os.Stderr, "scheduler: refreshing baselines...")
			s.refreshBaselines(ctx)
		}
	}
}

func (s *Scheduler) recompute(ctx context.Context) {
	summary, err := s.engine.Recompute(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  recompute error: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "  run %d: %d days (%d observed) from %d samples in %s\n",
		summary.RunID, summary.Days, summary.ObservedDays, summary.Samples, summary.Elapsed)

	if !s.alertMgr.HasNotifiers() {
		return
	}

	viral := s.scanViral(ctx)

	n := &alert.Notification{
		Title: "Envelope recomputed",
		Body: fmt.Sprintf("Run %d: %d days (%d observed) from %d samples.",
			summary.RunID, summary.Days, summary.ObservedDays, summary.Samples),
		RunID:        summary.RunID,
		Days:         summary.Days,
		ObservedDays: summary.ObservedDays,
		Samples:      summary.Samples,
		Videos:       viral,
	}
	if len(viral) > 0 {
		n.Title = fmt.Sprintf("Envelope recomputed, %d videos newly viral", len(viral))
	}

	if err := s.alertMgr.Broadcast(ctx, n); err != nil {
		fmt.Fprintf(os.Stderr, "  alert error: %v\n", err)
	}
}

// scanViral classifies not-yet-alerted videos against the fresh curve and
// marks the ones that crossed the viral threshold.
func (s *Scheduler) scanViral(ctx context.Context) []alert.VideoNotice {
	videos, err := s.store.ListVideos(ctx, store.VideoListOpts{UnalertedOnly: true, Limit: 500})
	if err != nil {
		fmt.Fprintf(os.Stderr, "  viral scan error: %v\n", err)
		return nil
	}

	var notices []alert.VideoNotice
	for i := range videos {
		res, err := s.classifier.ClassifyVideo(ctx, videos[i].ID)
		if err != nil || res.Category != classify.CategoryViral {
			continue
		}
		notices = append(notices, alert.VideoNotice{
			VideoID: videos[i].ID,
			Title:   videos[i].Title,
			Ratio:   res.PerformanceRatio,
		})
		if err := s.store.MarkViralAlerted(ctx, videos[i].ID); err != nil {
			fmt.Fprintf(os.Stderr, "  mark alerted %s error: %v\n", videos[i].ID, err)
		}
	}
	return notices
}

func (s *Scheduler) refreshBaselines(ctx context.Context) {
	channels, err := s.store.ListChannelIDs(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  list channels error: %v\n", err)
		return
	}

	updated := 0
	for _, channelID := range channels {
		b, err := s.estimator.ComputeChannel(ctx, channelID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  baseline %s error: %v\n", channelID, err)
			continue
		}
		if err := s.store.UpsertBaseline(ctx, b); err != nil {
			fmt.Fprintf(os.Stderr, "  baseline %s store error: %v\n", channelID, err)
			continue
		}
		updated++
	}
	fmt.Fprintf(os.Stderr, "  baselines: %d/%d channels updated\n", updated, len(channels))
}
