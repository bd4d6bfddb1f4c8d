// Package envelope computes the global performance envelope: day-indexed
// percentile curves of cumulative view count, smoothed and extended over a
// multi-year horizon, persisted as a versioned artifact.
package envelope

import (
	"context"
	"fmt"
	"os"
	"time"

	"viewcurve/pkg/snapshot"
)

// Engine orchestrates one full envelope recomputation:
// adapter fetch -> percentile calc -> smooth/extend -> versioned write.
type Engine struct {
	adapter  *snapshot.Adapter
	calc     Calculator
	smoother Smoother
	writer   *Writer
}

// NewEngine wires the recomputation pipeline.
func NewEngine(adapter *snapshot.Adapter, calc Calculator, smoother Smoother, writer *Writer) *Engine {
	return &Engine{
		adapter:  adapter,
		calc:     calc,
		smoother: smoother,
		writer:   writer,
	}
}

// RunSummary describes one completed recomputation.
type RunSummary struct {
	RunID        int64         `json:"run_id"`
	Days         int           `json:"days"`
	ObservedDays int           `json:"observed_days"`
	Samples      int           `json:"samples"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Recompute rebuilds the global envelope wholesale. A partially-completed
// run is never visible to readers; they keep the previous completed run
// until this one finishes.
func (e *Engine) Recompute(ctx context.Context) (*RunSummary, error) {
	started := time.Now()

	byDay, total, err := e.adapter.FetchByDay(ctx, snapshot.Range{MaxDay: e.smoother.Horizon})
	if err != nil {
		return nil, fmt.Errorf("fetch snapshots: %w", err)
	}
	fmt.Fprintf(os.Stderr, "  %d snapshots across %d day buckets\n", total, len(byDay))

	points, counts, err := e.calc.Compute(ctx, byDay)
	if err != nil {
		return nil, fmt.Errorf("compute percentiles: %w", err)
	}

	rows := e.smoother.Dense(points, counts, time.Now().UTC())

	runID, err := e.writer.WriteRun(ctx, e.smoother.Horizon, rows)
	if err != nil {
		return nil, fmt.Errorf("write envelope: %w", err)
	}

	return &RunSummary{
		RunID:        runID,
		Days:         len(rows),
		ObservedDays: len(points),
		Samples:      total,
		Elapsed:      time.Since(started),
	}, nil
}
