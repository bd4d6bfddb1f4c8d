package envelope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"viewcurve/internal/store"
)

// Writer persists a dense envelope curve in bounded, rate-limited batches.
// The backing store is shared with the rest of the product, so full
// recomputations must not saturate it.
type Writer struct {
	store     store.Store
	batchSize int
	limiter   *rate.Limiter
}

// NewWriter creates a writer emitting batchSize rows per upsert, pacing to
// rowsPerSecond overall.
func NewWriter(s store.Store, batchSize int, rowsPerSecond float64) *Writer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if rowsPerSecond <= 0 {
		rowsPerSecond = 500
	}
	return &Writer{
		store:     s,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(rate.Limit(rowsPerSecond), batchSize),
	}
}

// WriteRun writes rows under a fresh run id and marks the run complete only
// after the last batch, so readers never observe a partially-written curve.
// Batches are serialized; throttled batches retry with backoff.
func (w *Writer) WriteRun(ctx context.Context, horizonDays int, rows []store.EnvelopeRow) (int64, error) {
	runID, err := w.store.BeginEnvelopeRun(ctx, horizonDays)
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}

	for start := 0; start < len(rows); start += w.batchSize {
		end := start + w.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		if err := w.limiter.WaitN(ctx, len(batch)); err != nil {
			return 0, fmt.Errorf("rate limit wait: %w", err)
		}
		if err := w.writeBatch(ctx, runID, batch); err != nil {
			return 0, err
		}
	}

	if err := w.store.CompleteEnvelopeRun(ctx, runID); err != nil {
		return 0, fmt.Errorf("complete run %d: %w", runID, err)
	}
	return runID, nil
}

func (w *Writer) writeBatch(ctx context.Context, runID int64, batch []store.EnvelopeRow) error {
	op := func() error {
		err := w.store.WriteEnvelopeRows(ctx, runID, batch)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrWriteThrottled) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Minute

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("write batch starting day %d: %w", batch[0].Day, err)
	}
	return nil
}
