package envelope

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewcurve/internal/store"
)

func newTestWriter(t *testing.T) (*Writer, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "viewcurve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	// High rate so the limiter never stalls the test.
	return NewWriter(db, 100, 1_000_000), db
}

func denseRows(n int) []store.EnvelopeRow {
	rows := make([]store.EnvelopeRow, n)
	for day := range rows {
		base := int64(1000 * (day + 1))
		rows[day] = store.EnvelopeRow{
			Day: day,
			P10: base / 2, P25: base * 3 / 4, P50: base,
			P75: base * 3 / 2, P90: base * 2, P95: base * 5 / 2,
			SampleCount: 25,
		}
	}
	return rows
}

func TestWriteRunBatchesAndCompletes(t *testing.T) {
	w, db := newTestWriter(t)
	ctx := context.Background()

	rows := denseRows(250) // 100 + 100 + 50
	runID, err := w.WriteRun(ctx, 249, rows)
	require.NoError(t, err)

	run, err := db.LatestEnvelopeRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, 249, run.HorizonDays)
	assert.True(t, run.CompletedAt.Valid)

	stored, err := db.GetEnvelopeRows(ctx, runID, 0, 249)
	require.NoError(t, err)
	require.Len(t, stored, 250)
	assert.Equal(t, int64(1000), stored[0].P50)
	assert.Equal(t, int64(250000), stored[249].P50)
	assert.Equal(t, 25, stored[120].SampleCount)
}

func TestWriteRunSupersedesPreviousRun(t *testing.T) {
	w, db := newTestWriter(t)
	ctx := context.Background()

	run1, err := w.WriteRun(ctx, 9, denseRows(10))
	require.NoError(t, err)

	run2, err := w.WriteRun(ctx, 19, denseRows(20))
	require.NoError(t, err)
	require.Greater(t, run2, run1)

	latest, err := db.LatestEnvelopeRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run2, latest.ID)
	assert.Equal(t, 19, latest.HorizonDays)

	// The superseded run's rows are pruned.
	old, err := db.GetEnvelopeRows(ctx, run1, 0, 9)
	require.NoError(t, err)
	assert.Empty(t, old)
}

// throttlingStore rejects the first throttles batch writes as contended,
// then delegates to the real store.
type throttlingStore struct {
	store.Store
	throttles int
	writes    int
}

func (s *throttlingStore) WriteEnvelopeRows(ctx context.Context, runID int64, rows []store.EnvelopeRow) error {
	s.writes++
	if s.throttles > 0 {
		s.throttles--
		return fmt.Errorf("batch rejected: %w", store.ErrWriteThrottled)
	}
	return s.Store.WriteEnvelopeRows(ctx, runID, rows)
}

func TestWriteRunRetriesThrottledBatch(t *testing.T) {
	_, db := newTestWriter(t)
	ctx := context.Background()

	ts := &throttlingStore{Store: db, throttles: 1}
	w := NewWriter(ts, 100, 1_000_000)

	runID, err := w.WriteRun(ctx, 9, denseRows(10))
	require.NoError(t, err)
	// First attempt throttled, retry landed.
	assert.Equal(t, 2, ts.writes)

	run, err := db.LatestEnvelopeRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)

	rows, err := db.GetEnvelopeRows(ctx, runID, 0, 9)
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}

// brokenStore fails every batch write with a non-throttle error.
type brokenStore struct {
	store.Store
	writes int
}

func (s *brokenStore) WriteEnvelopeRows(ctx context.Context, runID int64, rows []store.EnvelopeRow) error {
	s.writes++
	return errors.New("disk I/O error")
}

func TestWriteRunAbortsOnPermanentError(t *testing.T) {
	_, db := newTestWriter(t)
	ctx := context.Background()

	bs := &brokenStore{Store: db}
	w := NewWriter(bs, 100, 1_000_000)

	_, err := w.WriteRun(ctx, 9, denseRows(10))
	require.Error(t, err)
	// No retry on a non-throttle failure.
	assert.Equal(t, 1, bs.writes)

	_, err = db.LatestEnvelopeRun(ctx)
	assert.ErrorIs(t, err, store.ErrNoCompletedRun)
}

func TestWriteRunEmptyCurve(t *testing.T) {
	w, db := newTestWriter(t)
	ctx := context.Background()

	runID, err := w.WriteRun(ctx, 0, nil)
	require.NoError(t, err)

	run, err := db.LatestEnvelopeRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)

	rows, err := db.GetEnvelopeRows(ctx, runID, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
