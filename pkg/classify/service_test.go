package classify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewcurve/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "viewcurve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, DefaultThresholds(), 1), db
}

// seedEnvelope writes a completed run holding just the days the tests read.
func seedEnvelope(t *testing.T, db *store.SQLiteStore, horizon int, p50ByDay map[int]int64) int64 {
	t.Helper()
	ctx := context.Background()

	runID, err := db.BeginEnvelopeRun(ctx, horizon)
	require.NoError(t, err)

	var rows []store.EnvelopeRow
	for day, p50 := range p50ByDay {
		rows = append(rows, store.EnvelopeRow{
			Day: day,
			P10: p50 / 2, P25: p50 * 3 / 4, P50: p50,
			P75: p50 * 3 / 2, P90: p50 * 2, P95: p50 * 5 / 2,
			SampleCount: 50,
		})
	}
	require.NoError(t, db.WriteEnvelopeRows(ctx, runID, rows))
	require.NoError(t, db.CompleteEnvelopeRun(ctx, runID))
	return runID
}

func TestClassifyChannelScalesByBaseline(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedEnvelope(t, db, 90, map[int]int64{0: 0, 1: 8478, 90: 18765})
	require.NoError(t, db.UpsertBaseline(ctx, &store.ChannelBaseline{
		ChannelID:     "c1",
		BaselineValue: 30000,
		Statistic:     "trimmed_mean",
		ComputedAt:    time.Now().UTC(),
	}))

	// factor = 30000 / p50(1) = 3.5386; expected at 90 = 18765 * factor.
	res, err := svc.ClassifyChannel(ctx, "c1", 235000, 90)
	require.NoError(t, err)
	assert.InDelta(t, 66401.3, res.ExpectedViews, 1.0)
	assert.InDelta(t, 3.539, res.PerformanceRatio, 0.01)
	assert.Equal(t, CategoryViral, res.Category)
	assert.Equal(t, "c1", res.ChannelID)
	assert.Equal(t, 90, res.AgeDays)
}

func TestClassifyChannelMissingBaselineIsNeutral(t *testing.T) {
	svc, db := newTestService(t)

	seedEnvelope(t, db, 90, map[int]int64{0: 0, 1: 8478, 90: 18765})

	// No baseline row: expectation stays on the global curve.
	res, err := svc.ClassifyChannel(context.Background(), "unknown-channel", 18765, 90)
	require.NoError(t, err)
	assert.InDelta(t, 18765.0, res.ExpectedViews, 1e-9)
	assert.InDelta(t, 1.0, res.PerformanceRatio, 1e-9)
	assert.Equal(t, CategoryOnTrack, res.Category)
}

func TestClassifyChannelZeroExpectedIsIndeterminate(t *testing.T) {
	svc, db := newTestService(t)

	// Day 0 of the curve is zero for a young corpus.
	seedEnvelope(t, db, 90, map[int]int64{0: 0, 1: 8478, 90: 18765})

	res, err := svc.ClassifyChannel(context.Background(), "c1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, CategoryIndeterminate, res.Category)
	assert.Zero(t, res.PerformanceRatio)
}

func TestClassifyChannelClampsAgeToHorizon(t *testing.T) {
	svc, db := newTestService(t)

	seedEnvelope(t, db, 90, map[int]int64{0: 0, 1: 8478, 90: 18765})

	// Past the stored horizon the expectation reads flat at the last day.
	res, err := svc.ClassifyChannel(context.Background(), "unknown-channel", 18765, 400)
	require.NoError(t, err)
	assert.InDelta(t, 18765.0, res.ExpectedViews, 1e-9)
	assert.Equal(t, CategoryOnTrack, res.Category)
}

func TestScaledEnvelopeRescalesByBaseline(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedEnvelope(t, db, 90, map[int]int64{0: 0, 1: 8478, 90: 18765})
	require.NoError(t, db.UpsertBaseline(ctx, &store.ChannelBaseline{
		ChannelID:     "c1",
		BaselineValue: 30000,
		Statistic:     "trimmed_mean",
		ComputedAt:    time.Now().UTC(),
	}))

	rows, factor, err := svc.ScaledEnvelope(ctx, "c1", 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 3.5386, factor, 1e-4)
	require.Len(t, rows, 3)

	// At the reference day the scaled median lands on the baseline itself.
	assert.Equal(t, 1, rows[1].Day)
	assert.InDelta(t, 30000.0, rows[1].P50, 1e-6)
	assert.Equal(t, 90, rows[2].Day)
	assert.InDelta(t, 66401.3, rows[2].P50, 1.0)
}

func TestScaledEnvelopeWithoutBaselineIsGlobal(t *testing.T) {
	svc, db := newTestService(t)

	seedEnvelope(t, db, 90, map[int]int64{0: 0, 1: 8478, 90: 18765})

	rows, factor, err := svc.ScaledEnvelope(context.Background(), "unknown-channel", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, factor)
	require.Len(t, rows, 3)
	assert.Equal(t, 18765.0, rows[2].P50)
}

func TestScaledEnvelopeNoCompletedRun(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.ScaledEnvelope(context.Background(), "c1", 0, 0)
	assert.ErrorIs(t, err, ErrNoEnvelope)
}

func TestClassifyChannelNoCompletedRun(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ClassifyChannel(context.Background(), "c1", 1000, 10)
	assert.ErrorIs(t, err, ErrNoEnvelope)
}

func TestClassifyVideoWithoutSnapshotIsIndeterminate(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedEnvelope(t, db, 90, map[int]int64{0: 0, 1: 8478, 90: 18765})
	require.NoError(t, db.UpsertVideo(ctx, &store.Video{
		ID: "v1", ChannelID: "c1", IsLongForm: true,
		PublishedAt: time.Now().UTC(), CollectedAt: time.Now().UTC(),
	}))

	res, err := svc.ClassifyVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, CategoryIndeterminate, res.Category)
	assert.Equal(t, "v1", res.VideoID)
}

func TestClassifyVideoGradesLatestSnapshot(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedEnvelope(t, db, 90, map[int]int64{0: 0, 1: 8478, 90: 18765})
	require.NoError(t, db.UpsertVideo(ctx, &store.Video{
		ID: "v1", ChannelID: "c1", IsLongForm: true,
		PublishedAt: time.Now().UTC().Add(-90 * 24 * time.Hour),
		CollectedAt: time.Now().UTC(),
	}))
	require.NoError(t, db.AddSnapshot(ctx, &store.ViewSnapshot{
		VideoID: "v1", ChannelID: "c1",
		DaysSincePublished: 90, ViewCount: 9000,
	}))

	res, err := svc.ClassifyVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", res.VideoID)
	assert.Equal(t, 90, res.AgeDays)
	// 9000 / 18765 = 0.48: below on-track, above poor.
	assert.Equal(t, CategoryUnderperforming, res.Category)
}

func TestClassifyVideoUnknownID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ClassifyVideo(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
