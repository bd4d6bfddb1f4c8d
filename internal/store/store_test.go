package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "viewcurve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addVideo(t *testing.T, s *SQLiteStore, id, channelID string, longForm bool) {
	t.Helper()
	err := s.UpsertVideo(context.Background(), &Video{
		ID:          id,
		ChannelID:   channelID,
		Title:       "video " + id,
		IsLongForm:  longForm,
		PublishedAt: time.Now().UTC().Add(-30 * 24 * time.Hour),
		CollectedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestVideoUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addVideo(t, s, "v1", "c1", true)

	v, err := s.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "c1", v.ChannelID)
	assert.True(t, v.IsLongForm)

	// Upsert replaces metadata.
	err = s.UpsertVideo(ctx, &Video{
		ID: "v1", ChannelID: "c1", Title: "renamed", IsLongForm: false,
		PublishedAt: v.PublishedAt, CollectedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	v, err = s.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", v.Title)
	assert.False(t, v.IsLongForm)

	_, err = s.GetVideo(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotListingFiltersAndPaginates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addVideo(t, s, "long1", "c1", true)
	addVideo(t, s, "short1", "c1", false)

	for day := 0; day < 5; day++ {
		require.NoError(t, s.AddSnapshot(ctx, &ViewSnapshot{
			VideoID: "long1", ChannelID: "c1",
			DaysSincePublished: day, ViewCount: int64(1000 * day),
		}))
		require.NoError(t, s.AddSnapshot(ctx, &ViewSnapshot{
			VideoID: "short1", ChannelID: "c1",
			DaysSincePublished: day, ViewCount: int64(9999),
		}))
	}

	// Long-form filter drops the short's snapshots.
	snaps, err := s.ListSnapshots(ctx, SnapshotListOpts{LongFormOnly: true, Limit: 100})
	require.NoError(t, err)
	require.Len(t, snaps, 5)
	for _, snap := range snaps {
		assert.Equal(t, "long1", snap.VideoID)
	}

	// Keyset pagination walks all rows without overlap.
	var all []ViewSnapshot
	afterID := int64(0)
	for {
		page, err := s.ListSnapshots(ctx, SnapshotListOpts{Limit: 3, AfterID: afterID})
		require.NoError(t, err)
		all = append(all, page...)
		if len(page) < 3 {
			break
		}
		afterID = page[len(page)-1].ID
	}
	assert.Len(t, all, 10)

	// Day range filter.
	snaps, err = s.ListSnapshots(ctx, SnapshotListOpts{MinDay: 2, MaxDay: 3, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, snaps, 4)
}

func TestLatestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addVideo(t, s, "v1", "c1", true)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddSnapshot(ctx, &ViewSnapshot{
			VideoID: "v1", ChannelID: "c1",
			DaysSincePublished: i, ViewCount: int64(100 * (i + 1)),
			CapturedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	snap, err := s.LatestSnapshot(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), snap.ViewCount)
	assert.Equal(t, 2, snap.DaysSincePublished)

	_, err = s.LatestSnapshot(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func envelopeFixture(runID int64, days int) []EnvelopeRow {
	now := time.Now().UTC()
	rows := make([]EnvelopeRow, days)
	for d := range rows {
		base := int64(1000 * (d + 1))
		rows[d] = EnvelopeRow{
			RunID: runID, Day: d,
			P10: base / 5, P25: base / 2, P50: base,
			P75: base * 2, P90: base * 3, P95: base * 4,
			SampleCount: 25, UpdatedAt: now,
		}
	}
	return rows
}

func TestEnvelopeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.BeginEnvelopeRun(ctx, 9)
	require.NoError(t, err)

	rows := envelopeFixture(runID, 10)
	require.NoError(t, s.WriteEnvelopeRows(ctx, runID, rows))

	// Not visible until completed.
	_, err = s.LatestEnvelopeRun(ctx)
	assert.ErrorIs(t, err, ErrNoCompletedRun)

	require.NoError(t, s.CompleteEnvelopeRun(ctx, runID))

	run, err := s.LatestEnvelopeRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, 9, run.HorizonDays)

	got, err := s.GetEnvelopeRows(ctx, runID, 0, 9)
	require.NoError(t, err)
	require.Len(t, got, 10)
	for d, row := range got {
		assert.Equal(t, rows[d].Day, row.Day)
		assert.Equal(t, rows[d].P10, row.P10)
		assert.Equal(t, rows[d].P50, row.P50)
		assert.Equal(t, rows[d].P95, row.P95)
		assert.Equal(t, rows[d].SampleCount, row.SampleCount)
	}

	row, err := s.GetEnvelopeRow(ctx, runID, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), row.P50)
}

func TestEnvelopeWriteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.BeginEnvelopeRun(ctx, 4)
	require.NoError(t, err)

	rows := envelopeFixture(runID, 5)
	require.NoError(t, s.WriteEnvelopeRows(ctx, runID, rows))
	require.NoError(t, s.WriteEnvelopeRows(ctx, runID, rows))
	require.NoError(t, s.CompleteEnvelopeRun(ctx, runID))

	got, err := s.GetEnvelopeRows(ctx, runID, 0, 4)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestCompletedRunSupersedesPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run1, err := s.BeginEnvelopeRun(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, s.WriteEnvelopeRows(ctx, run1, envelopeFixture(run1, 3)))
	require.NoError(t, s.CompleteEnvelopeRun(ctx, run1))

	run2, err := s.BeginEnvelopeRun(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, s.WriteEnvelopeRows(ctx, run2, envelopeFixture(run2, 3)))

	// Mid-recompute, readers still resolve run1.
	latest, err := s.LatestEnvelopeRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run1, latest.ID)

	require.NoError(t, s.CompleteEnvelopeRun(ctx, run2))

	latest, err = s.LatestEnvelopeRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run2, latest.ID)

	// Superseded rows are pruned.
	old, err := s.GetEnvelopeRows(ctx, run1, 0, 2)
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestCompletedRunPrunesAbandonedRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// run1 crashes mid-write: rows exist, never completed.
	run1, err := s.BeginEnvelopeRun(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, s.WriteEnvelopeRows(ctx, run1, envelopeFixture(run1, 3)))

	run2, err := s.BeginEnvelopeRun(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, s.WriteEnvelopeRows(ctx, run2, envelopeFixture(run2, 3)))
	require.NoError(t, s.CompleteEnvelopeRun(ctx, run2))

	latest, err := s.LatestEnvelopeRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run2, latest.ID)

	// The abandoned run's rows do not leak.
	old, err := s.GetEnvelopeRows(ctx, run1, 0, 2)
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestBaselineReplacedWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := &ChannelBaseline{
		ChannelID:      "c1",
		BaselineValue:  12345,
		Statistic:      "trimmed_mean",
		SampleVideoIDs: []string{"v1", "v2"},
		ComputedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.UpsertBaseline(ctx, b))

	got, err := s.GetBaseline(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 12345.0, got.BaselineValue)
	assert.Equal(t, []string{"v1", "v2"}, got.SampleVideoIDs)
	assert.False(t, got.Neutral())

	b.BaselineValue = 999
	b.SampleVideoIDs = []string{"v3"}
	require.NoError(t, s.UpsertBaseline(ctx, b))

	got, err = s.GetBaseline(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 999.0, got.BaselineValue)
	assert.Equal(t, []string{"v3"}, got.SampleVideoIDs)

	_, err = s.GetBaseline(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChannelIDsAndViralFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addVideo(t, s, "v1", "c1", true)
	addVideo(t, s, "v2", "c2", true)

	channels, err := s.ListChannelIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, channels)

	videos, err := s.ListVideos(ctx, VideoListOpts{UnalertedOnly: true})
	require.NoError(t, err)
	assert.Len(t, videos, 2)

	require.NoError(t, s.MarkViralAlerted(ctx, "v1"))

	videos, err = s.ListVideos(ctx, VideoListOpts{UnalertedOnly: true})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "v2", videos[0].ID)
}
