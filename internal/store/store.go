package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoCompletedRun indicates no envelope recomputation has finished yet.
	ErrNoCompletedRun = errors.New("no completed envelope run")
	// ErrWriteThrottled indicates the backing store rejected a write due to
	// contention. Retryable with backoff.
	ErrWriteThrottled = errors.New("write throttled")
)

// Video is the per-video metadata record.
type Video struct {
	ID              string    `db:"id" json:"id"`
	ChannelID       string    `db:"channel_id" json:"channel_id"`
	Title           string    `db:"title" json:"title"`
	Duration        string    `db:"duration" json:"duration"`
	DurationSeconds int       `db:"duration_seconds" json:"duration_seconds"`
	IsLongForm      bool      `db:"is_long_form" json:"is_long_form"`
	ViralAlerted    bool      `db:"viral_alerted" json:"-"`
	PublishedAt     time.Time `db:"published_at" json:"published_at"`
	CollectedAt     time.Time `db:"collected_at" json:"collected_at"`
}

// ViewSnapshot is one observed (video, age, views) tuple. Immutable once
// recorded; owned by the ingestion side and read-only here.
type ViewSnapshot struct {
	ID                 int64     `db:"id" json:"id"`
	VideoID            string    `db:"video_id" json:"video_id"`
	ChannelID          string    `db:"channel_id" json:"channel_id"`
	DaysSincePublished int       `db:"days_since_published" json:"days_since_published"`
	ViewCount          int64     `db:"view_count" json:"view_count"`
	CapturedAt         time.Time `db:"captured_at" json:"captured_at"`
}

// EnvelopeRow is one day of the percentile envelope. sample_count of 0 marks
// interpolated or extrapolated rows.
type EnvelopeRow struct {
	RunID       int64     `db:"run_id" json:"-"`
	Day         int       `db:"day_since_published" json:"day_since_published"`
	P10         int64     `db:"p10_views" json:"p10_views"`
	P25         int64     `db:"p25_views" json:"p25_views"`
	P50         int64     `db:"p50_views" json:"p50_views"`
	P75         int64     `db:"p75_views" json:"p75_views"`
	P90         int64     `db:"p90_views" json:"p90_views"`
	P95         int64     `db:"p95_views" json:"p95_views"`
	SampleCount int       `db:"sample_count" json:"sample_count"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// EnvelopeRun is one versioned recomputation of the full envelope. Readers
// only ever resolve completed runs, so a half-written recompute is invisible.
type EnvelopeRun struct {
	ID          int64        `db:"id" json:"id"`
	HorizonDays int          `db:"horizon_days" json:"horizon_days"`
	StartedAt   time.Time    `db:"started_at" json:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at" json:"completed_at"`
}

// StatisticNeutral marks a baseline for a channel with no qualifying data.
// The scaler treats it as scale factor 1.0.
const StatisticNeutral = "neutral"

// ChannelBaseline is a channel's early-life view-count scalar. Replaced
// wholesale on each recomputation.
type ChannelBaseline struct {
	ChannelID          string    `db:"channel_id" json:"channel_id"`
	BaselineValue      float64   `db:"baseline_value" json:"baseline_value"`
	Statistic          string    `db:"statistic" json:"statistic"`
	SampleVideoIDsJSON string    `db:"sample_video_ids" json:"-"`
	SampleVideoIDs     []string  `json:"sample_video_ids" db:"-"`
	ComputedAt         time.Time `db:"computed_at" json:"computed_at"`
}

// Neutral reports whether this baseline is the no-data fallback.
func (b *ChannelBaseline) Neutral() bool {
	return b == nil || b.Statistic == StatisticNeutral
}

// SnapshotListOpts controls snapshot listing. AfterID/Limit implement keyset
// pagination; callers must not assume a single round trip.
type SnapshotListOpts struct {
	MinDay       int
	MaxDay       int // inclusive; <=0 means unbounded
	ChannelID    string
	LongFormOnly bool
	AfterID      int64
	Limit        int
}

// VideoListOpts controls video listing.
type VideoListOpts struct {
	ChannelID     string
	UnalertedOnly bool
	Limit         int
}

// Store is the persistence interface.
type Store interface {
	UpsertVideo(ctx context.Context, v *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context, opts VideoListOpts) ([]Video, error)
	MarkViralAlerted(ctx context.Context, videoID string) error
	ListChannelIDs(ctx context.Context) ([]string, error)

	AddSnapshot(ctx context.Context, snap *ViewSnapshot) error
	ListSnapshots(ctx context.Context, opts SnapshotListOpts) ([]ViewSnapshot, error)
	LatestSnapshot(ctx context.Context, videoID string) (*ViewSnapshot, error)

	BeginEnvelopeRun(ctx context.Context, horizonDays int) (int64, error)
	WriteEnvelopeRows(ctx context.Context, runID int64, rows []EnvelopeRow) error
	CompleteEnvelopeRun(ctx context.Context, runID int64) error
	LatestEnvelopeRun(ctx context.Context) (*EnvelopeRun, error)
	GetEnvelopeRows(ctx context.Context, runID int64, fromDay, toDay int) ([]EnvelopeRow, error)
	GetEnvelopeRow(ctx context.Context, runID int64, day int) (*EnvelopeRow, error)

	UpsertBaseline(ctx context.Context, b *ChannelBaseline) error
	GetBaseline(ctx context.Context, channelID string) (*ChannelBaseline, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapWriteErr surfaces contention as the typed throttling error so writers
// can back off instead of failing the run.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", ErrWriteThrottled, err)
	}
	return err
}

func (s *SQLiteStore) UpsertVideo(ctx context.Context, v *Video) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (id, channel_id, title, duration, duration_seconds, is_long_form, viral_alerted, published_at, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			duration = excluded.duration,
			duration_seconds = excluded.duration_seconds,
			is_long_form = excluded.is_long_form,
			collected_at = excluded.collected_at
	`, v.ID, v.ChannelID, v.Title, v.Duration, v.DurationSeconds, v.IsLongForm,
		v.PublishedAt, v.CollectedAt)
	if err != nil {
		return fmt.Errorf("upsert video %s: %w", v.ID, mapWriteErr(err))
	}
	return nil
}

func (s *SQLiteStore) GetVideo(ctx context.Context, id string) (*Video, error) {
	var v Video
	err := s.db.GetContext(ctx, &v, "SELECT * FROM videos WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get video %s: %w", id, err)
	}
	return &v, nil
}

func (s *SQLiteStore) ListVideos(ctx context.Context, opts VideoListOpts) ([]Video, error) {
	query := "SELECT * FROM videos WHERE 1=1"
	var args []any

	if opts.ChannelID != "" {
		query += " AND channel_id = ?"
		args = append(args, opts.ChannelID)
	}
	if opts.UnalertedOnly {
		query += " AND viral_alerted = 0"
	}

	query += " ORDER BY published_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var videos []Video
	if err := s.db.SelectContext(ctx, &videos, query, args...); err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videos, nil
}

func (s *SQLiteStore) MarkViralAlerted(ctx context.Context, videoID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE videos SET viral_alerted = 1 WHERE id = ?", videoID)
	if err != nil {
		return fmt.Errorf("mark viral alerted %s: %w", videoID, mapWriteErr(err))
	}
	return nil
}

func (s *SQLiteStore) ListChannelIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, "SELECT DISTINCT channel_id FROM videos ORDER BY channel_id"); err != nil {
		return nil, fmt.Errorf("list channel ids: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) AddSnapshot(ctx context.Context, snap *ViewSnapshot) error {
	capturedAt := snap.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO view_snapshots (video_id, channel_id, days_since_published, view_count, captured_at)
		VALUES (?, ?, ?, ?, ?)
	`, snap.VideoID, snap.ChannelID, snap.DaysSincePublished, snap.ViewCount, capturedAt)
	if err != nil {
		return fmt.Errorf("add snapshot %s: %w", snap.VideoID, mapWriteErr(err))
	}
	snap.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, opts SnapshotListOpts) ([]ViewSnapshot, error) {
	query := `SELECT sn.* FROM view_snapshots sn`
	if opts.LongFormOnly {
		query += ` JOIN videos v ON v.id = sn.video_id AND v.is_long_form = 1`
	}
	query += ` WHERE sn.days_since_published >= ?`
	args := []any{opts.MinDay}

	if opts.MaxDay > 0 {
		query += " AND sn.days_since_published <= ?"
		args = append(args, opts.MaxDay)
	}
	if opts.ChannelID != "" {
		query += " AND sn.channel_id = ?"
		args = append(args, opts.ChannelID)
	}
	if opts.AfterID > 0 {
		query += " AND sn.id > ?"
		args = append(args, opts.AfterID)
	}

	query += " ORDER BY sn.id"

	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var snaps []ViewSnapshot
	if err := s.db.SelectContext(ctx, &snaps, query, args...); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, videoID string) (*ViewSnapshot, error) {
	var snap ViewSnapshot
	err := s.db.GetContext(ctx, &snap, `
		SELECT * FROM view_snapshots WHERE video_id = ?
		ORDER BY captured_at DESC, id DESC LIMIT 1
	`, videoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for %s: %w", videoID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s: %w", videoID, err)
	}
	return &snap, nil
}

func (s *SQLiteStore) BeginEnvelopeRun(ctx context.Context, horizonDays int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO envelope_runs (horizon_days, started_at) VALUES (?, ?)
	`, horizonDays, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("begin envelope run: %w", mapWriteErr(err))
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) WriteEnvelopeRows(ctx context.Context, runID int64, rows []EnvelopeRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin envelope batch: %w", mapWriteErr(err))
	}
	defer tx.Rollback()

	for i := range rows {
		r := &rows[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO envelope_rows (run_id, day_since_published, p10_views, p25_views, p50_views, p75_views, p90_views, p95_views, sample_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, day_since_published) DO UPDATE SET
				p10_views = excluded.p10_views,
				p25_views = excluded.p25_views,
				p50_views = excluded.p50_views,
				p75_views = excluded.p75_views,
				p90_views = excluded.p90_views,
				p95_views = excluded.p95_views,
				sample_count = excluded.sample_count,
				updated_at = excluded.updated_at
		`, runID, r.Day, r.P10, r.P25, r.P50, r.P75, r.P90, r.P95, r.SampleCount, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("write envelope row day %d: %w", r.Day, mapWriteErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit envelope batch: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQLiteStore) CompleteEnvelopeRun(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE envelope_runs SET completed_at = ? WHERE id = ?",
		time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("complete envelope run %d: %w", runID, mapWriteErr(err))
	}

	// Prune superseded runs so the table holds exactly one completed curve.
	// Older incomplete runs are abandoned writes; their rows go too.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM envelope_rows WHERE run_id IN
			(SELECT id FROM envelope_runs WHERE id != ? AND (completed_at IS NOT NULL OR id < ?))
	`, runID, runID)
	if err != nil {
		return fmt.Errorf("prune envelope rows: %w", mapWriteErr(err))
	}
	_, err = s.db.ExecContext(ctx,
		"DELETE FROM envelope_runs WHERE id != ? AND (completed_at IS NOT NULL OR id < ?)",
		runID, runID)
	if err != nil {
		return fmt.Errorf("prune envelope runs: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQLiteStore) LatestEnvelopeRun(ctx context.Context) (*EnvelopeRun, error) {
	var run EnvelopeRun
	err := s.db.GetContext(ctx, &run, `
		SELECT * FROM envelope_runs WHERE completed_at IS NOT NULL
		ORDER BY id DESC LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCompletedRun
	}
	if err != nil {
		return nil, fmt.Errorf("latest envelope run: %w", err)
	}
	return &run, nil
}

func (s *SQLiteStore) GetEnvelopeRows(ctx context.Context, runID int64, fromDay, toDay int) ([]EnvelopeRow, error) {
	var rows []EnvelopeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM envelope_rows
		WHERE run_id = ? AND day_since_published BETWEEN ? AND ?
		ORDER BY day_since_published
	`, runID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("get envelope rows: %w", err)
	}
	return rows, nil
}

func (s *SQLiteStore) GetEnvelopeRow(ctx context.Context, runID int64, day int) (*EnvelopeRow, error) {
	var row EnvelopeRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM envelope_rows WHERE run_id = ? AND day_since_published = ?
	`, runID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("envelope day %d: %w", day, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get envelope row day %d: %w", day, err)
	}
	return &row, nil
}

func (s *SQLiteStore) UpsertBaseline(ctx context.Context, b *ChannelBaseline) error {
	idsJSON, _ := json.Marshal(b.SampleVideoIDs)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_baselines (channel_id, baseline_value, statistic, sample_video_ids, computed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			baseline_value = excluded.baseline_value,
			statistic = excluded.statistic,
			sample_video_ids = excluded.sample_video_ids,
			computed_at = excluded.computed_at
	`, b.ChannelID, b.BaselineValue, b.Statistic, string(idsJSON), b.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert baseline %s: %w", b.ChannelID, mapWriteErr(err))
	}
	return nil
}

func (s *SQLiteStore) GetBaseline(ctx context.Context, channelID string) (*ChannelBaseline, error) {
	var b ChannelBaseline
	err := s.db.GetContext(ctx, &b, "SELECT * FROM channel_baselines WHERE channel_id = ?", channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("baseline %s: %w", channelID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline %s: %w", channelID, err)
	}
	json.Unmarshal([]byte(b.SampleVideoIDsJSON), &b.SampleVideoIDs)
	return &b, nil
}
