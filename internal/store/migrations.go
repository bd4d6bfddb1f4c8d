package store

const schema = `
CREATE TABLE IF NOT EXISTS videos (
    id               TEXT PRIMARY KEY,
    channel_id       TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    duration         TEXT NOT NULL DEFAULT '',
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    is_long_form     BOOLEAN NOT NULL DEFAULT 1,
    viral_alerted    BOOLEAN NOT NULL DEFAULT 0,
    published_at     DATETIME NOT NULL,
    collected_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_videos_channel ON videos(channel_id);
CREATE INDEX IF NOT EXISTS idx_videos_published ON videos(published_at);

CREATE TABLE IF NOT EXISTS view_snapshots (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    video_id             TEXT NOT NULL REFERENCES videos(id),
    channel_id           TEXT NOT NULL,
    days_since_published INTEGER NOT NULL,
    view_count           INTEGER NOT NULL,
    captured_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_video ON view_snapshots(video_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_channel ON view_snapshots(channel_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_day ON view_snapshots(days_since_published);

CREATE TABLE IF NOT EXISTS envelope_runs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    horizon_days INTEGER NOT NULL,
    started_at   DATETIME NOT NULL,
    completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS envelope_rows (
    run_id              INTEGER NOT NULL REFERENCES envelope_runs(id),
    day_since_published INTEGER NOT NULL,
    p10_views           INTEGER NOT NULL,
    p25_views           INTEGER NOT NULL,
    p50_views           INTEGER NOT NULL,
    p75_views           INTEGER NOT NULL,
    p90_views           INTEGER NOT NULL,
    p95_views           INTEGER NOT NULL,
    sample_count        INTEGER NOT NULL DEFAULT 0,
    updated_at          DATETIME NOT NULL,
    PRIMARY KEY (run_id, day_since_published)
);

CREATE TABLE IF NOT EXISTS channel_baselines (
    channel_id       TEXT PRIMARY KEY,
    baseline_value   REAL NOT NULL,
    statistic        TEXT NOT NULL,
    sample_video_ids TEXT NOT NULL DEFAULT '[]',
    computed_at      DATETIME NOT NULL
);
`
