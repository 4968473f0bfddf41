// Package postgres implements the tally stores on Postgres.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS entities (
    entity_id    TEXT PRIMARY KEY,
    published_at TIMESTAMPTZ NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_entities_published_at ON entities (published_at, entity_id);

CREATE TABLE IF NOT EXISTS daily_metrics (
    entity_id                 TEXT NOT NULL,
    date                      DATE NOT NULL,
    views                     BIGINT,
    estimated_minutes_watched BIGINT,
    average_view_duration     DOUBLE PRECISION,
    average_view_percentage   DOUBLE PRECISION,
    likes                     BIGINT,
    dislikes                  BIGINT,
    comments                  BIGINT,
    shares                    BIGINT,
    subscribers_gained        BIGINT,
    subscribers_lost          BIGINT,
    fetched_at                TIMESTAMPTZ NOT NULL,
    updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (entity_id, date)
);
CREATE INDEX IF NOT EXISTS idx_daily_metrics_date ON daily_metrics (date);

CREATE TABLE IF NOT EXISTS backfill_checkpoints (
    job        TEXT PRIMARY KEY,
    date       DATE NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const upsertMetricsSQL = `
INSERT INTO daily_metrics (entity_id, date, views, estimated_minutes_watched,
    average_view_duration, average_view_percentage, likes, dislikes, comments,
    shares, subscribers_gained, subscribers_lost, fetched_at)
VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (entity_id, date) DO UPDATE SET
    views                     = EXCLUDED.views,
    estimated_minutes_watched = EXCLUDED.estimated_minutes_watched,
    average_view_duration     = EXCLUDED.average_view_duration,
    average_view_percentage   = EXCLUDED.average_view_percentage,
    likes                     = EXCLUDED.likes,
    dislikes                  = EXCLUDED.dislikes,
    comments                  = EXCLUDED.comments,
    shares                    = EXCLUDED.shares,
    subscribers_gained        = EXCLUDED.subscribers_gained,
    subscribers_lost          = EXCLUDED.subscribers_lost,
    fetched_at                = EXCLUDED.fetched_at,
    updated_at                = NOW()
`
