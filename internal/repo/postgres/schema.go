package postgres

import (
	"context"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
    run_id            TEXT PRIMARY KEY,
    spec_name         TEXT NOT NULL,
    outcome           TEXT NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    ended_at          TIMESTAMPTZ,
    input_artifact_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_events (
    event_id    UUID PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES pipeline_runs(run_id),
    seq         INTEGER NOT NULL,
    stage_name  TEXT NOT NULL DEFAULT '',
    from_state  TEXT NOT NULL,
    to_state    TEXT NOT NULL,
    attempt     INTEGER NOT NULL DEFAULT 0,
    occurred_at TIMESTAMPTZ NOT NULL,
    verdict     TEXT,
    note        TEXT,
    UNIQUE (run_id, seq)
);

CREATE TABLE IF NOT EXISTS stage_attempts (
    attempt_id    UUID PRIMARY KEY,
    run_id        TEXT NOT NULL REFERENCES pipeline_runs(run_id),
    stage_name    TEXT NOT NULL,
    attempt       INTEGER NOT NULL,
    state         TEXT NOT NULL,
    artifact_id   TEXT,
    verdict       TEXT,
    error_message TEXT,
    recorded_at   TIMESTAMPTZ NOT NULL,
    UNIQUE (run_id, stage_name, attempt, state)
);

CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_stage_attempts_run ON stage_attempts(run_id, stage_name);
`

// EnsureSchema creates the audit tables if they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
