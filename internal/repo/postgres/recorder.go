// Package postgres persists run audit records append-only: one row per run,
// per event, per terminal stage attempt. Inserts use ON CONFLICT DO NOTHING
// so replays never mutate prior history.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Recorder implements repo.Recorder over Postgres.
type Recorder struct {
	db DB
}

func NewRecorder(db DB) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Recorder{db: db}, nil
}

const (
	insertRunQuery = `INSERT INTO pipeline_runs (run_id, spec_name, outcome, started_at, ended_at, input_artifact_id)
	 VALUES ($1,$2,$3,$4,$5,$6)
	 ON CONFLICT (run_id) DO NOTHING`

	updateRunQuery = `UPDATE pipeline_runs
	 SET outcome = $2, ended_at = $3
	 WHERE run_id = $1 AND ended_at IS NULL`

	insertEventQuery = `INSERT INTO run_events (event_id, run_id, seq, stage_name, from_state, to_state, attempt, occurred_at, verdict, note)
	 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	 ON CONFLICT (run_id, seq) DO NOTHING`

	insertAttemptQuery = `INSERT INTO stage_attempts (attempt_id, run_id, stage_name, attempt, state, artifact_id, verdict, error_message, recorded_at)
	 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	 ON CONFLICT (run_id, stage_name, attempt, state) DO NOTHING`

	selectEventsQuery = `SELECT seq, stage_name, from_state, to_state, attempt, occurred_at, verdict, note
	 FROM run_events
	 WHERE run_id = $1
	 ORDER BY seq ASC`
)

func (r *Recorder) RecordRunStart(ctx context.Context, run *domain.PipelineRun) error {
	if r == nil || r.db == nil {
		return errors.New("recorder not initialized")
	}
	if run == nil {
		return errors.New("run is required")
	}
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	_, err := r.db.ExecContext(ctx, insertRunQuery,
		run.ID,
		run.SpecName,
		string(run.Outcome),
		run.StartedAt.UTC(),
		nullableTime(run.EndedAt),
		run.InputArtifactID,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *Recorder) RecordRunEnd(ctx context.Context, run *domain.PipelineRun) error {
	if r == nil || r.db == nil {
		return errors.New("recorder not initialized")
	}
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	_, err := r.db.ExecContext(ctx, updateRunQuery,
		run.ID,
		string(run.Outcome),
		nullableTime(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	return nil
}

func (r *Recorder) RecordEvent(ctx context.Context, runID string, event domain.Event) error {
	if r == nil || r.db == nil {
		return errors.New("recorder not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return errors.New("run id is required")
	}
	if event.Seq < 1 {
		return errors.New("event seq must be >= 1")
	}
	_, err := r.db.ExecContext(ctx, insertEventQuery,
		uuid.NewString(),
		runID,
		event.Seq,
		event.Stage,
		string(event.From),
		string(event.To),
		event.Attempt,
		event.At.UTC(),
		event.Verdict,
		event.Note,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *Recorder) RecordAttempt(ctx context.Context, record repo.StageAttemptRecord) error {
	if r == nil || r.db == nil {
		return errors.New("recorder not initialized")
	}
	if strings.TrimSpace(record.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(record.Stage) == "" {
		return errors.New("stage name is required")
	}
	if record.Attempt < 1 {
		return errors.New("attempt must be >= 1")
	}
	_, err := r.db.ExecContext(ctx, insertAttemptQuery,
		uuid.NewString(),
		record.RunID,
		record.Stage,
		record.Attempt,
		record.State,
		nullableString(record.ArtifactID),
		nullableString(record.Verdict),
		nullableString(record.Error),
		normalizeTime(record.At),
	)
	if err != nil {
		return fmt.Errorf("insert stage attempt: %w", err)
	}
	return nil
}

// ListEvents loads a run's event log in sequence order, for replay and
// audit export.
func (r *Recorder) ListEvents(ctx context.Context, runID string) ([]domain.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("recorder not initialized")
	}
	rows, err := r.db.QueryContext(ctx, selectEventsQuery, strings.TrimSpace(runID))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Event
	for rows.Next() {
		var (
			event   domain.Event
			from    string
			to      string
			verdict sql.NullString
			note    sql.NullString
		)
		if err := rows.Scan(&event.Seq, &event.Stage, &from, &to, &event.Attempt, &event.At, &verdict, &note); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.From = domain.StageState(from)
		event.To = domain.StageState(to)
		event.Verdict = verdict.String
		event.Note = note.String
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
