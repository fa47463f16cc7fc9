// Package repo declares the persistence boundary for run audit records. The
// orchestration core writes through Recorder; backends are pluggable and
// best-effort from the run's point of view.
package repo

import (
	"context"
	"time"

	"github.com/foundry-ml/foundry-go/internal/domain"
)

// StageAttemptRecord captures one terminal stage attempt for audit.
type StageAttemptRecord struct {
	RunID      string
	Stage      string
	Attempt    int
	State      string
	ArtifactID string
	Verdict    string
	Error      string
	At         time.Time
}

// Recorder receives run lifecycle records as the orchestrator produces them.
// Records are append-only; a Recorder must never mutate prior entries.
type Recorder interface {
	RecordRunStart(ctx context.Context, run *domain.PipelineRun) error
	RecordEvent(ctx context.Context, runID string, event domain.Event) error
	RecordAttempt(ctx context.Context, record StageAttemptRecord) error
	RecordRunEnd(ctx context.Context, run *domain.PipelineRun) error
}

// NopRecorder discards all records.
type NopRecorder struct{}

func (NopRecorder) RecordRunStart(context.Context, *domain.PipelineRun) error { return nil }
func (NopRecorder) RecordEvent(context.Context, string, domain.Event) error   { return nil }
func (NopRecorder) RecordAttempt(context.Context, StageAttemptRecord) error   { return nil }
func (NopRecorder) RecordRunEnd(context.Context, *domain.PipelineRun) error   { return nil }
