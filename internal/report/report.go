// Package report renders a terminal pipeline run into a schema-versioned
// document for human or downstream-automation consumption.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/foundry-ml/foundry-go/internal/domain"
)

const runReportSchemaV1 = "foundry.run_report.v1"

type Report struct {
	Schema          string            `json:"schema"`
	RunID           string            `json:"run_id"`
	Spec            string            `json:"spec"`
	Outcome         string            `json:"outcome"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	InputArtifactID string            `json:"input_artifact_id"`
	Stages          []StageReport     `json:"stages"`
	FinalArtifacts  map[string]string `json:"final_artifacts"`
	Escalation      *EscalationReport `json:"escalation,omitempty"`
	TotalAttempts   int               `json:"total_attempts"`
	TotalRetries    int               `json:"total_retries"`
}

type StageReport struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	State    string          `json:"state"`
	Attempts []AttemptReport `json:"attempts"`
}

type AttemptReport struct {
	Attempt    int                 `json:"attempt"`
	ArtifactID string              `json:"artifact_id,omitempty"`
	Verdict    *domain.GateVerdict `json:"verdict,omitempty"`
	Error      string              `json:"error,omitempty"`
}

type EscalationReport struct {
	Stage    string               `json:"stage"`
	Attempts int                  `json:"attempts"`
	Reason   string               `json:"reason"`
	Verdicts []domain.GateVerdict `json:"verdicts"`
}

// Build assembles the report for a terminal run.
func Build(run *domain.PipelineRun) (Report, error) {
	if run == nil {
		return Report{}, fmt.Errorf("run is required")
	}
	if !run.Outcome.Terminal() {
		return Report{}, fmt.Errorf("run %s is not terminal (outcome %q)", run.ID, string(run.Outcome))
	}

	rep := Report{
		Schema:          runReportSchemaV1,
		RunID:           run.ID,
		Spec:            run.SpecName,
		Outcome:         string(run.Outcome),
		StartedAt:       run.StartedAt,
		EndedAt:         run.EndedAt,
		InputArtifactID: run.InputArtifactID,
		FinalArtifacts:  map[string]string{},
		TotalRetries:    run.TotalRetries(),
	}

	for _, status := range run.Stages {
		stageRep := StageReport{
			Name:  status.Name,
			Kind:  string(status.Kind),
			State: string(status.State),
		}
		for _, rec := range status.History {
			stageRep.Attempts = append(stageRep.Attempts, AttemptReport{
				Attempt:    rec.Attempt,
				ArtifactID: rec.ArtifactID,
				Verdict:    rec.Verdict,
				Error:      rec.Error,
			})
		}
		rep.TotalAttempts += status.Attempts
		if status.State == domain.StageStatePassed {
			if id := status.LastArtifactID(); id != "" {
				rep.FinalArtifacts[status.Name] = id
			}
		}
		rep.Stages = append(rep.Stages, stageRep)
	}

	if run.Escalation != nil {
		rep.Escalation = &EscalationReport{
			Stage:    run.Escalation.Stage,
			Attempts: run.Escalation.Attempts,
			Reason:   run.Escalation.Reason,
			Verdicts: run.Escalation.Verdicts,
		}
	}
	return rep, nil
}

// Encode serializes the report with stable field order.
func Encode(rep Report) ([]byte, error) {
	return json.MarshalIndent(rep, "", "  ")
}
