package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StageState is one node of the per-stage state machine.
type StageState string

const (
	StageStatePending   StageState = "pending"
	StageStateRunning   StageState = "running"
	StageStateGating    StageState = "gating"
	StageStatePassed    StageState = "passed"
	StageStateFailed    StageState = "failed"
	StageStateRetrying  StageState = "retrying"
	StageStateEscalated StageState = "escalated"
)

// CanTransitionStage enforces the legal stage state machine edges.
func CanTransitionStage(from, to StageState) bool {
	switch from {
	case StageStatePending:
		return to == StageStateRunning
	case StageStateRunning:
		return to == StageStateGating || to == StageStateFailed
	case StageStateGating:
		return to == StageStatePassed || to == StageStateFailed
	case StageStateFailed:
		return to == StageStateRetrying || to == StageStateEscalated
	case StageStateRetrying:
		return to == StageStateRunning
	default:
		return false
	}
}

// RunOutcome is the overall state of a pipeline run.
type RunOutcome string

const (
	RunOutcomeRunning   RunOutcome = "running"
	RunOutcomeCompleted RunOutcome = "completed"
	RunOutcomeAborted   RunOutcome = "aborted"
	RunOutcomeEscalated RunOutcome = "escalated"
)

// Terminal reports whether the outcome ends the run.
func (o RunOutcome) Terminal() bool {
	return o == RunOutcomeCompleted || o == RunOutcomeAborted || o == RunOutcomeEscalated
}

// QualityCheckResult is the outcome of a single gate check. All results,
// passing ones included, are retained for audit.
type QualityCheckResult struct {
	Name      string   `json:"name"`
	Severity  Severity `json:"severity"`
	Passed    bool     `json:"passed"`
	Message   string   `json:"message,omitempty"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
}

// GateVerdict aggregates a stage's check battery results.
type GateVerdict struct {
	Results []QualityCheckResult `json:"results"`
}

// Passed reports the overall verdict: pass iff no blocking check failed.
func (v GateVerdict) Passed() bool {
	for _, r := range v.Results {
		if r.Severity == SeverityBlocking && !r.Passed {
			return false
		}
	}
	return true
}

// FailingBlocking returns the names of failed blocking checks in order.
func (v GateVerdict) FailingBlocking() []string {
	var names []string
	for _, r := range v.Results {
		if r.Severity == SeverityBlocking && !r.Passed {
			names = append(names, r.Name)
		}
	}
	return names
}

// Summary renders a one-line verdict for event logs.
func (v GateVerdict) Summary() string {
	failing := v.FailingBlocking()
	if len(failing) == 0 {
		return "pass"
	}
	return "fail: " + strings.Join(failing, ", ")
}

// Event is one entry of a run's monotonically appended event log. Events with
// an empty Stage are run-scoped (start, cancellation, completion).
type Event struct {
	Seq     int        `json:"seq"`
	Stage   string     `json:"stage,omitempty"`
	From    StageState `json:"from,omitempty"`
	To      StageState `json:"to,omitempty"`
	Attempt int        `json:"attempt,omitempty"`
	At      time.Time  `json:"at"`
	Verdict string     `json:"verdict,omitempty"`
	Note    string     `json:"note,omitempty"`
}

// StageAttempt is the audit record of one finished attempt. Attempts that
// reached gating carry the stored artifact and its verdict; attempts that
// failed inside the executor carry the error instead.
type StageAttempt struct {
	Attempt    int
	ArtifactID string
	Verdict    *GateVerdict
	Error      string
}

// StageStatus is the live status of one stage within a run.
type StageStatus struct {
	Name      string
	Kind      StageKind
	State     StageState
	Attempts  int
	History   []StageAttempt
	LastError string
}

// GateVerdicts returns the verdicts of attempts that reached gating, oldest
// first.
func (s *StageStatus) GateVerdicts() []GateVerdict {
	var verdicts []GateVerdict
	for _, a := range s.History {
		if a.Verdict != nil {
			verdicts = append(verdicts, *a.Verdict)
		}
	}
	return verdicts
}

// LastArtifactID returns the artifact id of the latest attempt that stored
// one, or "" when no attempt did.
func (s *StageStatus) LastArtifactID() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].ArtifactID != "" {
			return s.History[i].ArtifactID
		}
	}
	return ""
}

// Escalation carries the full diagnostic history surfaced to an external
// decision-maker when a stage exhausts its retries.
type Escalation struct {
	Stage    string
	Attempts int
	Verdicts []GateVerdict
	Reason   string
}

// PipelineRun is one orchestrated execution of a PipelineSpec. After reaching
// a terminal outcome it is retained read-only for audit.
type PipelineRun struct {
	ID              string
	SpecName        string
	InputArtifactID string
	Outcome         RunOutcome
	StartedAt       time.Time
	EndedAt         *time.Time
	Stages          []*StageStatus
	Events          []Event
	Escalation      *Escalation
}

// Stage returns the status record for the named stage.
func (r *PipelineRun) Stage(name string) *StageStatus {
	for _, s := range r.Stages {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AppendEvent appends an event with the next sequence number and returns it.
// The log is append-only; sequence numbers form a total order.
func (r *PipelineRun) AppendEvent(e Event) Event {
	e.Seq = len(r.Events) + 1
	r.Events = append(r.Events, e)
	return e
}

// TotalRetries counts attempts beyond the first across all stages.
func (r *PipelineRun) TotalRetries() int {
	total := 0
	for _, s := range r.Stages {
		if s.Attempts > 1 {
			total += s.Attempts - 1
		}
	}
	return total
}

func (r *PipelineRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.SpecName) == "" {
		return errors.New("spec name is required")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started at is required")
	}
	for i, e := range r.Events {
		if e.Seq != i+1 {
			return fmt.Errorf("event log out of order at index %d", i)
		}
	}
	return nil
}

// ReplayStageStates folds the event log back into per-stage states. Given the
// same spec, input, and tool outputs, a replayed log reconstructs the exact
// statuses the orchestrator produced.
func ReplayStageStates(events []Event) map[string]StageState {
	states := make(map[string]StageState)
	for _, e := range events {
		if strings.TrimSpace(e.Stage) == "" || e.To == "" {
			continue
		}
		states[e.Stage] = e.To
	}
	return states
}
