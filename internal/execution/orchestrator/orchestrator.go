// Package orchestrator drives a pipeline run through its stage state
// machine: topological dispatch, gating, retry with configuration mutation,
// and escalation when retries are exhausted.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/foundry-ml/foundry-go/internal/artifacts"
	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/execution/plan"
	"github.com/foundry-ml/foundry-go/internal/execution/stage"
	"github.com/foundry-ml/foundry-go/internal/gate"
	"github.com/foundry-ml/foundry-go/internal/repo"
	"github.com/foundry-ml/foundry-go/internal/tool"
)

// Input is the raw artifact a run starts from.
type Input struct {
	Kind    domain.ArtifactKind
	Payload []byte
}

// Orchestrator executes pipeline runs. One instance serves one run at a
// time per Run call; instances hold no per-run state and may be reused.
type Orchestrator struct {
	store     artifacts.Store
	tools     *tool.Registry
	executors map[domain.StageKind]stage.Executor
	recorder  repo.Recorder
	logger    *slog.Logger
	now       func() time.Time
	newRunID  func() string
}

type Option func(*Orchestrator)

// WithExecutors replaces the built-in executor set.
func WithExecutors(executors map[domain.StageKind]stage.Executor) Option {
	return func(o *Orchestrator) { o.executors = executors }
}

// WithRecorder attaches an audit recorder.
func WithRecorder(recorder repo.Recorder) Option {
	return func(o *Orchestrator) {
		if recorder != nil {
			o.recorder = recorder
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunIDSource overrides run id generation. With a fixed source and
// deterministic tools, reruns reproduce identical artifacts byte for byte.
func WithRunIDSource(newRunID func() string) Option {
	return func(o *Orchestrator) {
		if newRunID != nil {
			o.newRunID = newRunID
		}
	}
}

func New(store artifacts.Store, tools *tool.Registry, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if tools == nil {
		return nil, errors.New("tool registry is required")
	}
	o := &Orchestrator{
		store:     store,
		tools:     tools,
		executors: stage.Builtins(),
		recorder:  repo.NopRecorder{},
		logger:    slog.Default(),
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run drives one pipeline run to a terminal outcome. The returned run is
// non-nil whenever execution started; err is non-nil only for invalid specs,
// fatal contract/config errors, infrastructure failures, or cancellation.
// Gate escalation is a terminal outcome, not an error.
func (o *Orchestrator) Run(ctx context.Context, spec domain.PipelineSpec, input Input) (*domain.PipelineRun, error) {
	ordered, err := plan.StageOrder(spec)
	if err != nil {
		return nil, err
	}
	if len(input.Payload) == 0 {
		return nil, errors.New("input payload is required")
	}
	if !input.Kind.Valid() {
		return nil, fmt.Errorf("input artifact kind unsupported: %q", string(input.Kind))
	}

	run := &domain.PipelineRun{
		ID:        o.newRunID(),
		SpecName:  spec.Metadata.Name,
		Outcome:   domain.RunOutcomeRunning,
		StartedAt: o.now().UTC(),
	}
	for _, st := range ordered {
		run.Stages = append(run.Stages, &domain.StageStatus{
			Name:  st.Name,
			Kind:  st.Kind,
			State: domain.StageStatePending,
		})
	}

	inputArtifact, err := o.store.Put(ctx, artifacts.PutRequest{
		RunID:   run.ID,
		Stage:   domain.InputStageName,
		Attempt: 1,
		Kind:    input.Kind,
		Payload: input.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("store input artifact: %w", err)
	}
	run.InputArtifactID = inputArtifact.ID

	o.appendRunEvent(ctx, run, "run started")
	o.record(ctx, run, func(r repo.Recorder) error { return r.RecordRunStart(ctx, run) })
	o.logger.Info("pipeline run started", "run_id", run.ID, "spec", run.SpecName, "stages", len(ordered))

	passed := map[string]domain.Artifact{domain.InputStageName: inputArtifact}

	for _, stageSpec := range ordered {
		if ctx.Err() != nil {
			return o.abort(ctx, run, "run cancelled between stages", ctx.Err())
		}

		inputs, cerr := o.collectInputs(spec, stageSpec, passed)
		if cerr != nil {
			return o.abort(ctx, run, cerr.Error(), cerr)
		}

		artifact, serr := o.runStage(ctx, run, stageSpec, inputs)
		if serr != nil {
			switch {
			case errors.Is(serr, errEscalated):
				run.Outcome = domain.RunOutcomeEscalated
				o.finish(ctx, run, "run escalated")
				return run, nil
			default:
				return o.abort(ctx, run, serr.Error(), serr)
			}
		}
		passed[stageSpec.Name] = artifact
	}

	run.Outcome = domain.RunOutcomeCompleted
	o.finish(ctx, run, "run completed")
	return run, nil
}

// errEscalated signals that a stage exhausted its retries and the run needs
// an external decision.
var errEscalated = errors.New("stage escalated")

func (o *Orchestrator) collectInputs(spec domain.PipelineSpec, stageSpec domain.StageSpec, passed map[string]domain.Artifact) (map[string]domain.Artifact, error) {
	inputs := make(map[string]domain.Artifact)
	for _, pred := range spec.Predecessors(stageSpec.Name) {
		artifact, ok := passed[pred]
		if !ok {
			return nil, fmt.Errorf("stage %q: predecessor %q has no gated artifact", stageSpec.Name, pred)
		}
		inputs[pred] = artifact
	}
	return inputs, nil
}

func (o *Orchestrator) runStage(ctx context.Context, run *domain.PipelineRun, stageSpec domain.StageSpec, inputs map[string]domain.Artifact) (domain.Artifact, error) {
	executor, ok := o.executors[stageSpec.Kind]
	if !ok {
		return domain.Artifact{}, fmt.Errorf("stage %q: no executor for kind %q", stageSpec.Name, string(stageSpec.Kind))
	}
	outputKind, err := stageSpec.Kind.OutputKind()
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("stage %q: %w", stageSpec.Name, err)
	}

	status := run.Stage(stageSpec.Name)
	cur := stageSpec
	maxAttempts := stageSpec.Retry.Attempts()

	parents := make([]string, 0, len(inputs))
	for _, artifact := range inputs {
		parents = append(parents, artifact.ID)
	}
	sort.Strings(parents)

	for attempt := 1; ; attempt++ {
		status.Attempts = attempt
		if err := o.transition(ctx, run, status, domain.StageStateRunning, attempt, "", ""); err != nil {
			return domain.Artifact{}, err
		}

		payload, execErr := o.executeAttempt(ctx, cur, executor, attempt, inputs)
		if execErr != nil {
			kind, note := o.classify(ctx, cur, execErr)
			status.LastError = execErr.Error()
			status.History = append(status.History, domain.StageAttempt{Attempt: attempt, Error: execErr.Error()})
			if err := o.transition(ctx, run, status, domain.StageStateFailed, attempt, "", note); err != nil {
				return domain.Artifact{}, err
			}
			o.record(ctx, run, func(r repo.Recorder) error {
				return r.RecordAttempt(ctx, repo.StageAttemptRecord{
					RunID: run.ID, Stage: cur.Name, Attempt: attempt,
					State: string(domain.StageStateFailed), Error: execErr.Error(), At: o.now().UTC(),
				})
			})
			switch kind {
			case attemptFatal:
				return domain.Artifact{}, execErr
			case attemptCancelled:
				return domain.Artifact{}, execErr
			case attemptRetryable:
				// Budget overruns count as gate failures, so they mutate the
				// configuration like one; plain tool failures retry as-is.
				mutate := errors.Is(execErr, context.DeadlineExceeded)
				if done, err := o.retryOrEscalate(ctx, run, status, &cur, attempt, maxAttempts, mutate, note); done || err != nil {
					if err != nil {
						return domain.Artifact{}, err
					}
					return domain.Artifact{}, errEscalated
				}
				continue
			}
		}

		if err := o.transition(ctx, run, status, domain.StageStateGating, attempt, "", ""); err != nil {
			return domain.Artifact{}, err
		}
		artifact, perr := o.store.Put(ctx, artifacts.PutRequest{
			RunID:   run.ID,
			Stage:   cur.Name,
			Attempt: attempt,
			Kind:    outputKind,
			Payload: payload,
			Parents: parents,
		})
		if perr != nil {
			return domain.Artifact{}, fmt.Errorf("stage %q: store artifact: %w", cur.Name, perr)
		}
		verdict := gate.Evaluate(cur, artifact)
		status.History = append(status.History, domain.StageAttempt{
			Attempt:    attempt,
			ArtifactID: artifact.ID,
			Verdict:    &verdict,
		})
		o.record(ctx, run, func(r repo.Recorder) error {
			return r.RecordAttempt(ctx, repo.StageAttemptRecord{
				RunID: run.ID, Stage: cur.Name, Attempt: attempt,
				State: verdictState(verdict), ArtifactID: artifact.ID,
				Verdict: verdict.Summary(), At: o.now().UTC(),
			})
		})

		if verdict.Passed() {
			if err := o.transition(ctx, run, status, domain.StageStatePassed, attempt, verdict.Summary(), ""); err != nil {
				return domain.Artifact{}, err
			}
			o.logger.Info("stage passed", "run_id", run.ID, "stage", cur.Name, "attempt", attempt)
			return artifact, nil
		}

		if err := o.transition(ctx, run, status, domain.StageStateFailed, attempt, verdict.Summary(), ""); err != nil {
			return domain.Artifact{}, err
		}
		o.logger.Warn("stage gate failed", "run_id", run.ID, "stage", cur.Name, "attempt", attempt, "verdict", verdict.Summary())
		if done, err := o.retryOrEscalate(ctx, run, status, &cur, attempt, maxAttempts, true, verdict.Summary()); done || err != nil {
			if err != nil {
				return domain.Artifact{}, err
			}
			return domain.Artifact{}, errEscalated
		}
	}
}

// executeAttempt invokes the executor under the stage's wall-clock budget.
func (o *Orchestrator) executeAttempt(ctx context.Context, spec domain.StageSpec, executor stage.Executor, attempt int, inputs map[string]domain.Artifact) ([]byte, error) {
	execCtx := ctx
	if spec.WallClockBudget > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, spec.WallClockBudget)
		defer cancel()
	}
	return executor.Execute(execCtx, spec, attempt, inputs, o.tools)
}

type attemptOutcome int

const (
	attemptFatal attemptOutcome = iota
	attemptRetryable
	attemptCancelled
)

// classify sorts an attempt failure into the error taxonomy: cancellations
// abort the run, budget overruns and tool failures are retryable, and
// contract/schema/unknown-tool errors are fatal without consuming retries.
func (o *Orchestrator) classify(ctx context.Context, spec domain.StageSpec, err error) (attemptOutcome, string) {
	if ctx.Err() != nil {
		return attemptCancelled, "run cancelled"
	}
	if spec.WallClockBudget > 0 && errors.Is(err, context.DeadlineExceeded) {
		return attemptRetryable, fmt.Sprintf("wall-clock budget %s exceeded", spec.WallClockBudget)
	}
	var toolErr *stage.ToolError
	if errors.As(err, &toolErr) {
		return attemptRetryable, err.Error()
	}
	return attemptFatal, err.Error()
}

// retryOrEscalate applies the retry policy after a failed attempt. It
// returns done=true when the stage escalated. Gate and budget failures
// mutate the stage configuration for the next attempt; tool failures retry
// the same configuration.
func (o *Orchestrator) retryOrEscalate(ctx context.Context, run *domain.PipelineRun, status *domain.StageStatus, cur *domain.StageSpec, attempt, maxAttempts int, mutate bool, note string) (bool, error) {
	if attempt < maxAttempts {
		if err := o.transition(ctx, run, status, domain.StageStateRetrying, attempt, "", note); err != nil {
			return false, err
		}
		if mutate {
			*cur = cur.Retry.MutateStage(*cur)
		}
		return false, nil
	}

	if err := o.transition(ctx, run, status, domain.StageStateEscalated, attempt, "", note); err != nil {
		return false, err
	}
	run.Escalation = &domain.Escalation{
		Stage:    status.Name,
		Attempts: attempt,
		Verdicts: status.GateVerdicts(),
		Reason:   note,
	}
	o.logger.Error("stage escalated", "run_id", run.ID, "stage", status.Name, "attempts", attempt, "reason", note)
	return true, nil
}

func (o *Orchestrator) transition(ctx context.Context, run *domain.PipelineRun, status *domain.StageStatus, to domain.StageState, attempt int, verdict, note string) error {
	from := status.State
	if !domain.CanTransitionStage(from, to) {
		return fmt.Errorf("stage %q: illegal transition %s -> %s", status.Name, from, to)
	}
	status.State = to
	event := run.AppendEvent(domain.Event{
		Stage:   status.Name,
		From:    from,
		To:      to,
		Attempt: attempt,
		At:      o.now().UTC(),
		Verdict: verdict,
		Note:    note,
	})
	o.record(ctx, run, func(r repo.Recorder) error { return r.RecordEvent(ctx, run.ID, event) })
	return nil
}

func (o *Orchestrator) appendRunEvent(ctx context.Context, run *domain.PipelineRun, note string) {
	event := run.AppendEvent(domain.Event{At: o.now().UTC(), Note: note})
	o.record(ctx, run, func(r repo.Recorder) error { return r.RecordEvent(ctx, run.ID, event) })
}

func (o *Orchestrator) abort(ctx context.Context, run *domain.PipelineRun, note string, cause error) (*domain.PipelineRun, error) {
	run.Outcome = domain.RunOutcomeAborted
	o.finish(ctx, run, note)
	o.logger.Error("pipeline run aborted", "run_id", run.ID, "reason", note)
	return run, cause
}

func (o *Orchestrator) finish(ctx context.Context, run *domain.PipelineRun, note string) {
	ended := o.now().UTC()
	run.EndedAt = &ended
	o.appendRunEvent(ctx, run, note)
	o.record(ctx, run, func(r repo.Recorder) error { return r.RecordRunEnd(ctx, run) })
	o.logger.Info("pipeline run finished", "run_id", run.ID, "outcome", string(run.Outcome))
}

// record forwards to the audit recorder. Recording is best-effort: a failed
// ledger write is logged, not turned into a run failure.
func (o *Orchestrator) record(ctx context.Context, run *domain.PipelineRun, fn func(repo.Recorder) error) {
	if err := fn(o.recorder); err != nil {
		o.logger.Warn("audit record failed", "run_id", run.ID, "error", err)
	}
}

func verdictState(verdict domain.GateVerdict) string {
	if verdict.Passed() {
		return string(domain.StageStatePassed)
	}
	return string(domain.StageStateFailed)
}
