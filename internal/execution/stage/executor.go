// Package stage contains the built-in stage executors. Each executor is a
// thin adapter between artifact payloads and tool schemas: it selects tools,
// maps fields, and aggregates results. The numeric work lives behind the
// tool registry.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/tool"
)

// Well-known tool names the built-in executors invoke. A stage's tool
// allow-list must include the names its executor needs.
const (
	ToolCleanDataset      = "clean_dataset"
	ToolEngineerFeatures  = "engineer_features"
	ToolProposeCandidates = "propose_candidates"
	ToolScoreCandidate    = "score_candidate"
	ToolTuneCandidate     = "tune_candidate"
	ToolValidateModel     = "validate_model"
	ToolPackageModel      = "package_model"
)

// ParamParallelWorkers bounds a stage's internal fan-out.
const ParamParallelWorkers = "parallel_workers"

const defaultWorkers = 4

// ContractError reports an artifact or configuration that does not match
// what the stage declares. Contract errors are fatal to the attempt and are
// never retried.
type ContractError struct {
	Stage  string
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("stage %q: contract violation: %s", e.Stage, e.Reason)
}

// ToolError wraps a failure raised by an invoked tool. Tool errors are
// retried under the stage's retry policy.
type ToolError struct {
	Stage string
	Tool  string
	Err   error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("stage %q: tool %q failed: %v", e.Stage, e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Executor is one polymorphic pipeline stage: it consumes predecessor
// artifacts plus its tool subset and produces one payload document.
type Executor interface {
	Kind() domain.StageKind
	Execute(ctx context.Context, spec domain.StageSpec, attempt int, inputs map[string]domain.Artifact, reg *tool.Registry) (json.RawMessage, error)
}

// Builtins returns the six built-in executors keyed by stage kind.
func Builtins() map[domain.StageKind]Executor {
	return map[domain.StageKind]Executor{
		domain.StagePreprocessing:        &Preprocessing{},
		domain.StageFeatureEngineering:   &FeatureEngineering{},
		domain.StageModelSelection:       &ModelSelection{},
		domain.StageHyperparameterTuning: &HyperparameterTuning{},
		domain.StageValidation:           &Validation{},
		domain.StageDeploymentPackaging:  NewDeploymentPackaging(),
	}
}

// invoke dispatches one tool call, enforcing the stage's tool allow-list.
// Schema and unknown-tool errors pass through untouched so the orchestrator
// can treat them as fatal; anything else the tool raised becomes a ToolError.
func invoke(ctx context.Context, spec domain.StageSpec, reg *tool.Registry, name string, args tool.Args) (tool.Values, error) {
	if !spec.AllowsTool(name) {
		return nil, &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("tool %q not in stage tool set", name)}
	}
	values, err := reg.Invoke(ctx, name, args)
	if err != nil {
		var schemaErr *tool.SchemaError
		if errors.Is(err, tool.ErrUnknownTool) || errors.As(err, &schemaErr) {
			return nil, err
		}
		return nil, &ToolError{Stage: spec.Name, Tool: name, Err: err}
	}
	return values, nil
}

// inputOfKind finds the single predecessor artifact of the wanted kind.
func inputOfKind(spec domain.StageSpec, inputs map[string]domain.Artifact, kind domain.ArtifactKind) (domain.Artifact, error) {
	var found []domain.Artifact
	for _, artifact := range inputs {
		if artifact.Kind == kind {
			found = append(found, artifact)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return domain.Artifact{}, &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("required input artifact kind %q missing", string(kind))}
	default:
		return domain.Artifact{}, &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("input artifact kind %q is ambiguous (%d provided)", string(kind), len(found))}
	}
}

// optionalInputOfKind finds a predecessor artifact of the wanted kind if one
// was declared.
func optionalInputOfKind(inputs map[string]domain.Artifact, kind domain.ArtifactKind) (domain.Artifact, bool) {
	for _, artifact := range inputs {
		if artifact.Kind == kind {
			return artifact, true
		}
	}
	return domain.Artifact{}, false
}

// toolArgs builds the base argument map from stage params, then overlays the
// given fixed fields.
func toolArgs(spec domain.StageSpec, fixed tool.Args) tool.Args {
	args := tool.Args{}
	for name, value := range spec.Params {
		if name == ParamParallelWorkers {
			continue
		}
		args[name] = value
	}
	for name, value := range fixed {
		args[name] = value
	}
	return args
}

// decodeObject converts a structured tool output value into out via JSON.
func decodeObject(spec domain.StageSpec, toolName string, values tool.Values, field string, out any) error {
	v, ok := values[field]
	if !ok {
		return &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("tool %q output missing field %q", toolName, field)}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("tool %q output field %q not decodable: %v", toolName, field, err)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("tool %q output field %q not decodable: %v", toolName, field, err)}
	}
	return nil
}

// requireNumber extracts a numeric tool output field.
func requireNumber(spec domain.StageSpec, toolName string, values tool.Values, field string) (float64, error) {
	n, ok := values.Number(field)
	if !ok {
		return 0, &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("tool %q output missing numeric field %q", toolName, field)}
	}
	return n, nil
}

// requireString extracts a string tool output field.
func requireString(spec domain.StageSpec, toolName string, values tool.Values, field string) (string, error) {
	s, ok := values.String(field)
	if !ok || s == "" {
		return "", &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("tool %q output missing field %q", toolName, field)}
	}
	return s, nil
}

func workerCount(spec domain.StageSpec) int {
	n := int(spec.Param(ParamParallelWorkers, defaultWorkers))
	if n < 1 {
		n = 1
	}
	return n
}
