package specvalidator

import (
	"fmt"
	"strings"

	"github.com/foundry-ml/foundry-go/internal/domain"
)

// ValidatePipelineSpec performs structural and referential checks on a
// pipeline spec. Cycle detection is left to the plan builder, which rejects
// graphs it cannot order.
func ValidatePipelineSpec(spec domain.PipelineSpec) error {
	verr := &ValidationError{}

	if strings.TrimSpace(spec.APIVersion) == "" {
		verr.Add("apiVersion is required")
	}
	if strings.TrimSpace(spec.Kind) == "" {
		verr.Add("kind is required")
	}
	if strings.TrimSpace(spec.Metadata.Name) == "" {
		verr.Add("metadata.name is required")
	}
	if len(spec.Stages) == 0 {
		verr.Add("stages must contain at least one stage")
		return verr.OrNil()
	}

	seen := make(map[string]struct{}, len(spec.Stages))
	for i, stage := range spec.Stages {
		name := strings.TrimSpace(stage.Name)
		if name == "" {
			verr.Add(fmt.Sprintf("stages[%d] name is required", i))
			continue
		}
		if name == domain.InputStageName {
			verr.Add(fmt.Sprintf("stages[%d] name %q is reserved", i, domain.InputStageName))
		}
		if _, dup := seen[name]; dup {
			verr.Add(fmt.Sprintf("stages[%d] name must be unique (duplicate %q)", i, name))
		}
		seen[name] = struct{}{}

		if !stage.Kind.Valid() {
			verr.Add(fmt.Sprintf("stages[%d] kind unsupported: %q", i, string(stage.Kind)))
		}
		if len(stage.Tools) == 0 {
			verr.Add(fmt.Sprintf("stages[%d] tools must be non-empty", i))
		}
		validateGate(verr, i, stage.Gate)
		if err := stage.Retry.Validate(); err != nil {
			verr.Add(fmt.Sprintf("stages[%d] retry: %v", i, err))
		}
		if stage.WallClockBudget < 0 {
			verr.Add(fmt.Sprintf("stages[%d] wall clock budget must be >= 0", i))
		}
	}

	names := spec.StageNameSet()
	for i, dep := range spec.Dependencies {
		from := strings.TrimSpace(dep.From)
		to := strings.TrimSpace(dep.To)
		if from == "" || to == "" {
			verr.Add(fmt.Sprintf("dependencies[%d] from and to are required", i))
			continue
		}
		if _, ok := names[from]; !ok {
			verr.Add(fmt.Sprintf("dependencies[%d] from references unknown stage %q", i, from))
		}
		if _, ok := names[to]; !ok {
			verr.Add(fmt.Sprintf("dependencies[%d] to references unknown stage %q", i, to))
		}
		if from == to {
			verr.Add(fmt.Sprintf("dependencies[%d] stage %q cannot depend on itself", i, from))
		}
	}

	return verr.OrNil()
}

func validateGate(verr *ValidationError, stageIdx int, gate domain.GateConfig) {
	seen := make(map[string]struct{}, len(gate.Checks))
	for j, check := range gate.Checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			verr.Add(fmt.Sprintf("stages[%d].gate.checks[%d] name is required", stageIdx, j))
			continue
		}
		if _, dup := seen[name]; dup {
			verr.Add(fmt.Sprintf("stages[%d].gate.checks[%d] name must be unique (duplicate %q)", stageIdx, j, name))
		}
		seen[name] = struct{}{}
		if !check.Severity.Valid() {
			verr.Add(fmt.Sprintf("stages[%d].gate.checks[%d] severity unsupported: %q", stageIdx, j, string(check.Severity)))
		}
	}
}
