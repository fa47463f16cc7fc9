package domain

import (
	"sort"
	"strings"
	"time"
)

// InputStageName is the reserved pseudo-stage under which a run's input
// artifact is stored. Stages without declared predecessors read from it.
const InputStageName = "input"

// PipelineSpec is a reusable, immutable execution template for pipeline runs.
type PipelineSpec struct {
	APIVersion   string
	Kind         string
	Metadata     PipelineMetadata
	Stages       []StageSpec
	Dependencies []Dependency
}

type PipelineMetadata struct {
	Name        string
	Description string
	Labels      map[string]string
}

// Dependency declares that stage To consumes the gated artifact of stage From.
type Dependency struct {
	From string
	To   string
}

// Persona is the natural-language role/goal prose attached to a stage. It is
// inert configuration carried for presentation; execution never reads it.
type Persona struct {
	Role string
	Goal string
}

// CheckConfig configures one quality check in a stage's gate battery.
type CheckConfig struct {
	Name      string
	Severity  Severity
	Threshold float64
}

// GateConfig is the ordered check battery applied to a stage's output.
type GateConfig struct {
	Checks []CheckConfig
}

// StageSpec declares one pipeline stage: its executor variant, the tools it
// may call, its tunable parameters, gate thresholds, and retry policy.
type StageSpec struct {
	Name            string
	Kind            StageKind
	Persona         Persona
	Tools           []string
	Params          map[string]float64
	Gate            GateConfig
	Retry           RetryPolicy
	WallClockBudget time.Duration
}

// AllowsTool reports whether the stage's tool allow-list contains name.
func (s StageSpec) AllowsTool(name string) bool {
	name = strings.TrimSpace(name)
	for _, t := range s.Tools {
		if strings.TrimSpace(t) == name {
			return true
		}
	}
	return false
}

// Param returns the named stage parameter, or def when absent.
func (s StageSpec) Param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// StageNameSet returns the set of stage names declared in the spec.
func (p PipelineSpec) StageNameSet() map[string]struct{} {
	names := make(map[string]struct{}, len(p.Stages))
	for _, stage := range p.Stages {
		if strings.TrimSpace(stage.Name) == "" {
			continue
		}
		names[stage.Name] = struct{}{}
	}
	return names
}

// StageByName returns the named stage spec.
func (p PipelineSpec) StageByName(name string) (StageSpec, bool) {
	for _, stage := range p.Stages {
		if stage.Name == name {
			return stage, true
		}
	}
	return StageSpec{}, false
}

// Predecessors returns the sorted predecessor stage names of name. Stages
// with no declared predecessors read the run input, reported as InputStageName.
func (p PipelineSpec) Predecessors(name string) []string {
	var preds []string
	for _, dep := range p.Dependencies {
		if dep.To == name {
			preds = append(preds, dep.From)
		}
	}
	if len(preds) == 0 {
		return []string{InputStageName}
	}
	sort.Strings(preds)
	return preds
}

// DependencyEdges returns the dependency edges as declared.
func (p PipelineSpec) DependencyEdges() []Dependency {
	return p.Dependencies
}
