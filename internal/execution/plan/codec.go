package plan

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foundry-ml/foundry-go/internal/domain"
)

// ParsePipelineSpec decodes a YAML pipeline spec document and validates it.
func ParsePipelineSpec(raw []byte) (domain.PipelineSpec, error) {
	var payload pipelineSpecPayload
	if err := yaml.Unmarshal(raw, &payload); err != nil {
		return domain.PipelineSpec{}, fmt.Errorf("parse pipeline spec: %w", err)
	}
	spec := payload.toDomain()
	if err := ValidateSpec(spec); err != nil {
		return domain.PipelineSpec{}, err
	}
	return spec, nil
}

// MarshalPipelineSpec serializes a pipeline spec back to YAML with stable
// field names.
func MarshalPipelineSpec(spec domain.PipelineSpec) ([]byte, error) {
	return yaml.Marshal(payloadFromDomain(spec))
}

// ValidateSpec runs structural validation plus an ordering pass, so cyclic
// graphs are rejected before a run starts.
func ValidateSpec(spec domain.PipelineSpec) error {
	_, err := StageOrder(spec)
	return err
}

type pipelineSpecPayload struct {
	APIVersion   string              `yaml:"apiVersion"`
	Kind         string              `yaml:"kind"`
	Metadata     metadataPayload     `yaml:"metadata"`
	Stages       []stagePayload      `yaml:"stages"`
	Dependencies []dependencyPayload `yaml:"dependencies"`
}

type metadataPayload struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

type dependencyPayload struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type stagePayload struct {
	Name                   string             `yaml:"name"`
	Kind                   string             `yaml:"kind"`
	Persona                personaPayload     `yaml:"persona,omitempty"`
	Tools                  []string           `yaml:"tools"`
	Params                 map[string]float64 `yaml:"params,omitempty"`
	Gate                   gatePayload        `yaml:"gate,omitempty"`
	Retry                  retryPayload       `yaml:"retry,omitempty"`
	WallClockBudgetSeconds int                `yaml:"wallClockBudgetSeconds,omitempty"`
}

type personaPayload struct {
	Role string `yaml:"role,omitempty"`
	Goal string `yaml:"goal,omitempty"`
}

type gatePayload struct {
	Checks []checkPayload `yaml:"checks,omitempty"`
}

type checkPayload struct {
	Name      string  `yaml:"name"`
	Severity  string  `yaml:"severity"`
	Threshold float64 `yaml:"threshold"`
}

type retryPayload struct {
	MaxAttempts int               `yaml:"maxAttempts,omitempty"`
	Mutations   []mutationPayload `yaml:"mutations,omitempty"`
}

type mutationPayload struct {
	Param string  `yaml:"param"`
	Op    string  `yaml:"op"`
	Value float64 `yaml:"value"`
}

func (p pipelineSpecPayload) toDomain() domain.PipelineSpec {
	spec := domain.PipelineSpec{
		APIVersion: p.APIVersion,
		Kind:       p.Kind,
		Metadata: domain.PipelineMetadata{
			Name:        p.Metadata.Name,
			Description: p.Metadata.Description,
			Labels:      p.Metadata.Labels,
		},
		Stages:       make([]domain.StageSpec, 0, len(p.Stages)),
		Dependencies: make([]domain.Dependency, 0, len(p.Dependencies)),
	}
	for _, stage := range p.Stages {
		checks := make([]domain.CheckConfig, 0, len(stage.Gate.Checks))
		for _, check := range stage.Gate.Checks {
			checks = append(checks, domain.CheckConfig{
				Name:      check.Name,
				Severity:  domain.Severity(check.Severity),
				Threshold: check.Threshold,
			})
		}
		mutations := make([]domain.ParamMutation, 0, len(stage.Retry.Mutations))
		for _, m := range stage.Retry.Mutations {
			mutations = append(mutations, domain.ParamMutation{
				Param: m.Param,
				Op:    domain.MutationOp(m.Op),
				Value: m.Value,
			})
		}
		spec.Stages = append(spec.Stages, domain.StageSpec{
			Name:            stage.Name,
			Kind:            domain.StageKind(stage.Kind),
			Persona:         domain.Persona{Role: stage.Persona.Role, Goal: stage.Persona.Goal},
			Tools:           stage.Tools,
			Params:          stage.Params,
			Gate:            domain.GateConfig{Checks: checks},
			Retry:           domain.RetryPolicy{MaxAttempts: stage.Retry.MaxAttempts, Mutations: mutations},
			WallClockBudget: time.Duration(stage.WallClockBudgetSeconds) * time.Second,
		})
	}
	for _, dep := range p.Dependencies {
		spec.Dependencies = append(spec.Dependencies, domain.Dependency{From: dep.From, To: dep.To})
	}
	return spec
}

func payloadFromDomain(spec domain.PipelineSpec) pipelineSpecPayload {
	payload := pipelineSpecPayload{
		APIVersion: spec.APIVersion,
		Kind:       spec.Kind,
		Metadata: metadataPayload{
			Name:        spec.Metadata.Name,
			Description: spec.Metadata.Description,
			Labels:      spec.Metadata.Labels,
		},
		Stages:       make([]stagePayload, 0, len(spec.Stages)),
		Dependencies: make([]dependencyPayload, 0, len(spec.Dependencies)),
	}
	for _, stage := range spec.Stages {
		checks := make([]checkPayload, 0, len(stage.Gate.Checks))
		for _, check := range stage.Gate.Checks {
			checks = append(checks, checkPayload{
				Name:      check.Name,
				Severity:  string(check.Severity),
				Threshold: check.Threshold,
			})
		}
		mutations := make([]mutationPayload, 0, len(stage.Retry.Mutations))
		for _, m := range stage.Retry.Mutations {
			mutations = append(mutations, mutationPayload{Param: m.Param, Op: string(m.Op), Value: m.Value})
		}
		payload.Stages = append(payload.Stages, stagePayload{
			Name:                   stage.Name,
			Kind:                   string(stage.Kind),
			Persona:                personaPayload{Role: stage.Persona.Role, Goal: stage.Persona.Goal},
			Tools:                  stage.Tools,
			Params:                 stage.Params,
			Gate:                   gatePayload{Checks: checks},
			Retry:                  retryPayload{MaxAttempts: stage.Retry.MaxAttempts, Mutations: mutations},
			WallClockBudgetSeconds: int(stage.WallClockBudget / time.Second),
		})
	}
	for _, dep := range spec.Dependencies {
		payload.Dependencies = append(payload.Dependencies, dependencyPayload{From: dep.From, To: dep.To})
	}
	return payload
}
