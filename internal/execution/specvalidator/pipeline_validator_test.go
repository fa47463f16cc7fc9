package specvalidator

import (
	"strings"
	"testing"

	"github.com/foundry-ml/foundry-go/internal/domain"
)

func validSpec() domain.PipelineSpec {
	return domain.PipelineSpec{
		APIVersion: "foundry/v1",
		Kind:       "Pipeline",
		Metadata:   domain.PipelineMetadata{Name: "demo"},
		Stages: []domain.StageSpec{
			{
				Name:  "preprocess",
				Kind:  domain.StagePreprocessing,
				Tools: []string{"clean_dataset"},
				Gate: domain.GateConfig{Checks: []domain.CheckConfig{
					{Name: "missing_value_ratio", Severity: domain.SeverityBlocking, Threshold: 0.05},
				}},
			},
			{
				Name:  "features",
				Kind:  domain.StageFeatureEngineering,
				Tools: []string{"engineer_features"},
			},
		},
		Dependencies: []domain.Dependency{{From: "preprocess", To: "features"}},
	}
}

func TestValidatePipelineSpecAcceptsValid(t *testing.T) {
	if err := ValidatePipelineSpec(validSpec()); err != nil {
		t.Fatalf("ValidatePipelineSpec()=%v", err)
	}
}

func TestValidatePipelineSpecIssues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*domain.PipelineSpec)
		wantSub string
	}{
		{"missing api version", func(s *domain.PipelineSpec) { s.APIVersion = "" }, "apiVersion is required"},
		{"missing name", func(s *domain.PipelineSpec) { s.Metadata.Name = "" }, "metadata.name is required"},
		{"no stages", func(s *domain.PipelineSpec) { s.Stages = nil }, "at least one stage"},
		{"reserved stage name", func(s *domain.PipelineSpec) { s.Stages[0].Name = "input" }, "reserved"},
		{"duplicate stage name", func(s *domain.PipelineSpec) { s.Stages[1].Name = "preprocess" }, "unique"},
		{"unknown stage kind", func(s *domain.PipelineSpec) { s.Stages[0].Kind = "mystery" }, "kind unsupported"},
		{"empty tool set", func(s *domain.PipelineSpec) { s.Stages[0].Tools = nil }, "tools must be non-empty"},
		{"bad check severity", func(s *domain.PipelineSpec) {
			s.Stages[0].Gate.Checks[0].Severity = "fatal"
		}, "severity unsupported"},
		{"duplicate check name", func(s *domain.PipelineSpec) {
			s.Stages[0].Gate.Checks = append(s.Stages[0].Gate.Checks, s.Stages[0].Gate.Checks[0])
		}, "duplicate"},
		{"negative budget", func(s *domain.PipelineSpec) { s.Stages[0].WallClockBudget = -1 }, "wall clock budget"},
		{"unknown dependency ref", func(s *domain.PipelineSpec) {
			s.Dependencies = append(s.Dependencies, domain.Dependency{From: "ghost", To: "features"})
		}, "unknown stage"},
		{"self dependency", func(s *domain.PipelineSpec) {
			s.Dependencies = append(s.Dependencies, domain.Dependency{From: "features", To: "features"})
		}, "depend on itself"},
		{"bad retry mutation", func(s *domain.PipelineSpec) {
			s.Stages[0].Retry = domain.RetryPolicy{MaxAttempts: 2, Mutations: []domain.ParamMutation{{Param: "x", Op: "divide"}}}
		}, "retry"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec()
			tc.mutate(&spec)
			err := ValidatePipelineSpec(spec)
			if err == nil {
				t.Fatal("invalid spec accepted")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.wantSub)
			}
		})
	}
}

func TestValidationErrorAggregates(t *testing.T) {
	spec := validSpec()
	spec.APIVersion = ""
	spec.Kind = ""
	spec.Metadata.Name = ""
	err := ValidatePipelineSpec(spec)
	if err == nil {
		t.Fatal("invalid spec accepted")
	}
	msg := err.Error()
	for _, want := range []string{"apiVersion", "kind is required", "metadata.name"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("aggregated error %q missing %q", msg, want)
		}
	}
}
