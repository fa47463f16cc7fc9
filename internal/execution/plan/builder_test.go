package plan

import (
	"strings"
	"testing"

	"github.com/foundry-ml/foundry-go/internal/domain"
)

func linearSpec(names ...string) domain.PipelineSpec {
	spec := domain.PipelineSpec{
		APIVersion: "foundry/v1",
		Kind:       "Pipeline",
		Metadata:   domain.PipelineMetadata{Name: "test"},
	}
	kinds := []domain.StageKind{
		domain.StagePreprocessing,
		domain.StageFeatureEngineering,
		domain.StageModelSelection,
		domain.StageHyperparameterTuning,
		domain.StageValidation,
		domain.StageDeploymentPackaging,
	}
	for i, name := range names {
		spec.Stages = append(spec.Stages, domain.StageSpec{
			Name:  name,
			Kind:  kinds[i%len(kinds)],
			Tools: []string{"clean_dataset"},
		})
		if i > 0 {
			spec.Dependencies = append(spec.Dependencies, domain.Dependency{From: names[i-1], To: name})
		}
	}
	return spec
}

func orderNames(t *testing.T, spec domain.PipelineSpec) []string {
	t.Helper()
	ordered, err := StageOrder(spec)
	if err != nil {
		t.Fatalf("StageOrder()=%v", err)
	}
	names := make([]string, 0, len(ordered))
	for _, s := range ordered {
		names = append(names, s.Name)
	}
	return names
}

func TestStageOrderRespectsDependencies(t *testing.T) {
	spec := linearSpec("preprocess", "features", "select", "tune", "validate", "package")
	got := orderNames(t, spec)
	want := []string{"preprocess", "features", "select", "tune", "validate", "package"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("order=%v, want %v", got, want)
	}
}

func TestStageOrderBreaksTiesLexicographically(t *testing.T) {
	// Two independent roots feeding one sink: the roots must come out in
	// name order regardless of declaration order.
	spec := domain.PipelineSpec{
		APIVersion: "foundry/v1",
		Kind:       "Pipeline",
		Metadata:   domain.PipelineMetadata{Name: "diamond"},
		Stages: []domain.StageSpec{
			{Name: "zeta", Kind: domain.StagePreprocessing, Tools: []string{"clean_dataset"}},
			{Name: "alpha", Kind: domain.StagePreprocessing, Tools: []string{"clean_dataset"}},
			{Name: "mid", Kind: domain.StageFeatureEngineering, Tools: []string{"engineer_features"}},
		},
		Dependencies: []domain.Dependency{
			{From: "zeta", To: "mid"},
			{From: "alpha", To: "mid"},
		},
	}
	got := orderNames(t, spec)
	want := []string{"alpha", "zeta", "mid"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("order=%v, want %v", got, want)
	}

	// Equal graphs always order identically.
	for i := 0; i < 10; i++ {
		if again := orderNames(t, spec); strings.Join(again, ",") != strings.Join(got, ",") {
			t.Fatalf("order not stable: %v vs %v", again, got)
		}
	}
}

func TestStageOrderRejectsCycle(t *testing.T) {
	spec := linearSpec("a", "b", "c")
	spec.Dependencies = append(spec.Dependencies, domain.Dependency{From: "c", To: "a"})
	if _, err := StageOrder(spec); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("StageOrder()=%v, want cycle error", err)
	}
}

func TestStageOrderRejectsInvalidSpec(t *testing.T) {
	spec := linearSpec("preprocess")
	spec.Metadata.Name = ""
	if _, err := StageOrder(spec); err == nil {
		t.Fatal("StageOrder accepted spec without a name")
	}
}
