package stage

import (
	"context"
	"testing"
	"time"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/tool"
)

func packagingRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	mustRegister(t, reg, tool.Spec{
		Name:   ToolPackageModel,
		Input:  tool.Schema{{Name: "model", Type: tool.TypeModel, Required: true}},
		Output: tool.Schema{{Name: "package", Type: tool.TypeString, Required: true}},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			model, _ := args["model"].(string)
			return tool.Values{"package": model + ".bundle"}, nil
		},
	})
	return reg
}

func packagingInputs(t *testing.T) map[string]domain.Artifact {
	t.Helper()
	return map[string]domain.Artifact{
		"validate": {
			ID:     "run-1/validate/1",
			Kind:   domain.KindValidationReport,
			SHA256: "sum-validate",
			Payload: mustEncode(t, domain.ValidationReport{
				Schema:      domain.SchemaValidationReport,
				ModelRef:    "m-03",
				CandidateID: "cand-03",
				Metrics:     map[string]float64{"accuracy": 0.86},
			}),
		},
		"features": {
			ID:     "run-1/features/1",
			Kind:   domain.KindFeatureSet,
			SHA256: "sum-features",
			Payload: mustEncode(t, domain.FeatureSet{
				Schema:   domain.SchemaFeatureSet,
				DataRef:  "feat-1",
				Features: []string{"age", "tenure", "usage"},
			}),
		},
	}
}

func TestDeploymentPackagingAssemblesLineage(t *testing.T) {
	reg := packagingRegistry(t)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	executor := NewDeploymentPackaging().WithClock(func() time.Time { return at })

	spec := domain.StageSpec{
		Name:  "package",
		Kind:  domain.StageDeploymentPackaging,
		Tools: []string{ToolPackageModel},
	}
	payload, err := executor.Execute(context.Background(), spec, 1, packagingInputs(t), reg)
	if err != nil {
		t.Fatalf("Execute()=%v", err)
	}
	doc, err := domain.DecodeDeploymentPackage(payload)
	if err != nil {
		t.Fatalf("DecodeDeploymentPackage()=%v", err)
	}
	if doc.ModelRef != "m-03.bundle" {
		t.Fatalf("model ref=%q", doc.ModelRef)
	}
	if len(doc.Features) != 3 || doc.Features[0] != "age" {
		t.Fatalf("features=%v", doc.Features)
	}
	// Lineage is ordered by artifact id with hashes aligned index-for-index.
	if len(doc.LineageIDs) != 2 || doc.LineageIDs[0] != "run-1/features/1" || doc.LineageIDs[1] != "run-1/validate/1" {
		t.Fatalf("lineage ids=%v", doc.LineageIDs)
	}
	if doc.LineageSHA256[0] != "sum-features" || doc.LineageSHA256[1] != "sum-validate" {
		t.Fatalf("lineage sums=%v", doc.LineageSHA256)
	}
	if doc.Metrics["accuracy"] != 0.86 {
		t.Fatalf("metrics=%v", doc.Metrics)
	}
	if !doc.CreatedAt.Equal(at) {
		t.Fatalf("created at=%s", doc.CreatedAt)
	}

	// Fixed clock and equal inputs reproduce the package byte for byte.
	again, err := executor.Execute(context.Background(), spec, 1, packagingInputs(t), reg)
	if err != nil {
		t.Fatalf("Execute()=%v", err)
	}
	if string(again) != string(payload) {
		t.Fatalf("package bytes differ:\n%s\n%s", payload, again)
	}
}

func TestValidationMapsReport(t *testing.T) {
	reg := tool.NewRegistry()
	mustRegister(t, reg, tool.Spec{
		Name:  ToolValidateModel,
		Input: tool.Schema{{Name: "model", Type: tool.TypeModel, Required: true}},
		Output: tool.Schema{
			{Name: "metrics", Type: tool.TypeObject, Required: true},
			{Name: "train_test_gap", Type: tool.TypeNumber, Required: true},
			{Name: "baseline_delta", Type: tool.TypeNumber, Required: true},
			{Name: "prediction_skew", Type: tool.TypeNumber, Required: true},
		},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			return tool.Values{
				"metrics":         map[string]any{"accuracy": 0.86},
				"train_test_gap":  0.04,
				"baseline_delta":  0.05,
				"prediction_skew": -0.02,
			}, nil
		},
	})

	inputs := map[string]domain.Artifact{
		"tune": {
			ID:   "run-1/tune/1",
			Kind: domain.KindTunedModel,
			Payload: mustEncode(t, domain.TunedModel{
				Schema:      domain.SchemaTunedModel,
				CandidateID: "cand-03",
				ModelRef:    "m-03",
				CVMean:      0.88,
				CVVariance:  0.002,
			}),
		},
	}
	spec := domain.StageSpec{Name: "validate", Kind: domain.StageValidation, Tools: []string{ToolValidateModel}}

	payload, err := (&Validation{}).Execute(context.Background(), spec, 1, inputs, reg)
	if err != nil {
		t.Fatalf("Execute()=%v", err)
	}
	doc, err := domain.DecodeValidationReport(payload)
	if err != nil {
		t.Fatalf("DecodeValidationReport()=%v", err)
	}
	if doc.ModelRef != "m-03" || doc.CandidateID != "cand-03" {
		t.Fatalf("doc=%+v", doc)
	}
	if doc.TrainTestGap != 0.04 || doc.BaselineDelta != 0.05 || doc.PredictionSkew != -0.02 {
		t.Fatalf("figures=%+v", doc)
	}
	// Fold variance travels with the model into the report.
	if doc.CVVariance != 0.002 {
		t.Fatalf("cv variance=%v", doc.CVVariance)
	}
}
