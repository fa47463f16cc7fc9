package stage

import (
	"context"
	"encoding/json"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/tool"
)

// Validation produces a validation report for a tuned model.
type Validation struct{}

func (v *Validation) Kind() domain.StageKind { return domain.StageValidation }

func (v *Validation) Execute(ctx context.Context, spec domain.StageSpec, attempt int, inputs map[string]domain.Artifact, reg *tool.Registry) (json.RawMessage, error) {
	input, err := inputOfKind(spec, inputs, domain.KindTunedModel)
	if err != nil {
		return nil, err
	}
	model, err := domain.DecodeTunedModel(input.Payload)
	if err != nil {
		return nil, &ContractError{Stage: spec.Name, Reason: err.Error()}
	}

	values, err := invoke(ctx, spec, reg, ToolValidateModel, toolArgs(spec, tool.Args{"model": model.ModelRef}))
	if err != nil {
		return nil, err
	}

	metrics := map[string]float64{}
	if err := decodeObject(spec, ToolValidateModel, values, "metrics", &metrics); err != nil {
		return nil, err
	}
	gap, err := requireNumber(spec, ToolValidateModel, values, "train_test_gap")
	if err != nil {
		return nil, err
	}
	baselineDelta, err := requireNumber(spec, ToolValidateModel, values, "baseline_delta")
	if err != nil {
		return nil, err
	}
	skew, err := requireNumber(spec, ToolValidateModel, values, "prediction_skew")
	if err != nil {
		return nil, err
	}

	return domain.EncodeDoc(domain.ValidationReport{
		Schema:         domain.SchemaValidationReport,
		ModelRef:       model.ModelRef,
		CandidateID:    model.CandidateID,
		Metrics:        metrics,
		TrainTestGap:   gap,
		BaselineDelta:  baselineDelta,
		PredictionSkew: skew,
		CVVariance:     model.CVVariance,
	})
}
