package stage

import (
	"context"
	"encoding/json"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/tool"
)

// FeatureEngineering produces an enlarged feature set from a processed
// dataset. The transformation library behind the tool is bounded; the
// executor only forwards the dataset handle and stage parameters.
type FeatureEngineering struct{}

func (f *FeatureEngineering) Kind() domain.StageKind { return domain.StageFeatureEngineering }

func (f *FeatureEngineering) Execute(ctx context.Context, spec domain.StageSpec, attempt int, inputs map[string]domain.Artifact, reg *tool.Registry) (json.RawMessage, error) {
	input, err := inputOfKind(spec, inputs, domain.KindDataset)
	if err != nil {
		return nil, err
	}
	profile, err := domain.DecodeDatasetProfile(input.Payload)
	if err != nil {
		return nil, &ContractError{Stage: spec.Name, Reason: err.Error()}
	}

	values, err := invoke(ctx, spec, reg, ToolEngineerFeatures, toolArgs(spec, tool.Args{"dataset": profile.DataRef}))
	if err != nil {
		return nil, err
	}

	dataRef, err := requireString(spec, ToolEngineerFeatures, values, "dataset")
	if err != nil {
		return nil, err
	}
	var features []string
	if err := decodeObject(spec, ToolEngineerFeatures, values, "features", &features); err != nil {
		return nil, err
	}
	var stats domain.TableStats
	if err := decodeObject(spec, ToolEngineerFeatures, values, "profile", &stats); err != nil {
		return nil, err
	}

	return domain.EncodeDoc(domain.FeatureSet{
		Schema:     domain.SchemaFeatureSet,
		DataRef:    dataRef,
		Features:   features,
		TableStats: stats,
	})
}
