package stage

import (
	"context"
	"encoding/json"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/tool"
)

// Preprocessing cleans and normalizes a raw dataset into a processed dataset.
type Preprocessing struct{}

func (p *Preprocessing) Kind() domain.StageKind { return domain.StagePreprocessing }

func (p *Preprocessing) Execute(ctx context.Context, spec domain.StageSpec, attempt int, inputs map[string]domain.Artifact, reg *tool.Registry) (json.RawMessage, error) {
	input, err := inputOfKind(spec, inputs, domain.KindDataset)
	if err != nil {
		return nil, err
	}
	profile, err := domain.DecodeDatasetProfile(input.Payload)
	if err != nil {
		return nil, &ContractError{Stage: spec.Name, Reason: err.Error()}
	}

	values, err := invoke(ctx, spec, reg, ToolCleanDataset, toolArgs(spec, tool.Args{"dataset": profile.DataRef}))
	if err != nil {
		return nil, err
	}

	dataRef, err := requireString(spec, ToolCleanDataset, values, "dataset")
	if err != nil {
		return nil, err
	}
	var stats domain.TableStats
	if err := decodeObject(spec, ToolCleanDataset, values, "profile", &stats); err != nil {
		return nil, err
	}

	return domain.EncodeDoc(domain.DatasetProfile{
		Schema:     domain.SchemaDatasetProfile,
		DataRef:    dataRef,
		Target:     profile.Target,
		TableStats: stats,
	})
}
