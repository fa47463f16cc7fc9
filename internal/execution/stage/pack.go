package stage

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/tool"
)

// DeploymentPackaging bundles a validated model with the metadata the
// platform mandates: lineage ids, feature list, validation metrics, and a
// creation timestamp.
type DeploymentPackaging struct {
	now func() time.Time
}

func NewDeploymentPackaging() *DeploymentPackaging {
	return &DeploymentPackaging{now: time.Now}
}

// WithClock overrides the packaging timestamp source for deterministic
// reruns.
func (d *DeploymentPackaging) WithClock(now func() time.Time) *DeploymentPackaging {
	if now != nil {
		d.now = now
	}
	return d
}

func (d *DeploymentPackaging) Kind() domain.StageKind { return domain.StageDeploymentPackaging }

func (d *DeploymentPackaging) Execute(ctx context.Context, spec domain.StageSpec, attempt int, inputs map[string]domain.Artifact, reg *tool.Registry) (json.RawMessage, error) {
	input, err := inputOfKind(spec, inputs, domain.KindValidationReport)
	if err != nil {
		return nil, err
	}
	report, err := domain.DecodeValidationReport(input.Payload)
	if err != nil {
		return nil, &ContractError{Stage: spec.Name, Reason: err.Error()}
	}

	values, err := invoke(ctx, spec, reg, ToolPackageModel, toolArgs(spec, tool.Args{"model": report.ModelRef}))
	if err != nil {
		return nil, err
	}
	packageRef, err := requireString(spec, ToolPackageModel, values, "package")
	if err != nil {
		return nil, err
	}

	var features []string
	if featureInput, ok := optionalInputOfKind(inputs, domain.KindFeatureSet); ok {
		featureSet, derr := domain.DecodeFeatureSet(featureInput.Payload)
		if derr != nil {
			return nil, &ContractError{Stage: spec.Name, Reason: derr.Error()}
		}
		features = featureSet.Features
	} else if _, ok := values["features"]; ok {
		if derr := decodeObject(spec, ToolPackageModel, values, "features", &features); derr != nil {
			return nil, derr
		}
	}

	// Lineage metadata covers every direct input artifact, ordered by id so
	// the package bytes are reproducible.
	ordered := make([]domain.Artifact, 0, len(inputs))
	for _, artifact := range inputs {
		ordered = append(ordered, artifact)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	lineageIDs := make([]string, 0, len(ordered))
	lineageSums := make([]string, 0, len(ordered))
	for _, artifact := range ordered {
		lineageIDs = append(lineageIDs, artifact.ID)
		lineageSums = append(lineageSums, artifact.SHA256)
	}

	return domain.EncodeDoc(domain.DeploymentPackage{
		Schema:        domain.SchemaDeploymentPackage,
		ModelRef:      packageRef,
		Features:      features,
		LineageIDs:    lineageIDs,
		LineageSHA256: lineageSums,
		Metrics:       report.Metrics,
		CreatedAt:     d.now().UTC(),
	})
}
