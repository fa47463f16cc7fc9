package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/tool"
)

// ParamShortlistSize caps how many scored candidates model selection keeps.
const ParamShortlistSize = "shortlist_size"

// ModelSelection proposes candidate model configurations and scores each one
// against a baseline, fanning scoring calls out across parallel workers. The
// aggregated shortlist is deterministic regardless of completion order.
type ModelSelection struct{}

func (m *ModelSelection) Kind() domain.StageKind { return domain.StageModelSelection }

func (m *ModelSelection) Execute(ctx context.Context, spec domain.StageSpec, attempt int, inputs map[string]domain.Artifact, reg *tool.Registry) (json.RawMessage, error) {
	input, err := inputOfKind(spec, inputs, domain.KindFeatureSet)
	if err != nil {
		return nil, err
	}
	featureSet, err := domain.DecodeFeatureSet(input.Payload)
	if err != nil {
		return nil, &ContractError{Stage: spec.Name, Reason: err.Error()}
	}

	values, err := invoke(ctx, spec, reg, ToolProposeCandidates, toolArgs(spec, tool.Args{"dataset": featureSet.DataRef}))
	if err != nil {
		return nil, err
	}
	var candidates []domain.Candidate
	if err := decodeObject(spec, ToolProposeCandidates, values, "candidates", &candidates); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("tool %q proposed no candidates", ToolProposeCandidates)}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	scores := make([]float64, len(candidates))
	err = forEachIndex(ctx, len(candidates), workerCount(spec), func(ctx context.Context, i int) error {
		candidateJSON, merr := json.Marshal(candidates[i])
		if merr != nil {
			return &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("candidate %q not encodable: %v", candidates[i].ID, merr)}
		}
		out, ierr := invoke(ctx, spec, reg, ToolScoreCandidate, tool.Args{
			"dataset":   featureSet.DataRef,
			"candidate": json.RawMessage(candidateJSON),
		})
		if ierr != nil {
			return ierr
		}
		score, serr := requireNumber(spec, ToolScoreCandidate, out, "score")
		if serr != nil {
			return serr
		}
		scores[i] = score
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].BaselineScore = scores[i]
	}

	// Shortlist by score descending, candidate id as the deterministic
	// tie-break.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].BaselineScore != candidates[j].BaselineScore {
			return candidates[i].BaselineScore > candidates[j].BaselineScore
		}
		return candidates[i].ID < candidates[j].ID
	})
	if size := int(spec.Param(ParamShortlistSize, float64(len(candidates)))); size > 0 && size < len(candidates) {
		candidates = candidates[:size]
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	return domain.EncodeDoc(domain.CandidateSet{
		Schema:     domain.SchemaCandidateSet,
		DataRef:    featureSet.DataRef,
		Candidates: candidates,
	})
}
