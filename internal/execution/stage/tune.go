package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/tool"
)

// HyperparameterTuning tunes every shortlisted candidate in parallel and
// returns exactly one tuned model. Selection is deterministic: best mean
// cross-validation score, then lowest fold variance, then candidate id.
type HyperparameterTuning struct{}

func (h *HyperparameterTuning) Kind() domain.StageKind { return domain.StageHyperparameterTuning }

func (h *HyperparameterTuning) Execute(ctx context.Context, spec domain.StageSpec, attempt int, inputs map[string]domain.Artifact, reg *tool.Registry) (json.RawMessage, error) {
	input, err := inputOfKind(spec, inputs, domain.KindCandidateSet)
	if err != nil {
		return nil, err
	}
	candidateSet, err := domain.DecodeCandidateSet(input.Payload)
	if err != nil {
		return nil, &ContractError{Stage: spec.Name, Reason: err.Error()}
	}
	if len(candidateSet.Candidates) == 0 {
		return nil, &ContractError{Stage: spec.Name, Reason: "candidate set is empty"}
	}

	candidates := append([]domain.Candidate(nil), candidateSet.Candidates...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	tuned := make([]domain.TunedModel, len(candidates))
	err = forEachIndex(ctx, len(candidates), workerCount(spec), func(ctx context.Context, i int) error {
		candidateJSON, merr := json.Marshal(candidates[i])
		if merr != nil {
			return &ContractError{Stage: spec.Name, Reason: fmt.Sprintf("candidate %q not encodable: %v", candidates[i].ID, merr)}
		}
		out, ierr := invoke(ctx, spec, reg, ToolTuneCandidate, toolArgs(spec, tool.Args{
			"dataset":   candidateSet.DataRef,
			"candidate": json.RawMessage(candidateJSON),
		}))
		if ierr != nil {
			return ierr
		}
		model, derr := decodeTunedCandidate(spec, candidates[i], out)
		if derr != nil {
			return derr
		}
		tuned[i] = model
		return nil
	})
	if err != nil {
		return nil, err
	}

	best := tuned[0]
	for _, model := range tuned[1:] {
		if tunedBetter(model, best) {
			best = model
		}
	}
	return domain.EncodeDoc(best)
}

func decodeTunedCandidate(spec domain.StageSpec, candidate domain.Candidate, out tool.Values) (domain.TunedModel, error) {
	modelRef, err := requireString(spec, ToolTuneCandidate, out, "model")
	if err != nil {
		return domain.TunedModel{}, err
	}
	var cvScores []float64
	if err := decodeObject(spec, ToolTuneCandidate, out, "cv_scores", &cvScores); err != nil {
		return domain.TunedModel{}, err
	}
	cvMean, err := requireNumber(spec, ToolTuneCandidate, out, "cv_mean")
	if err != nil {
		return domain.TunedModel{}, err
	}
	cvVariance, err := requireNumber(spec, ToolTuneCandidate, out, "cv_variance")
	if err != nil {
		return domain.TunedModel{}, err
	}
	trainScore, err := requireNumber(spec, ToolTuneCandidate, out, "train_score")
	if err != nil {
		return domain.TunedModel{}, err
	}
	testScore, err := requireNumber(spec, ToolTuneCandidate, out, "test_score")
	if err != nil {
		return domain.TunedModel{}, err
	}

	params := candidate.Params
	if _, ok := out["params"]; ok {
		params = map[string]float64{}
		if err := decodeObject(spec, ToolTuneCandidate, out, "params", &params); err != nil {
			return domain.TunedModel{}, err
		}
	}
	var importances map[string]float64
	if _, ok := out["importances"]; ok {
		if err := decodeObject(spec, ToolTuneCandidate, out, "importances", &importances); err != nil {
			return domain.TunedModel{}, err
		}
	}

	return domain.TunedModel{
		Schema:             domain.SchemaTunedModel,
		CandidateID:        candidate.ID,
		Family:             candidate.Family,
		Params:             params,
		ModelRef:           modelRef,
		CVScores:           cvScores,
		CVMean:             cvMean,
		CVVariance:         cvVariance,
		TrainScore:         trainScore,
		TestScore:          testScore,
		BaselineScore:      candidate.BaselineScore,
		FeatureImportances: importances,
	}, nil
}

// tunedBetter orders tuned models: highest mean CV score wins; among
// equal-top-score candidates the lowest fold variance wins; candidate id
// breaks remaining ties.
func tunedBetter(a, b domain.TunedModel) bool {
	if a.CVMean != b.CVMean {
		return a.CVMean > b.CVMean
	}
	if a.CVVariance != b.CVVariance {
		return a.CVVariance < b.CVVariance
	}
	return a.CandidateID < b.CandidateID
}
