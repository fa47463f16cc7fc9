package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/tool"
)

func mustRegister(t *testing.T, reg *tool.Registry, spec tool.Spec) {
	t.Helper()
	if err := reg.Register(spec); err != nil {
		t.Fatalf("Register(%s)=%v", spec.Name, err)
	}
}

func mustEncode(t *testing.T, doc any) json.RawMessage {
	t.Helper()
	raw, err := domain.EncodeDoc(doc)
	if err != nil {
		t.Fatalf("EncodeDoc()=%v", err)
	}
	return raw
}

func datasetInput(t *testing.T, ref string) map[string]domain.Artifact {
	t.Helper()
	return map[string]domain.Artifact{
		domain.InputStageName: {
			ID:   "run-1/input/1",
			Kind: domain.KindDataset,
			Payload: mustEncode(t, domain.DatasetProfile{
				Schema:  domain.SchemaDatasetProfile,
				DataRef: ref,
				Target:  "churned",
			}),
		},
	}
}

func TestPreprocessingMapsToolOutput(t *testing.T) {
	reg := tool.NewRegistry()
	mustRegister(t, reg, tool.Spec{
		Name: ToolCleanDataset,
		Input: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "missing_value_cap", Type: tool.TypeNumber},
		},
		Output: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "profile", Type: tool.TypeObject, Required: true},
		},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			if got, _ := args["dataset"].(string); got != "raw-1" {
				return nil, fmt.Errorf("dataset=%q", got)
			}
			return tool.Values{
				"dataset": "clean-1",
				"profile": json.RawMessage(`{"rows":100,"columns":[{"name":"age","type":"int","missing_ratio":0.01,"outlier_ratio":0}],"minority_class_ratio":0.2,"max_abs_correlation":0.4}`),
			}, nil
		},
	})

	spec := domain.StageSpec{
		Name:   "preprocess",
		Kind:   domain.StagePreprocessing,
		Tools:  []string{ToolCleanDataset},
		Params: map[string]float64{"missing_value_cap": 0.05, ParamParallelWorkers: 2},
	}
	payload, err := (&Preprocessing{}).Execute(context.Background(), spec, 1, datasetInput(t, "raw-1"), reg)
	if err != nil {
		t.Fatalf("Execute()=%v", err)
	}
	doc, err := domain.DecodeDatasetProfile(payload)
	if err != nil {
		t.Fatalf("DecodeDatasetProfile()=%v", err)
	}
	if doc.DataRef != "clean-1" || doc.Target != "churned" || doc.Rows != 100 {
		t.Fatalf("doc=%+v", doc)
	}
}

func TestInvokeEnforcesToolAllowList(t *testing.T) {
	reg := tool.NewRegistry()
	spec := domain.StageSpec{Name: "preprocess", Kind: domain.StagePreprocessing, Tools: []string{"other_tool"}}

	_, err := (&Preprocessing{}).Execute(context.Background(), spec, 1, datasetInput(t, "raw-1"), reg)
	var contractErr *ContractError
	if !errors.As(err, &contractErr) {
		t.Fatalf("err=%v, want ContractError", err)
	}
}

func TestInvokePassesThroughFatalErrors(t *testing.T) {
	reg := tool.NewRegistry()
	spec := domain.StageSpec{Name: "preprocess", Kind: domain.StagePreprocessing, Tools: []string{ToolCleanDataset}}

	// Allow-listed but never registered: the unknown-tool sentinel survives
	// unwrapped so the orchestrator treats it as fatal.
	_, err := (&Preprocessing{}).Execute(context.Background(), spec, 1, datasetInput(t, "raw-1"), reg)
	if !errors.Is(err, tool.ErrUnknownTool) {
		t.Fatalf("err=%v, want ErrUnknownTool", err)
	}
}

func TestInvokeWrapsToolRuntimeFailure(t *testing.T) {
	reg := tool.NewRegistry()
	mustRegister(t, reg, tool.Spec{
		Name:   ToolCleanDataset,
		Input:  tool.Schema{{Name: "dataset", Type: tool.TypeDataset, Required: true}},
		Output: tool.Schema{{Name: "dataset", Type: tool.TypeDataset, Required: true}},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			return nil, errors.New("out of memory")
		},
	})
	spec := domain.StageSpec{Name: "preprocess", Kind: domain.StagePreprocessing, Tools: []string{ToolCleanDataset}}

	_, err := (&Preprocessing{}).Execute(context.Background(), spec, 1, datasetInput(t, "raw-1"), reg)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("err=%v, want ToolError", err)
	}
	if toolErr.Tool != ToolCleanDataset {
		t.Fatalf("tool=%q", toolErr.Tool)
	}
}

func TestPreprocessingRequiresDatasetInput(t *testing.T) {
	reg := tool.NewRegistry()
	spec := domain.StageSpec{Name: "preprocess", Kind: domain.StagePreprocessing, Tools: []string{ToolCleanDataset}}
	inputs := map[string]domain.Artifact{
		"tune": {Kind: domain.KindTunedModel, Payload: json.RawMessage(`{}`)},
	}
	_, err := (&Preprocessing{}).Execute(context.Background(), spec, 1, inputs, reg)
	var contractErr *ContractError
	if !errors.As(err, &contractErr) {
		t.Fatalf("err=%v, want ContractError", err)
	}
}

func scoringRegistry(t *testing.T, scores map[string]float64) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	candidates := make([]map[string]any, 0, len(scores))
	for id := range scores {
		candidates = append(candidates, map[string]any{"id": id, "family": "test", "params": map[string]float64{}})
	}
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		t.Fatalf("marshal candidates: %v", err)
	}

	mustRegister(t, reg, tool.Spec{
		Name: ToolProposeCandidates,
		Input: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "shortlist_size", Type: tool.TypeNumber},
		},
		Output: tool.Schema{{Name: "candidates", Type: tool.TypeObject, Required: true}},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			return tool.Values{"candidates": json.RawMessage(candidatesJSON)}, nil
		},
	})
	mustRegister(t, reg, tool.Spec{
		Name: ToolScoreCandidate,
		Input: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "candidate", Type: tool.TypeObject, Required: true},
		},
		Output: tool.Schema{{Name: "score", Type: tool.TypeNumber, Required: true}},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			var c domain.Candidate
			raw, _ := json.Marshal(args["candidate"])
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, err
			}
			return tool.Values{"score": scores[c.ID]}, nil
		},
	})
	return reg
}

func featureSetInputs(t *testing.T, ref string) map[string]domain.Artifact {
	t.Helper()
	return map[string]domain.Artifact{
		"features": {
			ID:   "run-1/features/1",
			Kind: domain.KindFeatureSet,
			Payload: mustEncode(t, domain.FeatureSet{
				Schema:   domain.SchemaFeatureSet,
				DataRef:  ref,
				Features: []string{"age", "tenure"},
			}),
		},
	}
}

func TestModelSelectionShortlistDeterministic(t *testing.T) {
	scores := map[string]float64{
		"cand-01": 0.70,
		"cand-02": 0.90,
		"cand-03": 0.90,
		"cand-04": 0.60,
		"cand-05": 0.80,
	}
	spec := domain.StageSpec{
		Name:   "select",
		Kind:   domain.StageModelSelection,
		Tools:  []string{ToolProposeCandidates, ToolScoreCandidate},
		Params: map[string]float64{"shortlist_size": 3, ParamParallelWorkers: 4},
	}

	var prev []string
	for i := 0; i < 5; i++ {
		reg := scoringRegistry(t, scores)
		payload, err := (&ModelSelection{}).Execute(context.Background(), spec, 1, featureSetInputs(t, "feat-1"), reg)
		if err != nil {
			t.Fatalf("Execute()=%v", err)
		}
		doc, err := domain.DecodeCandidateSet(payload)
		if err != nil {
			t.Fatalf("DecodeCandidateSet()=%v", err)
		}
		ids := make([]string, 0, len(doc.Candidates))
		for _, c := range doc.Candidates {
			ids = append(ids, c.ID)
		}
		// Top scores 0.90, 0.90, 0.80; output re-sorted by id.
		want := []string{"cand-02", "cand-03", "cand-05"}
		if !reflect.DeepEqual(ids, want) {
			t.Fatalf("shortlist=%v, want %v", ids, want)
		}
		if prev != nil && !reflect.DeepEqual(ids, prev) {
			t.Fatalf("shortlist unstable across runs: %v vs %v", ids, prev)
		}
		prev = ids
		for _, c := range doc.Candidates {
			if c.BaselineScore != scores[c.ID] {
				t.Fatalf("candidate %s score=%v, want %v", c.ID, c.BaselineScore, scores[c.ID])
			}
		}
	}
}

func TestModelSelectionRejectsEmptyProposal(t *testing.T) {
	reg := scoringRegistry(t, map[string]float64{})
	spec := domain.StageSpec{
		Name:  "select",
		Kind:  domain.StageModelSelection,
		Tools: []string{ToolProposeCandidates, ToolScoreCandidate},
	}
	_, err := (&ModelSelection{}).Execute(context.Background(), spec, 1, featureSetInputs(t, "feat-1"), reg)
	var contractErr *ContractError
	if !errors.As(err, &contractErr) {
		t.Fatalf("err=%v, want ContractError", err)
	}
}

func TestTunedBetterOrdering(t *testing.T) {
	base := domain.TunedModel{CandidateID: "cand-02", CVMean: 0.85, CVVariance: 0.002}
	cases := []struct {
		name string
		a    domain.TunedModel
		want bool
	}{
		{"higher mean wins", domain.TunedModel{CandidateID: "cand-09", CVMean: 0.86, CVVariance: 0.01}, true},
		{"lower mean loses", domain.TunedModel{CandidateID: "cand-01", CVMean: 0.84, CVVariance: 0.0001}, false},
		{"equal mean lower variance wins", domain.TunedModel{CandidateID: "cand-09", CVMean: 0.85, CVVariance: 0.001}, true},
		{"equal mean higher variance loses", domain.TunedModel{CandidateID: "cand-01", CVMean: 0.85, CVVariance: 0.003}, false},
		{"full tie earlier id wins", domain.TunedModel{CandidateID: "cand-01", CVMean: 0.85, CVVariance: 0.002}, true},
		{"full tie later id loses", domain.TunedModel{CandidateID: "cand-09", CVMean: 0.85, CVVariance: 0.002}, false},
	}
	for _, tc := range cases {
		if got := tunedBetter(tc.a, base); got != tc.want {
			t.Errorf("%s: tunedBetter=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHyperparameterTuningSelectsBest(t *testing.T) {
	results := map[string]map[string]any{
		"cand-01": {"model": "m-01", "cv_mean": 0.84, "cv_variance": 0.001},
		"cand-02": {"model": "m-02", "cv_mean": 0.88, "cv_variance": 0.004},
		"cand-03": {"model": "m-03", "cv_mean": 0.88, "cv_variance": 0.002},
	}
	reg := tool.NewRegistry()
	mustRegister(t, reg, tool.Spec{
		Name: ToolTuneCandidate,
		Input: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "candidate", Type: tool.TypeObject, Required: true},
		},
		Output: tool.Schema{
			{Name: "model", Type: tool.TypeModel, Required: true},
			{Name: "cv_scores", Type: tool.TypeObject, Required: true},
			{Name: "cv_mean", Type: tool.TypeNumber, Required: true},
			{Name: "cv_variance", Type: tool.TypeNumber, Required: true},
			{Name: "train_score", Type: tool.TypeNumber, Required: true},
			{Name: "test_score", Type: tool.TypeNumber, Required: true},
		},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			var c domain.Candidate
			raw, _ := json.Marshal(args["candidate"])
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, err
			}
			r := results[c.ID]
			mean := r["cv_mean"].(float64)
			return tool.Values{
				"model":       r["model"].(string),
				"cv_scores":   json.RawMessage(`[0.88,0.88,0.88]`),
				"cv_mean":     mean,
				"cv_variance": r["cv_variance"].(float64),
				"train_score": mean + 0.02,
				"test_score":  mean,
			}, nil
		},
	})

	inputs := map[string]domain.Artifact{
		"select": {
			ID:   "run-1/select/1",
			Kind: domain.KindCandidateSet,
			Payload: mustEncode(t, domain.CandidateSet{
				Schema:  domain.SchemaCandidateSet,
				DataRef: "feat-1",
				Candidates: []domain.Candidate{
					{ID: "cand-03", Family: "rf"},
					{ID: "cand-01", Family: "gb"},
					{ID: "cand-02", Family: "lr"},
				},
			}),
		},
	}
	spec := domain.StageSpec{
		Name:   "tune",
		Kind:   domain.StageHyperparameterTuning,
		Tools:  []string{ToolTuneCandidate},
		Params: map[string]float64{ParamParallelWorkers: 3},
	}

	payload, err := (&HyperparameterTuning{}).Execute(context.Background(), spec, 1, inputs, reg)
	if err != nil {
		t.Fatalf("Execute()=%v", err)
	}
	doc, err := domain.DecodeTunedModel(payload)
	if err != nil {
		t.Fatalf("DecodeTunedModel()=%v", err)
	}
	// cand-02 and cand-03 tie on mean; cand-03 has lower variance.
	if doc.CandidateID != "cand-03" || doc.ModelRef != "m-03" {
		t.Fatalf("selected %s (%s), want cand-03", doc.CandidateID, doc.ModelRef)
	}
}

func TestForEachIndexPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	started := 0
	err := forEachIndex(context.Background(), 8, 2, func(ctx context.Context, i int) error {
		mu.Lock()
		started++
		mu.Unlock()
		if i == 1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
	if started == 0 {
		t.Fatal("no work started")
	}
}

func TestForEachIndexHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := forEachIndex(ctx, 4, 2, func(ctx context.Context, i int) error { return ctx.Err() })
	if err == nil {
		t.Fatal("cancelled context produced no error")
	}
}
