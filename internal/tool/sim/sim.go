// Package sim provides a deterministic stand-in lab: tool implementations for
// every built-in stage that derive their numbers from stable hashes of their
// inputs. Two invocations with the same arguments produce identical outputs,
// which makes full pipeline reruns reproducible byte for byte.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/foundry-ml/foundry-go/internal/tool"
)

// Register installs the full simulated toolset into the registry.
func Register(reg *tool.Registry) error {
	for _, spec := range Specs() {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// Specs returns the simulated tool contracts and implementations.
func Specs() []tool.Spec {
	return []tool.Spec{
		cleanDataset(),
		engineerFeatures(),
		proposeCandidates(),
		scoreCandidate(),
		tuneCandidate(),
		validateModel(),
		packageModel(),
	}
}

func cleanDataset() tool.Spec {
	return tool.Spec{
		Name:        "clean_dataset",
		Description: "Impute missing values, trim outliers, and re-profile the table.",
		Input: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "missing_value_cap", Type: tool.TypeNumber},
			{Name: "outlier_trim", Type: tool.TypeNumber},
		},
		Output: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "profile", Type: tool.TypeObject, Required: true},
		},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			ref := argString(args, "dataset")
			cap := argNumber(args, "missing_value_cap", 0.05)
			trim := argNumber(args, "outlier_trim", 0.02)

			outRef := deriveRef(ref, "clean", args)
			columns := []map[string]any{}
			for _, name := range []string{"age", "tenure", "usage", "plan"} {
				columns = append(columns, map[string]any{
					"name":          name,
					"type":          "float",
					"missing_ratio": round4(cap * unit(outRef, name, "missing")),
					"outlier_ratio": round4(trim * unit(outRef, name, "outlier")),
				})
			}
			return tool.Values{
				"dataset": outRef,
				"profile": mustRaw(map[string]any{
					"rows":                 int64(40000 + 10000*unit(outRef, "rows")),
					"columns":              columns,
					"minority_class_ratio": round4(0.18 + 0.1*unit(outRef, "minority")),
					"max_abs_correlation":  round4(0.35 + 0.2*unit(outRef, "corr")),
				}),
			}, nil
		},
	}
}

func engineerFeatures() tool.Spec {
	return tool.Spec{
		Name:        "engineer_features",
		Description: "Derive interaction and aggregate features from a clean table.",
		Input: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "max_features", Type: tool.TypeNumber},
			{Name: "interaction_depth", Type: tool.TypeNumber},
		},
		Output: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "features", Type: tool.TypeObject, Required: true},
			{Name: "profile", Type: tool.TypeObject, Required: true},
		},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			ref := argString(args, "dataset")
			maxFeatures := int(argNumber(args, "max_features", 12))
			if maxFeatures < 4 {
				maxFeatures = 4
			}

			outRef := deriveRef(ref, "features", args)
			base := []string{"age", "tenure", "usage", "plan"}
			features := append([]string{}, base...)
			for i := len(base); i < maxFeatures; i++ {
				features = append(features, fmt.Sprintf("derived_%02d", i-len(base)+1))
			}
			columns := []map[string]any{}
			for _, name := range features {
				columns = append(columns, map[string]any{
					"name":          name,
					"type":          "float",
					"missing_ratio": 0.0,
					"outlier_ratio": round4(0.01 * unit(outRef, name, "outlier")),
				})
			}
			return tool.Values{
				"dataset":  outRef,
				"features": mustRaw(features),
				"profile": mustRaw(map[string]any{
					"rows":                 int64(40000 + 10000*unit(ref, "rows")),
					"columns":              columns,
					"minority_class_ratio": round4(0.18 + 0.1*unit(ref, "minority")),
					"max_abs_correlation":  round4(0.5 + 0.3*unit(outRef, "corr")),
				}),
			}, nil
		},
	}
}

func proposeCandidates() tool.Spec {
	families := []string{"gradient-boosting", "random-forest", "logistic", "svm", "knn"}
	return tool.Spec{
		Name:        "propose_candidates",
		Description: "Propose model families and starting hyperparameters for a feature set.",
		Input: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "candidate_count", Type: tool.TypeNumber},
			{Name: "shortlist_size", Type: tool.TypeNumber},
		},
		Output: tool.Schema{
			{Name: "candidates", Type: tool.TypeObject, Required: true},
		},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			ref := argString(args, "dataset")
			count := int(argNumber(args, "candidate_count", 4))
			if count < 1 {
				count = 1
			}
			if count > len(families) {
				count = len(families)
			}
			candidates := []map[string]any{}
			for i := 0; i < count; i++ {
				id := fmt.Sprintf("cand-%02d-%s", i+1, families[i])
				candidates = append(candidates, map[string]any{
					"id":     id,
					"family": families[i],
					"params": map[string]float64{
						"learning_rate": round4(0.01 + 0.2*unit(ref, id, "lr")),
						"depth":         float64(3 + int(5*unit(ref, id, "depth"))),
					},
				})
			}
			return tool.Values{"candidates": mustRaw(candidates)}, nil
		},
	}
}

func scoreCandidate() tool.Spec {
	return tool.Spec{
		Name:        "score_candidate",
		Description: "Fit a candidate with default settings and report a baseline score.",
		Input: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "candidate", Type: tool.TypeObject, Required: true},
		},
		Output: tool.Schema{
			{Name: "score", Type: tool.TypeNumber, Required: true},
		},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			seed := argString(args, "dataset") + canonical(args["candidate"])
			return tool.Values{"score": round4(0.62 + 0.25*unit(seed, "baseline"))}, nil
		},
	}
}

func tuneCandidate() tool.Spec {
	return tool.Spec{
		Name:        "tune_candidate",
		Description: "Search the candidate's hyperparameter space under cross-validation.",
		Input: tool.Schema{
			{Name: "dataset", Type: tool.TypeDataset, Required: true},
			{Name: "candidate", Type: tool.TypeObject, Required: true},
			{Name: "cv_folds", Type: tool.TypeNumber},
			{Name: "search_iterations", Type: tool.TypeNumber},
		},
		Output: tool.Schema{
			{Name: "model", Type: tool.TypeModel, Required: true},
			{Name: "cv_scores", Type: tool.TypeObject, Required: true},
			{Name: "cv_mean", Type: tool.TypeNumber, Required: true},
			{Name: "cv_variance", Type: tool.TypeNumber, Required: true},
			{Name: "train_score", Type: tool.TypeNumber, Required: true},
			{Name: "test_score", Type: tool.TypeNumber, Required: true},
			{Name: "importances", Type: tool.TypeObject},
		},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			seed := argString(args, "dataset") + canonical(args["candidate"])
			folds := int(argNumber(args, "cv_folds", 5))
			if folds < 2 {
				folds = 2
			}

			center := 0.7 + 0.2*unit(seed, "cv")
			scores := make([]float64, folds)
			mean := 0.0
			for i := range scores {
				scores[i] = round4(center + 0.01*(unit(seed, "fold", fmt.Sprint(i))-0.5))
				mean += scores[i]
			}
			mean /= float64(folds)
			variance := 0.0
			for _, s := range scores {
				variance += (s - mean) * (s - mean)
			}
			variance /= float64(folds)

			testScore := round4(mean - 0.005*unit(seed, "holdout"))
			return tool.Values{
				"model":       deriveRef(argString(args, "dataset"), "model", args),
				"cv_scores":   mustRaw(scores),
				"cv_mean":     round4(mean),
				"cv_variance": round6(variance),
				"train_score": round4(testScore + 0.03 + 0.04*unit(seed, "gap")),
				"test_score":  testScore,
				"importances": mustRaw(map[string]float64{
					"usage":  round4(0.2 + 0.15*unit(seed, "imp", "usage")),
					"tenure": round4(0.15 + 0.1*unit(seed, "imp", "tenure")),
					"age":    round4(0.1 + 0.1*unit(seed, "imp", "age")),
				}),
			}, nil
		},
	}
}

func validateModel() tool.Spec {
	return tool.Spec{
		Name:        "validate_model",
		Description: "Evaluate a tuned model on the holdout split.",
		Input: tool.Schema{
			{Name: "model", Type: tool.TypeModel, Required: true},
		},
		Output: tool.Schema{
			{Name: "metrics", Type: tool.TypeObject, Required: true},
			{Name: "train_test_gap", Type: tool.TypeNumber, Required: true},
			{Name: "baseline_delta", Type: tool.TypeNumber, Required: true},
			{Name: "prediction_skew", Type: tool.TypeNumber, Required: true},
		},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			seed := argString(args, "model")
			accuracy := round4(0.78 + 0.12*unit(seed, "accuracy"))
			return tool.Values{
				"metrics": mustRaw(map[string]float64{
					"accuracy": accuracy,
					"auc":      round4(accuracy + 0.04),
					"f1":       round4(accuracy - 0.03),
				}),
				"train_test_gap":  round4(0.02 + 0.05*unit(seed, "gap")),
				"baseline_delta":  round4(0.03 + 0.05*unit(seed, "delta")),
				"prediction_skew": round4(0.1 * (unit(seed, "skew") - 0.5)),
			}, nil
		},
	}
}

func packageModel() tool.Spec {
	return tool.Spec{
		Name:        "package_model",
		Description: "Serialize a validated model into a deployable bundle.",
		Input: tool.Schema{
			{Name: "model", Type: tool.TypeModel, Required: true},
		},
		Output: tool.Schema{
			{Name: "package", Type: tool.TypeString, Required: true},
		},
		Fn: func(ctx context.Context, args tool.Args) (tool.Values, error) {
			return tool.Values{"package": deriveRef(argString(args, "model"), "bundle", args)}, nil
		},
	}
}

func argString(args tool.Args, name string) string {
	s, _ := args[name].(string)
	return s
}

func argNumber(args tool.Args, name string, def float64) float64 {
	switch n := args[name].(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

// deriveRef produces a stable handle for a tool product, folding the full
// argument set in so changed parameters yield a distinct handle.
func deriveRef(base, step string, args tool.Args) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(base))
	_, _ = h.Write([]byte(step))
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte(canonical(args[k])))
	}
	return fmt.Sprintf("%s@%s-%08x", base, step, uint32(h.Sum64()))
}

// unit maps the joined keys to a stable value in [0, 1).
func unit(keys ...string) float64 {
	h := fnv.New64a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
	}
	return float64(h.Sum64()%100000) / 100000
}

func canonical(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func mustRaw(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func round4(v float64) float64 { return roundTo(v, 1e4) }
func round6(v float64) float64 { return roundTo(v, 1e6) }

func roundTo(v, scale float64) float64 {
	if v < 0 {
		return float64(int64(v*scale-0.5)) / scale
	}
	return float64(int64(v*scale+0.5)) / scale
}
