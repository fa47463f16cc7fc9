// Package gate runs the configured quality check battery against a stage's
// produced artifact. It only compares numbers the tools already computed;
// no statistics are derived here.
package gate

import (
	"fmt"
	"math"
	"strings"

	"github.com/foundry-ml/foundry-go/internal/domain"
)

// Evaluate applies the stage's configured battery, in order, to the artifact.
// Every result is retained in the verdict, passing checks included.
func Evaluate(stage domain.StageSpec, artifact domain.Artifact) domain.GateVerdict {
	verdict := domain.GateVerdict{}
	for _, cfg := range stage.Gate.Checks {
		verdict.Results = append(verdict.Results, evaluateCheck(cfg, artifact))
	}
	return verdict
}

func evaluateCheck(cfg domain.CheckConfig, artifact domain.Artifact) domain.QualityCheckResult {
	result := domain.QualityCheckResult{
		Name:      strings.TrimSpace(cfg.Name),
		Severity:  cfg.Severity,
		Threshold: cfg.Threshold,
	}

	value, pass, msg, err := applyCheck(result.Name, cfg.Threshold, artifact)
	if err != nil {
		result.Passed = false
		result.Message = err.Error()
		return result
	}
	result.Value = value
	result.Passed = pass
	result.Message = msg
	return result
}

func applyCheck(name string, threshold float64, artifact domain.Artifact) (float64, bool, string, error) {
	switch name {
	case CheckMissingValueRatio, CheckColumnTypes, CheckClassImbalance, CheckOutlierRatio, CheckFeatureCorrelation:
		stats, err := tableStats(artifact)
		if err != nil {
			return 0, false, "", err
		}
		return applyDataCheck(name, threshold, stats)
	case CheckCandidateCount, CheckBaselineScore:
		doc, err := domain.DecodeCandidateSet(artifact.Payload)
		if err != nil {
			return 0, false, "", checkKindError(name, artifact.Kind, err)
		}
		return applyCandidateCheck(name, threshold, doc)
	case CheckCVScoreVariance, CheckTrainTestGap, CheckBaselineAccuracyDelta, CheckImportanceConcentration, CheckPredictionSkew:
		return applyModelCheck(name, threshold, artifact)
	case CheckPackageComplete:
		doc, err := domain.DecodeDeploymentPackage(artifact.Payload)
		if err != nil {
			return 0, false, "", checkKindError(name, artifact.Kind, err)
		}
		return applyPackageCheck(doc)
	default:
		return 0, false, "", fmt.Errorf("check %q unsupported", name)
	}
}

func checkKindError(name string, kind domain.ArtifactKind, err error) error {
	return fmt.Errorf("check %q not applicable to artifact kind %q: %v", name, string(kind), err)
}

func tableStats(artifact domain.Artifact) (domain.TableStats, error) {
	switch artifact.Kind {
	case domain.KindDataset:
		doc, err := domain.DecodeDatasetProfile(artifact.Payload)
		if err != nil {
			return domain.TableStats{}, err
		}
		return doc.TableStats, nil
	case domain.KindFeatureSet:
		doc, err := domain.DecodeFeatureSet(artifact.Payload)
		if err != nil {
			return domain.TableStats{}, err
		}
		return doc.TableStats, nil
	default:
		return domain.TableStats{}, fmt.Errorf("data check not applicable to artifact kind %q", string(artifact.Kind))
	}
}

func applyDataCheck(name string, threshold float64, stats domain.TableStats) (float64, bool, string, error) {
	switch name {
	case CheckMissingValueRatio:
		value := stats.MaxMissingRatio()
		if value > threshold {
			return value, false, fmt.Sprintf("max missing-value ratio %.4f exceeds threshold %.4f", value, threshold), nil
		}
		return value, true, "", nil
	case CheckColumnTypes:
		untyped := stats.UntypedColumns()
		value := float64(len(untyped))
		if len(untyped) > 0 {
			return value, false, fmt.Sprintf("columns without a resolved type: %s", strings.Join(untyped, ", ")), nil
		}
		return value, true, "", nil
	case CheckClassImbalance:
		value := stats.MinorityClassRatio
		if value < threshold {
			return value, false, fmt.Sprintf("minority class ratio %.4f below threshold %.4f", value, threshold), nil
		}
		return value, true, "", nil
	case CheckOutlierRatio:
		value := stats.MaxOutlierRatio()
		if value > threshold {
			return value, false, fmt.Sprintf("max outlier ratio %.4f exceeds threshold %.4f", value, threshold), nil
		}
		return value, true, "", nil
	case CheckFeatureCorrelation:
		value := stats.MaxAbsCorrelation
		if value > threshold {
			return value, false, fmt.Sprintf("max pairwise correlation %.4f exceeds threshold %.4f", value, threshold), nil
		}
		return value, true, "", nil
	}
	return 0, false, "", fmt.Errorf("check %q unsupported", name)
}

func applyCandidateCheck(name string, threshold float64, doc domain.CandidateSet) (float64, bool, string, error) {
	switch name {
	case CheckCandidateCount:
		value := float64(len(doc.Candidates))
		if value < threshold {
			return value, false, fmt.Sprintf("candidate count %d below threshold %.0f", len(doc.Candidates), threshold), nil
		}
		return value, true, "", nil
	case CheckBaselineScore:
		if len(doc.Candidates) == 0 {
			return 0, false, "candidate set is empty", nil
		}
		min := math.Inf(1)
		for _, c := range doc.Candidates {
			if c.BaselineScore < min {
				min = c.BaselineScore
			}
		}
		if min < threshold {
			return min, false, fmt.Sprintf("lowest baseline score %.4f below threshold %.4f", min, threshold), nil
		}
		return min, true, "", nil
	}
	return 0, false, "", fmt.Errorf("check %q unsupported", name)
}

type modelFigures struct {
	cvVariance    float64
	trainTestGap  float64
	baselineDelta float64
	concentration float64
	skew          float64
	hasSkew       bool
}

func figures(artifact domain.Artifact) (modelFigures, error) {
	switch artifact.Kind {
	case domain.KindTunedModel:
		doc, err := domain.DecodeTunedModel(artifact.Payload)
		if err != nil {
			return modelFigures{}, err
		}
		return modelFigures{
			cvVariance:    doc.CVVariance,
			trainTestGap:  doc.TrainTestGap(),
			baselineDelta: doc.TestScore - doc.BaselineScore,
			concentration: doc.ImportanceConcentration(),
		}, nil
	case domain.KindValidationReport:
		doc, err := domain.DecodeValidationReport(artifact.Payload)
		if err != nil {
			return modelFigures{}, err
		}
		return modelFigures{
			cvVariance:    doc.CVVariance,
			trainTestGap:  doc.TrainTestGap,
			baselineDelta: doc.BaselineDelta,
			skew:          doc.PredictionSkew,
			hasSkew:       true,
		}, nil
	default:
		return modelFigures{}, fmt.Errorf("model check not applicable to artifact kind %q", string(artifact.Kind))
	}
}

func applyModelCheck(name string, threshold float64, artifact domain.Artifact) (float64, bool, string, error) {
	fig, err := figures(artifact)
	if err != nil {
		return 0, false, "", err
	}
	switch name {
	case CheckCVScoreVariance:
		if fig.cvVariance > threshold {
			return fig.cvVariance, false, fmt.Sprintf("cross-validation score variance %.6f exceeds threshold %.6f", fig.cvVariance, threshold), nil
		}
		return fig.cvVariance, true, "", nil
	case CheckTrainTestGap:
		if fig.trainTestGap > threshold {
			return fig.trainTestGap, false, fmt.Sprintf("train/test score gap %.4f exceeds threshold %.4f", fig.trainTestGap, threshold), nil
		}
		return fig.trainTestGap, true, "", nil
	case CheckBaselineAccuracyDelta:
		if fig.baselineDelta < threshold {
			return fig.baselineDelta, false, fmt.Sprintf("baseline accuracy delta %.4f below threshold %.4f", fig.baselineDelta, threshold), nil
		}
		return fig.baselineDelta, true, "", nil
	case CheckImportanceConcentration:
		if artifact.Kind != domain.KindTunedModel {
			return 0, false, "", fmt.Errorf("check %q not applicable to artifact kind %q", name, string(artifact.Kind))
		}
		if fig.concentration > threshold {
			return fig.concentration, false, fmt.Sprintf("feature importance concentration %.4f exceeds threshold %.4f", fig.concentration, threshold), nil
		}
		return fig.concentration, true, "", nil
	case CheckPredictionSkew:
		if !fig.hasSkew {
			return 0, false, "", fmt.Errorf("check %q not applicable to artifact kind %q", name, string(artifact.Kind))
		}
		value := math.Abs(fig.skew)
		if value > threshold {
			return value, false, fmt.Sprintf("prediction distribution skew %.4f exceeds threshold %.4f", value, threshold), nil
		}
		return value, true, "", nil
	}
	return 0, false, "", fmt.Errorf("check %q unsupported", name)
}

func applyPackageCheck(doc domain.DeploymentPackage) (float64, bool, string, error) {
	var missing []string
	if strings.TrimSpace(doc.ModelRef) == "" {
		missing = append(missing, "model_ref")
	}
	if len(doc.Features) == 0 {
		missing = append(missing, "features")
	}
	if len(doc.LineageIDs) == 0 {
		missing = append(missing, "lineage_ids")
	}
	if len(doc.Metrics) == 0 {
		missing = append(missing, "metrics")
	}
	if doc.CreatedAt.IsZero() {
		missing = append(missing, "created_at")
	}
	if len(missing) > 0 {
		return 0, false, "package metadata incomplete: " + strings.Join(missing, ", "), nil
	}
	return 1, true, "", nil
}
