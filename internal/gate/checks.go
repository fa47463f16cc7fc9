package gate

// Check names accepted in a stage's gate configuration. Each applies to the
// artifact kinds noted; configuring a check against another kind fails the
// check as a configuration error so it is never silently skipped.
const (
	// Data checks (dataset, feature-set).
	CheckMissingValueRatio  = "missing_value_ratio"
	CheckColumnTypes        = "column_types"
	CheckClassImbalance     = "class_imbalance"
	CheckOutlierRatio       = "outlier_ratio"
	CheckFeatureCorrelation = "feature_correlation"

	// Candidate shortlist checks (model-candidate-set).
	CheckCandidateCount = "candidate_count"
	CheckBaselineScore  = "baseline_score"

	// Model checks (tuned-model, validation-report).
	CheckCVScoreVariance         = "cv_score_variance"
	CheckTrainTestGap            = "train_test_gap"
	CheckBaselineAccuracyDelta   = "baseline_accuracy_delta"
	CheckImportanceConcentration = "feature_importance_concentration"
	CheckPredictionSkew          = "prediction_skew"

	// Packaging checks (deployment-package).
	CheckPackageComplete = "package_complete"
)
