package domain

import "fmt"

// Metadata is free-form key/value context attached to runs and artifacts.
type Metadata map[string]any

// ArtifactKind identifies the typed payload a stage produces.
type ArtifactKind string

const (
	KindDataset           ArtifactKind = "dataset"
	KindFeatureSet        ArtifactKind = "feature-set"
	KindCandidateSet      ArtifactKind = "model-candidate-set"
	KindTunedModel        ArtifactKind = "tuned-model"
	KindValidationReport  ArtifactKind = "validation-report"
	KindDeploymentPackage ArtifactKind = "deployment-package"
)

// Valid reports whether the kind is one of the known artifact kinds.
func (k ArtifactKind) Valid() bool {
	switch k {
	case KindDataset, KindFeatureSet, KindCandidateSet, KindTunedModel, KindValidationReport, KindDeploymentPackage:
		return true
	}
	return false
}

// StageKind identifies one of the built-in stage executor variants.
type StageKind string

const (
	StagePreprocessing        StageKind = "preprocessing"
	StageFeatureEngineering   StageKind = "feature-engineering"
	StageModelSelection       StageKind = "model-selection"
	StageHyperparameterTuning StageKind = "hyperparameter-tuning"
	StageValidation           StageKind = "validation"
	StageDeploymentPackaging  StageKind = "deployment-packaging"
)

// Valid reports whether the kind is one of the built-in stage kinds.
func (k StageKind) Valid() bool {
	switch k {
	case StagePreprocessing, StageFeatureEngineering, StageModelSelection, StageHyperparameterTuning, StageValidation, StageDeploymentPackaging:
		return true
	}
	return false
}

// OutputKind returns the artifact kind a stage of this kind produces.
func (k StageKind) OutputKind() (ArtifactKind, error) {
	switch k {
	case StagePreprocessing:
		return KindDataset, nil
	case StageFeatureEngineering:
		return KindFeatureSet, nil
	case StageModelSelection:
		return KindCandidateSet, nil
	case StageHyperparameterTuning:
		return KindTunedModel, nil
	case StageValidation:
		return KindValidationReport, nil
	case StageDeploymentPackaging:
		return KindDeploymentPackage, nil
	default:
		return "", fmt.Errorf("unknown stage kind %q", string(k))
	}
}

// Severity classifies a quality check as gate-blocking or advisory.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityWarning  Severity = "warning"
)

// Valid reports whether the severity is a known value.
func (s Severity) Valid() bool {
	return s == SeverityBlocking || s == SeverityWarning
}
