package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload documents are schema-versioned JSON values threaded between stages.
// Stage executors fill them from tool outputs; the gate engine reads them.
const (
	SchemaDatasetProfile    = "foundry.dataset_profile.v1"
	SchemaFeatureSet        = "foundry.feature_set.v1"
	SchemaCandidateSet      = "foundry.candidate_set.v1"
	SchemaTunedModel        = "foundry.tuned_model.v1"
	SchemaValidationReport  = "foundry.validation_report.v1"
	SchemaDeploymentPackage = "foundry.deployment_package.v1"
)

// ColumnProfile summarizes one column of a tabular dataset.
type ColumnProfile struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	MissingRatio float64 `json:"missing_ratio"`
	OutlierRatio float64 `json:"outlier_ratio"`
}

// TableStats carries the data-quality statistics shared by dataset and
// feature-set payloads. The numbers come from profiling tools; the core only
// compares them against gate thresholds.
type TableStats struct {
	Rows               int             `json:"rows"`
	Columns            []ColumnProfile `json:"columns"`
	MinorityClassRatio float64         `json:"minority_class_ratio"`
	MaxAbsCorrelation  float64         `json:"max_abs_correlation"`
}

// MaxMissingRatio returns the worst per-column missing-value ratio.
func (t TableStats) MaxMissingRatio() float64 {
	max := 0.0
	for _, c := range t.Columns {
		if c.MissingRatio > max {
			max = c.MissingRatio
		}
	}
	return max
}

// MaxOutlierRatio returns the worst per-column outlier ratio.
func (t TableStats) MaxOutlierRatio() float64 {
	max := 0.0
	for _, c := range t.Columns {
		if c.OutlierRatio > max {
			max = c.OutlierRatio
		}
	}
	return max
}

// UntypedColumns returns the names of columns with no resolved type.
func (t TableStats) UntypedColumns() []string {
	var names []string
	for _, c := range t.Columns {
		if c.Type == "" || c.Type == "unknown" {
			names = append(names, c.Name)
		}
	}
	return names
}

// DatasetProfile is the payload of a dataset artifact. DataRef is the opaque
// handle tools use to address the underlying table.
type DatasetProfile struct {
	Schema  string `json:"schema"`
	DataRef string `json:"data_ref"`
	Target  string `json:"target,omitempty"`
	TableStats
}

// FeatureSet is the payload of a feature-set artifact.
type FeatureSet struct {
	Schema   string   `json:"schema"`
	DataRef  string   `json:"data_ref"`
	Features []string `json:"features"`
	TableStats
}

// Candidate is one model configuration proposed by model selection.
type Candidate struct {
	ID            string             `json:"id"`
	Family        string             `json:"family"`
	Params        map[string]float64 `json:"params"`
	BaselineScore float64            `json:"baseline_score"`
}

// CandidateSet is the payload of a model-candidate-set artifact.
type CandidateSet struct {
	Schema     string      `json:"schema"`
	DataRef    string      `json:"data_ref"`
	Candidates []Candidate `json:"candidates"`
}

// TunedModel is the payload of a tuned-model artifact.
type TunedModel struct {
	Schema             string             `json:"schema"`
	CandidateID        string             `json:"candidate_id"`
	Family             string             `json:"family"`
	Params             map[string]float64 `json:"params"`
	ModelRef           string             `json:"model_ref"`
	CVScores           []float64          `json:"cv_scores"`
	CVMean             float64            `json:"cv_mean"`
	CVVariance         float64            `json:"cv_variance"`
	TrainScore         float64            `json:"train_score"`
	TestScore          float64            `json:"test_score"`
	BaselineScore      float64            `json:"baseline_score"`
	FeatureImportances map[string]float64 `json:"feature_importances,omitempty"`
}

// TrainTestGap returns the train/test score gap.
func (m TunedModel) TrainTestGap() float64 {
	return m.TrainScore - m.TestScore
}

// ImportanceConcentration returns the largest single feature importance.
func (m TunedModel) ImportanceConcentration() float64 {
	max := 0.0
	for _, v := range m.FeatureImportances {
		if v > max {
			max = v
		}
	}
	return max
}

// ValidationReport is the payload of a validation-report artifact.
type ValidationReport struct {
	Schema         string             `json:"schema"`
	ModelRef       string             `json:"model_ref"`
	CandidateID    string             `json:"candidate_id"`
	Metrics        map[string]float64 `json:"metrics"`
	TrainTestGap   float64            `json:"train_test_gap"`
	BaselineDelta  float64            `json:"baseline_delta"`
	PredictionSkew float64            `json:"prediction_skew"`
	CVVariance     float64            `json:"cv_variance"`
}

// DeploymentPackage is the payload of the final packaging artifact: a
// serialized model reference plus the metadata the platform mandates.
type DeploymentPackage struct {
	Schema        string             `json:"schema"`
	ModelRef      string             `json:"model_ref"`
	Features      []string           `json:"features"`
	LineageIDs    []string           `json:"lineage_ids"`
	LineageSHA256 []string           `json:"lineage_sha256"`
	Metrics       map[string]float64 `json:"metrics"`
	CreatedAt     time.Time          `json:"created_at"`
}

// EncodeDoc serializes a payload document with stable field order.
func EncodeDoc(doc any) (json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

func decodeDoc(raw json.RawMessage, wantSchema string, out any) error {
	var head struct {
		Schema string `json:"schema"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if head.Schema != wantSchema {
		return fmt.Errorf("payload schema %q, want %q", head.Schema, wantSchema)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func DecodeDatasetProfile(raw json.RawMessage) (DatasetProfile, error) {
	var doc DatasetProfile
	err := decodeDoc(raw, SchemaDatasetProfile, &doc)
	return doc, err
}

func DecodeFeatureSet(raw json.RawMessage) (FeatureSet, error) {
	var doc FeatureSet
	err := decodeDoc(raw, SchemaFeatureSet, &doc)
	return doc, err
}

func DecodeCandidateSet(raw json.RawMessage) (CandidateSet, error) {
	var doc CandidateSet
	err := decodeDoc(raw, SchemaCandidateSet, &doc)
	return doc, err
}

func DecodeTunedModel(raw json.RawMessage) (TunedModel, error) {
	var doc TunedModel
	err := decodeDoc(raw, SchemaTunedModel, &doc)
	return doc, err
}

func DecodeValidationReport(raw json.RawMessage) (ValidationReport, error) {
	var doc ValidationReport
	err := decodeDoc(raw, SchemaValidationReport, &doc)
	return doc, err
}

func DecodeDeploymentPackage(raw json.RawMessage) (DeploymentPackage, error) {
	var doc DeploymentPackage
	err := decodeDoc(raw, SchemaDeploymentPackage, &doc)
	return doc, err
}
