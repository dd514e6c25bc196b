// Package eval scores prediction CSVs against ground-truth CSVs and
// computes descriptive statistics over ground-truth tables. All entry
// points are pure functions over the two input files; nothing persists
// between calls.
package eval

// MetricReport is the result of scoring one submission. Point metrics lie
// in [0,1]. AUC is nil when undefined (single-class ground truth, degenerate
// score column); a nil AUC is reported as-is, never coerced to zero. Curve
// data is omitted whenever the underlying sweep cannot be computed.
type MetricReport struct {
	AUC       *float64  `json:"auc"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	F1        float64   `json:"f1"`
	Accuracy  float64   `json:"acc"`
	NSamples  int       `json:"n_samples"`
	ROC       *ROCCurve `json:"roc,omitempty"`
	PR        *PRCurve  `json:"pr,omitempty"`
}

// ROCCurve holds parallel false-positive-rate and true-positive-rate arrays
// over the full threshold sweep.
type ROCCurve struct {
	FPR []float64 `json:"fpr"`
	TPR []float64 `json:"tpr"`
}

// PRCurve holds parallel precision and recall arrays over the full
// threshold sweep.
type PRCurve struct {
	Precision []float64 `json:"precision"`
	Recall    []float64 `json:"recall"`
}

// GroundTruthStats is the schema-validation and descriptive-statistics
// result for a ground-truth CSV. When SchemaValid is false only Columns and
// Errors are meaningful.
type GroundTruthStats struct {
	Columns           []string       `json:"columns"`
	SchemaValid       bool           `json:"schema_valid"`
	Errors            []string       `json:"errors,omitempty"`
	TotalRows         int            `json:"total_rows"`
	NullID            int            `json:"null_id"`
	NullLabel         int            `json:"null_label"`
	DuplicateID       int            `json:"duplicate_id"`
	LabelDistribution map[string]int `json:"label_distribution"`
}
