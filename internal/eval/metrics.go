package eval

import (
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// EvaluatePredictions scores a prediction CSV carrying a continuous or
// ordinal score column against a ground-truth CSV. It returns a SchemaError
// when a required column is missing or the score column is not numeric, and
// ErrNoMatchingIDs when the join is empty. Statistical degeneracies never
// fail the call: an undefined AUC comes back nil and undefined curves are
// omitted, with all other metrics still computed.
func EvaluatePredictions(groundTruthPath, predictPath string) (*MetricReport, error) {
	gt, err := readGroundTruth(groundTruthPath)
	if err != nil {
		return nil, err
	}
	pred, scoreCol, err := readPredictions(predictPath)
	if err != nil {
		return nil, err
	}

	j := innerJoin(gt, pred)
	if len(j.ids) == 0 {
		return nil, ErrNoMatchingIDs
	}

	scores, err := parseScores(j.raw, scoreCol)
	if err != nil {
		return nil, err
	}
	targets, err := coerceBinaryLabels(j.labels, scores)
	if err != nil {
		return nil, err
	}

	report := &MetricReport{NSamples: len(j.ids)}

	if auc, ok := rocAUC(targets, scores); ok {
		report.AUC = &auc
		if auc <= 0 {
			zap.L().Warn("eval: computed ROC AUC <= 0",
				zap.Float64("auc", auc),
			)
		}
	} else {
		zap.L().Warn("eval: failed to compute ROC AUC",
			zap.Int("n_samples", len(j.ids)),
		)
	}

	// Hard predictions at the fixed 0.5 threshold. A NaN score never
	// compares >= 0.5, so missing scores predict the negative class.
	hard := make([]int, len(scores))
	for i, s := range scores {
		if s >= 0.5 {
			hard[i] = 1
		}
	}
	report.Precision, report.Recall, report.F1, report.Accuracy = pointMetrics(targets, hard)

	if fpr, tpr, ok := rocCurve(targets, scores); ok {
		report.ROC = &ROCCurve{FPR: fpr, TPR: tpr}
	}
	if precision, recall, ok := prCurve(targets, scores); ok {
		report.PR = &PRCurve{Precision: precision, Recall: recall}
	}

	return report, nil
}

// pointMetrics computes binary precision, recall, F1 and accuracy with
// class 1 as positive. Zero divisions yield 0, not an error.
func pointMetrics(targets, predicted []int) (precision, recall, f1, accuracy float64) {
	var tp, fp, fn, correct int
	for i, y := range targets {
		if predicted[i] == y {
			correct++
		}
		switch {
		case predicted[i] == 1 && y == 1:
			tp++
		case predicted[i] == 1 && y != 1:
			fp++
		case predicted[i] != 1 && y == 1:
			fn++
		}
	}
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	if len(targets) > 0 {
		accuracy = float64(correct) / float64(len(targets))
	}
	return precision, recall, f1, accuracy
}

// binaryClasses resolves the positive class for a target vector. It
// reports ok only when the targets hold exactly two distinct values and
// every score is a usable number; the greater value is the positive class.
func binaryClasses(targets []int, scores []float64) (positive int, ok bool) {
	distinct := make(map[int]bool)
	for i, y := range targets {
		if math.IsNaN(scores[i]) {
			return 0, false
		}
		distinct[y] = true
	}
	if len(distinct) != 2 {
		return 0, false
	}
	positive = math.MinInt
	for y := range distinct {
		if y > positive {
			positive = y
		}
	}
	return positive, true
}

// sortedROCInput prepares score-ascending inputs for gonum's stat.ROC.
func sortedROCInput(targets []int, scores []float64, positive int) (ys []float64, classes []bool) {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	ys = make([]float64, len(idx))
	classes = make([]bool, len(idx))
	for i, k := range idx {
		ys[i] = scores[k]
		classes[i] = targets[k] == positive
	}
	return ys, classes
}

// rocAUC computes the area under the ROC curve. ok is false when AUC is
// undefined: fewer or more than two distinct target values, or a
// non-finite score.
func rocAUC(targets []int, scores []float64) (float64, bool) {
	positive, ok := binaryClasses(targets, scores)
	if !ok {
		return 0, false
	}
	ys, classes := sortedROCInput(targets, scores, positive)
	tpr, fpr, _ := stat.ROC(nil, ys, classes, nil)
	auc := integrate.Trapezoidal(fpr, tpr)
	if math.IsNaN(auc) {
		return 0, false
	}
	return auc, true
}

// rocCurve computes the ROC sweep. ok follows the same conditions as
// rocAUC.
func rocCurve(targets []int, scores []float64) (fpr, tpr []float64, ok bool) {
	positive, okc := binaryClasses(targets, scores)
	if !okc {
		return nil, nil, false
	}
	ys, classes := sortedROCInput(targets, scores, positive)
	tpr, fpr, _ = stat.ROC(nil, ys, classes, nil)
	return fpr, tpr, true
}

// prCurve computes the precision-recall sweep over distinct score
// thresholds, ending at the conventional (precision=1, recall=0) point.
// ok is false when there are no positive targets or a score is NaN.
func prCurve(targets []int, scores []float64) (precision, recall []float64, ok bool) {
	var totalPos int
	for i, y := range targets {
		if math.IsNaN(scores[i]) {
			return nil, nil, false
		}
		if y == 1 {
			totalPos++
		}
	}
	if totalPos == 0 {
		return nil, nil, false
	}

	thresholds := distinctSorted(scores)
	for _, t := range thresholds {
		var tp, pp int
		for i, s := range scores {
			if s >= t {
				pp++
				if targets[i] == 1 {
					tp++
				}
			}
		}
		if pp == 0 {
			continue
		}
		precision = append(precision, float64(tp)/float64(pp))
		recall = append(recall, float64(tp)/float64(totalPos))
	}
	precision = append(precision, 1)
	recall = append(recall, 0)
	return precision, recall, true
}

func distinctSorted(scores []float64) []float64 {
	out := append([]float64(nil), scores...)
	sort.Float64s(out)
	n := 0
	for i, s := range out {
		if i == 0 || s != out[n-1] {
			out[n] = s
			n++
		}
	}
	return out[:n]
}
