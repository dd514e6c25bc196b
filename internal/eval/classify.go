package eval

import (
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// labelValue is one classification label coerced for comparison: int if it
// parses as an int, else float if it parses as a float, else the original
// string. Numeric values of different widths compare equal ("1" == "1.0");
// a numeric value never equals a string.
type labelValue struct {
	numeric bool
	num     float64
	text    string
}

func coerceLabel(s string) labelValue {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return labelValue{numeric: true, num: float64(i), text: strconv.FormatInt(i, 10)}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return labelValue{numeric: true, num: f, text: formatFloatLabel(f)}
	}
	return labelValue{text: s}
}

// formatFloatLabel renders a float label the way dynamic languages print
// one, keeping a trailing ".0" on integral values so that the string sort
// key distinguishes float-typed labels from int-typed ones.
func formatFloatLabel(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e16 {
		for _, c := range s {
			if c == '.' || c == 'e' || c == 'E' {
				return s
			}
		}
		return s + ".0"
	}
	return s
}

func (v labelValue) equal(o labelValue) bool {
	if v.numeric != o.numeric {
		return false
	}
	if v.numeric {
		return v.num == o.num
	}
	return v.text == o.text
}

// distinctLabels returns the distinct values in vs keyed by comparison
// semantics, keeping the first-seen representative of each class.
func distinctLabels(vs []labelValue) []labelValue {
	var out []labelValue
	for _, v := range vs {
		found := false
		for _, d := range out {
			if d.equal(v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

func sortLabels(vs []labelValue) {
	sort.SliceStable(vs, func(a, b int) bool { return vs[a].text < vs[b].text })
}

// ComputeClassificationMetrics scores a categorical prediction CSV whose
// labels are meant to equal the ground truth exactly. It fails only when
// either file is missing; an empty ground truth or an empty join degrades
// to an all-zero report so that collection views never break on one bad
// submission. AUC is attempted only when the predictions all parse as
// scores and both labels and scores carry at least two distinct values.
func ComputeClassificationMetrics(groundTruthPath, predictPath string) (*MetricReport, error) {
	if _, err := os.Stat(groundTruthPath); err != nil {
		return nil, eris.Wrapf(err, "eval: groundtruth not found: %s", groundTruthPath)
	}
	if _, err := os.Stat(predictPath); err != nil {
		return nil, eris.Wrapf(err, "eval: submission file not found: %s", predictPath)
	}

	gt, err := readLabelMap(groundTruthPath)
	if err != nil {
		return nil, err
	}
	pred, err := readLabelMap(predictPath)
	if err != nil {
		return nil, err
	}
	if gt.Len() == 0 {
		return &MetricReport{}, nil
	}

	var rawTrue, rawPred []string
	for _, id := range gt.IDs() {
		p, ok := pred.Get(id)
		if !ok {
			continue
		}
		v, _ := gt.Get(id)
		rawTrue = append(rawTrue, v)
		rawPred = append(rawPred, p)
	}
	if len(rawTrue) == 0 {
		return &MetricReport{}, nil
	}

	yTrue := make([]labelValue, len(rawTrue))
	yPred := make([]labelValue, len(rawPred))
	for i := range rawTrue {
		yTrue[i] = coerceLabel(rawTrue[i])
		yPred[i] = coerceLabel(rawPred[i])
	}

	// Prediction values usable as scores only when every one is numeric.
	scores := make([]float64, len(rawPred))
	for i, s := range rawPred {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			scores = nil
			break
		}
		scores[i] = f
	}

	report := &MetricReport{NSamples: len(yTrue)}
	report.Accuracy = exactAccuracy(yTrue, yPred)

	trueClasses := distinctLabels(yTrue)
	sortLabels(trueClasses)
	if len(trueClasses) == 2 {
		// Binary averaging: the positive label is the greatest distinct
		// ground-truth value under string ordering. This is deliberately
		// deterministic, unlike the mean-score inference on the
		// probability path.
		report.Precision, report.Recall, report.F1 = binaryAverage(yTrue, yPred, trueClasses[1])
	} else {
		report.Precision, report.Recall, report.F1 = macroAverage(yTrue, yPred)
	}

	zap.L().Debug("eval: exact-match scoring",
		zap.Int("n_samples", len(yTrue)),
		zap.Int("unique_labels", len(trueClasses)),
		zap.Int("unique_scores", distinctFloatCount(scores)),
	)

	if scores != nil && distinctFloatCount(scores) > 1 && len(trueClasses) > 1 {
		if auc, ok := exactMatchAUC(yTrue, scores, trueClasses); ok {
			report.AUC = &auc
		} else {
			zap.L().Warn("eval: failed to compute ROC AUC for exact-match scoring",
				zap.Int("unique_labels", len(trueClasses)),
			)
		}
	}

	return report, nil
}

func exactAccuracy(yTrue, yPred []labelValue) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i].equal(yPred[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

// binaryAverage computes precision/recall/F1 against a single positive
// class, with zero divisions collapsing to 0.
func binaryAverage(yTrue, yPred []labelValue, positive labelValue) (precision, recall, f1 float64) {
	var tp, fp, fn int
	for i := range yTrue {
		predPos := yPred[i].equal(positive)
		truePos := yTrue[i].equal(positive)
		switch {
		case predPos && truePos:
			tp++
		case predPos && !truePos:
			fp++
		case !predPos && truePos:
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
	return precision, recall, f1
}

// macroAverage computes unweighted per-class precision/recall/F1 over the
// union of classes present in either vector, sorted by string form for
// determinism.
func macroAverage(yTrue, yPred []labelValue) (precision, recall, f1 float64) {
	classes := distinctLabels(append(append([]labelValue(nil), yTrue...), yPred...))
	sortLabels(classes)
	if len(classes) == 0 {
		return 0, 0, 0
	}
	for _, c := range classes {
		p, r, f := binaryAverage(yTrue, yPred, c)
		precision += p
		recall += r
		f1 += f
	}
	n := float64(len(classes))
	return precision / n, recall / n, f1 / n
}

// exactMatchAUC attempts an opportunistic AUC: the ground truth must carry
// exactly two classes, the greater class (numeric when both are numeric,
// else by string form) is positive.
func exactMatchAUC(yTrue []labelValue, scores []float64, classes []labelValue) (float64, bool) {
	if len(classes) != 2 {
		return 0, false
	}
	positive := classes[1]
	if classes[0].numeric && classes[1].numeric && classes[0].num > classes[1].num {
		positive = classes[0]
	}
	targets := make([]int, len(yTrue))
	for i, v := range yTrue {
		if v.equal(positive) {
			targets[i] = 1
		}
	}
	return rocAUC(targets, scores)
}

func distinctFloatCount(fs []float64) int {
	seen := make(map[float64]bool, len(fs))
	for _, f := range fs {
		seen[f] = true
	}
	return len(seen)
}
