package eval

import (
	"math"
	"strconv"
	"strings"
)

// joined is the inner join of a ground-truth table and a prediction table
// on identifier. Order follows the ground-truth table's row order.
type joined struct {
	ids    []string
	labels []string
	raw    []string
}

func innerJoin(gt, pred *Table) joined {
	var j joined
	for _, id := range gt.IDs() {
		v, ok := pred.Get(id)
		if !ok {
			continue
		}
		label, _ := gt.Get(id)
		j.ids = append(j.ids, id)
		j.labels = append(j.labels, label)
		j.raw = append(j.raw, v)
	}
	return j
}

// parseScores converts raw score cells to floats. Empty cells become NaN;
// any other unparsable cell is a schema error, since the probability path
// requires a numeric score column.
func parseScores(raw []string, column string) ([]float64, error) {
	scores := make([]float64, len(raw))
	for i, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			scores[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, schemaErrorf("score column %q contains non-numeric value %q", column, s)
		}
		scores[i] = f
	}
	return scores, nil
}

// coerceBinaryLabels maps joined ground-truth labels onto integer targets.
//
// Numeric labels pass through as truncated integers. Text labels must form
// at most two classes; which class maps to 1 is inferred by comparing the
// mean prediction score per class, restricted to rows where both the label
// and a numeric score are present. The class with the higher mean score
// becomes the positive class. Ground truth carries no canonical polarity
// for free-text classes, so polarity follows whichever class the scorer
// ranks higher; this heuristic is load-bearing for score reproducibility
// and must not be replaced with a lexicographic rule.
func coerceBinaryLabels(labels []string, scores []float64) ([]int, error) {
	targets := make([]int, len(labels))
	numeric := true
	for i, l := range labels {
		f, err := strconv.ParseFloat(strings.TrimSpace(l), 64)
		if err != nil {
			numeric = false
			break
		}
		targets[i] = int(f)
	}
	if numeric {
		return targets, nil
	}

	// Distinct non-empty labels in first-appearance order.
	var distinct []string
	seen := make(map[string]bool)
	for _, l := range labels {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		distinct = append(distinct, l)
	}

	switch {
	case len(distinct) == 0:
		return nil, schemaErrorf("ground truth label column is empty")
	case len(distinct) == 1:
		// A single class has no meaningful polarity; the all-zero target
		// leaves AUC undefined downstream while point metrics still compute.
		return make([]int, len(labels)), nil
	case len(distinct) > 2:
		return nil, schemaErrorf("ROC AUC requires binary ground truth labels")
	}

	// Mean score per label over rows with both fields present and numeric.
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for i, l := range labels {
		if l == "" || math.IsNaN(scores[i]) {
			continue
		}
		sums[l] += scores[i]
		counts[l]++
	}
	if len(counts) == 0 {
		return nil, schemaErrorf("score column contains no numeric data for label mapping")
	}

	positive := ""
	best := math.Inf(-1)
	for _, l := range distinct {
		mean := math.Inf(-1)
		if counts[l] > 0 {
			mean = sums[l] / float64(counts[l])
		}
		if mean > best {
			best = mean
			positive = l
		}
	}

	for i, l := range labels {
		if l == positive {
			targets[i] = 1
		} else {
			targets[i] = 0
		}
	}
	return targets, nil
}
