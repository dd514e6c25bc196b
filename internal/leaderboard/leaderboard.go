// Package leaderboard ranks scored submissions by group.
package leaderboard

import (
	"sort"

	"github.com/sells-group/mlboard/internal/eval"
	"github.com/sells-group/mlboard/internal/model"
)

// Entry is one leaderboard row: a group's best scored submission on a dataset.
type Entry struct {
	Rank         int     `json:"rank"`
	GroupName    string  `json:"group_name"`
	DatasetID    string  `json:"dataset_id"`
	SubmissionID string  `json:"submission_id"`
	UserID       string  `json:"user_id"`
	AUC          float64 `json:"auc"`
	F1           float64 `json:"f1"`
	Accuracy     float64 `json:"acc"`
	NSamples     int     `json:"n_samples"`
	Submissions  int     `json:"submissions"`
}

// HistoryPoint is one scored submission over time, for plotting a group's
// progress.
type HistoryPoint struct {
	SubmissionID string             `json:"submission_id"`
	GroupName    string             `json:"group_name"`
	DatasetID    string             `json:"dataset_id"`
	Score        *eval.MetricReport `json:"score"`
	CreatedAt    string             `json:"created_at"`
}

// groupKey identifies a competing unit. Users without a group compete alone.
type groupKey struct {
	group   string
	dataset string
}

func groupOf(r model.ScoredRow) string {
	if r.GroupName != "" {
		return r.GroupName
	}
	return "user-" + r.UserID
}

// Rank builds the leaderboard from scored rows. Rows without a usable AUC are
// skipped. Each group keeps its best submission per dataset; a later
// submission replaces an earlier one only when its AUC is strictly greater,
// so ties keep the first achiever on top.
func Rank(rows []model.ScoredRow) []Entry {
	best := make(map[groupKey]*Entry)
	var order []groupKey

	for _, r := range rows {
		if r.Score == nil || r.Score.AUC == nil {
			continue
		}
		key := groupKey{group: groupOf(r), dataset: r.DatasetID}
		cur, ok := best[key]
		if !ok {
			best[key] = &Entry{
				GroupName:    key.group,
				DatasetID:    r.DatasetID,
				SubmissionID: r.SubmissionID,
				UserID:       r.UserID,
				AUC:          *r.Score.AUC,
				F1:           r.Score.F1,
				Accuracy:     r.Score.Accuracy,
				NSamples:     r.Score.NSamples,
				Submissions:  1,
			}
			order = append(order, key)
			continue
		}
		cur.Submissions++
		if *r.Score.AUC > cur.AUC {
			cur.SubmissionID = r.SubmissionID
			cur.UserID = r.UserID
			cur.AUC = *r.Score.AUC
			cur.F1 = r.Score.F1
			cur.Accuracy = r.Score.Accuracy
			cur.NSamples = r.Score.NSamples
		}
	}

	out := make([]Entry, 0, len(order))
	for _, key := range order {
		out = append(out, *best[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AUC != out[j].AUC {
			return out[i].AUC > out[j].AUC
		}
		return out[i].F1 > out[j].F1
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// History returns every scored submission in chronological order, optionally
// filtered to one group. Rows without a score are skipped.
func History(rows []model.ScoredRow, group string) []HistoryPoint {
	var out []HistoryPoint
	for _, r := range rows {
		if r.Score == nil {
			continue
		}
		g := groupOf(r)
		if group != "" && g != group {
			continue
		}
		out = append(out, HistoryPoint{
			SubmissionID: r.SubmissionID,
			GroupName:    g,
			DatasetID:    r.DatasetID,
			Score:        r.Score,
			CreatedAt:    r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return out
}
