// Package store persists users, datasets and submissions behind a single
// interface with sqlite and postgres backends.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mlboard/internal/eval"
	"github.com/sells-group/mlboard/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = eris.New("store: not found")

// SubmissionFilter specifies criteria for listing submissions.
type SubmissionFilter struct {
	UserID    string `json:"user_id,omitempty"`
	DatasetID string `json:"dataset_id,omitempty"`
	Page      int    `json:"page,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`
}

// Store defines the persistence interface for the leaderboard.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// Datasets
	CreateDataset(ctx context.Context, d *model.Dataset) error
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
	ListDatasets(ctx context.Context, page, pageSize int) ([]model.Dataset, int, error)
	SetDatasetStats(ctx context.Context, id string, stats *eval.GroundTruthStats) error
	MarkOfficial(ctx context.Context, id string) error

	// Submissions
	CreateSubmission(ctx context.Context, s *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, int, error)
	SaveScore(ctx context.Context, submissionID string, report *eval.MetricReport) error

	// Leaderboard
	ListScored(ctx context.Context, datasetID string) ([]model.ScoredRow, error)
	ListScoredByGroup(ctx context.Context, groupName, datasetID string) ([]model.ScoredRow, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func normalizePage(page, pageSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	return pageSize, (page - 1) * pageSize
}
