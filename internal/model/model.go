// Package model defines the leaderboard's persistent records.
package model

import (
	"time"

	"github.com/sells-group/mlboard/internal/eval"
)

// Role controls what a user may do.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is a leaderboard participant. Users compete as groups; a user
// without a group competes alone under a synthetic group name.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	GroupName string    `json:"group_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Dataset is a scoring target: a ground-truth CSV plus an optional raw data
// archive. References are storage refs (local paths or http/ftp URLs)
// resolved at evaluation time.
type Dataset struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	DataRef        string                 `json:"data_ref,omitempty"`
	GroundTruthRef string                 `json:"groundtruth_ref,omitempty"`
	UploaderID     string                 `json:"uploader_id,omitempty"`
	IsOfficial     bool                   `json:"is_official"`
	Stats          *eval.GroundTruthStats `json:"stats,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Submission is one uploaded prediction file. Score is nil until the
// submission has been evaluated.
type Submission struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	DatasetID string             `json:"dataset_id"`
	FileRef   string             `json:"file_ref,omitempty"`
	Evaluated bool               `json:"evaluated"`
	Score     *eval.MetricReport `json:"score,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// ScoredRow is a submission joined with its submitter's group, the shape
// the leaderboard ranks over.
type ScoredRow struct {
	SubmissionID string             `json:"submission_id"`
	UserID       string             `json:"user_id"`
	GroupName    string             `json:"group_name,omitempty"`
	DatasetID    string             `json:"dataset_id"`
	Score        *eval.MetricReport `json:"score,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}
