package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mlboard/internal/eval"
	"github.com/sells-group/mlboard/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	role       TEXT NOT NULL DEFAULT 'user',
	group_name TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS datasets (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	description     TEXT,
	data_ref        TEXT,
	groundtruth_ref TEXT,
	uploader_id     TEXT REFERENCES users(id),
	is_official     INTEGER NOT NULL DEFAULT 0,
	stats           TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS submissions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	dataset_id TEXT NOT NULL REFERENCES datasets(id),
	file_ref   TEXT,
	evaluated  INTEGER NOT NULL DEFAULT 0,
	score      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_submissions_user_id ON submissions(user_id);
CREATE INDEX IF NOT EXISTS idx_submissions_dataset_id ON submissions(dataset_id);
CREATE INDEX IF NOT EXISTS idx_datasets_is_official ON datasets(is_official);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, role, group_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, string(u.Role), u.GroupName, u.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert user %s", u.Username)
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, role, COALESCE(group_name, ''), created_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &role, &u.GroupName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get user %s", username)
	}
	u.Role = model.Role(role)
	return &u, nil
}

func (s *SQLiteStore) CreateDataset(ctx context.Context, d *model.Dataset) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	statsJSON, err := marshalNullable(d.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dataset stats")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, name, description, data_ref, groundtruth_ref, uploader_id, is_official, stats, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Description, d.DataRef, d.GroundTruthRef, d.UploaderID, d.IsOfficial, statsJSON, d.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert dataset %s", d.Name)
}

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, data_ref, groundtruth_ref, uploader_id, is_official, stats, created_at
		 FROM datasets WHERE id = ?`, id)
	d, err := scanDataset(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dataset %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) ListDatasets(ctx context.Context, page, pageSize int) ([]model.Dataset, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count datasets")
	}

	limit, offset := normalizePage(page, pageSize)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, data_ref, groundtruth_ref, uploader_id, is_official, stats, created_at
		 FROM datasets ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list datasets")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan dataset")
		}
		out = append(out, *d)
	}
	return out, total, eris.Wrap(rows.Err(), "sqlite: list datasets")
}

func (s *SQLiteStore) SetDatasetStats(ctx context.Context, id string, stats *eval.GroundTruthStats) error {
	statsJSON, err := marshalNullable(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dataset stats")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE datasets SET stats = ? WHERE id = ?`, statsJSON, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set stats for dataset %s", id)
	}
	return checkAffected(res, id)
}

// MarkOfficial flags one dataset as official and clears the flag everywhere
// else, so at most one dataset is official at a time.
func (s *SQLiteStore) MarkOfficial(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE datasets SET is_official = 0`); err != nil {
		return eris.Wrap(err, "sqlite: clear official flags")
	}
	res, err := tx.ExecContext(ctx, `UPDATE datasets SET is_official = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark dataset %s official", id)
	}
	if err := checkAffected(res, id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit mark official")
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	scoreJSON, err := marshalNullable(sub.Score)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal submission score")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, user_id, dataset_id, file_ref, evaluated, score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.DatasetID, sub.FileRef, sub.Evaluated, scoreJSON, sub.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert submission %s", sub.ID)
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, dataset_id, file_ref, evaluated, score, created_at
		 FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get submission %s", id)
	}
	return sub, nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, int, error) {
	where := `WHERE 1=1`
	args := []any{}
	if filter.UserID != "" {
		where += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.DatasetID != "" {
		where += ` AND dataset_id = ?`
		args = append(args, filter.DatasetID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions `+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count submissions")
	}

	limit, offset := normalizePage(filter.Page, filter.PageSize)
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, dataset_id, file_ref, evaluated, score, created_at
		 FROM submissions `+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan submission")
		}
		out = append(out, *sub)
	}
	return out, total, eris.Wrap(rows.Err(), "sqlite: list submissions")
}

func (s *SQLiteStore) SaveScore(ctx context.Context, submissionID string, report *eval.MetricReport) error {
	scoreJSON, err := marshalNullable(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal score")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET score = ?, evaluated = 1 WHERE id = ?`,
		scoreJSON, submissionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save score for submission %s", submissionID)
	}
	return checkAffected(res, submissionID)
}

func (s *SQLiteStore) ListScored(ctx context.Context, datasetID string) ([]model.ScoredRow, error) {
	query := `SELECT s.id, s.user_id, COALESCE(u.group_name, ''), s.dataset_id, s.score, s.created_at
		 FROM submissions s JOIN users u ON u.id = s.user_id
		 WHERE s.evaluated = 1`
	args := []any{}
	if datasetID != "" {
		query += ` AND s.dataset_id = ?`
		args = append(args, datasetID)
	}
	query += ` ORDER BY s.created_at ASC, s.id`
	return s.queryScored(ctx, query, args...)
}

func (s *SQLiteStore) ListScoredByGroup(ctx context.Context, groupName, datasetID string) ([]model.ScoredRow, error) {
	return s.queryScored(ctx,
		`SELECT s.id, s.user_id, COALESCE(u.group_name, ''), s.dataset_id, s.score, s.created_at
		 FROM submissions s JOIN users u ON u.id = s.user_id
		 WHERE s.evaluated = 1 AND u.group_name = ? AND s.dataset_id = ?
		 ORDER BY s.created_at ASC, s.id`,
		groupName, datasetID)
}

func (s *SQLiteStore) queryScored(ctx context.Context, query string, args ...any) ([]model.ScoredRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scored submissions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScoredRow
	for rows.Next() {
		var r model.ScoredRow
		var scoreJSON sql.NullString
		if err := rows.Scan(&r.SubmissionID, &r.UserID, &r.GroupName, &r.DatasetID, &scoreJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scored submission")
		}
		if scoreJSON.Valid && scoreJSON.String != "" {
			var report eval.MetricReport
			if err := json.Unmarshal([]byte(scoreJSON.String), &report); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal score for submission %s", r.SubmissionID)
			}
			r.Score = &report
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scored submissions")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*model.Dataset, error) {
	var d model.Dataset
	var statsJSON sql.NullString
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.DataRef, &d.GroundTruthRef, &d.UploaderID, &d.IsOfficial, &statsJSON, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if statsJSON.Valid && statsJSON.String != "" {
		var stats eval.GroundTruthStats
		if err := json.Unmarshal([]byte(statsJSON.String), &stats); err != nil {
			return nil, eris.Wrapf(err, "unmarshal stats for dataset %s", d.ID)
		}
		d.Stats = &stats
	}
	return &d, nil
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	var sub model.Submission
	var scoreJSON sql.NullString
	err := row.Scan(&sub.ID, &sub.UserID, &sub.DatasetID, &sub.FileRef, &sub.Evaluated, &scoreJSON, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	if scoreJSON.Valid && scoreJSON.String != "" {
		var report eval.MetricReport
		if err := json.Unmarshal([]byte(scoreJSON.String), &report); err != nil {
			return nil, eris.Wrapf(err, "unmarshal score for submission %s", sub.ID)
		}
		sub.Score = &report
	}
	return &sub, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case *eval.GroundTruthStats:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *eval.MetricReport:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}
