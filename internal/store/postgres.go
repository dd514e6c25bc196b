package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mlboard/internal/eval"
	"github.com/sells-group/mlboard/internal/model"
)

// Pool abstracts pgxpool.Pool so the postgres store can be unit tested
// against pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	role       TEXT NOT NULL DEFAULT 'user',
	group_name TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS datasets (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	description     TEXT,
	data_ref        TEXT,
	groundtruth_ref TEXT,
	uploader_id     TEXT REFERENCES users(id),
	is_official     BOOLEAN NOT NULL DEFAULT false,
	stats           JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS submissions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	dataset_id TEXT NOT NULL REFERENCES datasets(id),
	file_ref   TEXT,
	evaluated  BOOLEAN NOT NULL DEFAULT false,
	score      JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_user_id ON submissions(user_id);
CREATE INDEX IF NOT EXISTS idx_submissions_dataset_id ON submissions(dataset_id);
CREATE INDEX IF NOT EXISTS idx_datasets_is_official ON datasets(is_official);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, role, group_name, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, string(u.Role), u.GroupName, u.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert user %s", u.Username)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, role, COALESCE(group_name, ''), created_at FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &role, &u.GroupName, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "user %s", username)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get user %s", username)
	}
	u.Role = model.Role(role)
	return &u, nil
}

func (s *PostgresStore) CreateDataset(ctx context.Context, d *model.Dataset) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	statsJSON, err := jsonOrNil(d.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dataset stats")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO datasets (id, name, description, data_ref, groundtruth_ref, uploader_id, is_official, stats, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.Name, d.Description, d.DataRef, d.GroundTruthRef, d.UploaderID, d.IsOfficial, statsJSON, d.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert dataset %s", d.Name)
}

func (s *PostgresStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	var d model.Dataset
	var statsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(description, ''), COALESCE(data_ref, ''), COALESCE(groundtruth_ref, ''),
		        COALESCE(uploader_id, ''), is_official, stats, created_at
		 FROM datasets WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.Description, &d.DataRef, &d.GroundTruthRef, &d.UploaderID, &d.IsOfficial, &statsJSON, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "dataset %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dataset %s", id)
	}
	if len(statsJSON) > 0 {
		var stats eval.GroundTruthStats
		if err := json.Unmarshal(statsJSON, &stats); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal stats for dataset %s", id)
		}
		d.Stats = &stats
	}
	return &d, nil
}

func (s *PostgresStore) ListDatasets(ctx context.Context, page, pageSize int) ([]model.Dataset, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count datasets")
	}

	limit, offset := normalizePage(page, pageSize)
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(description, ''), COALESCE(data_ref, ''), COALESCE(groundtruth_ref, ''),
		        COALESCE(uploader_id, ''), is_official, stats, created_at
		 FROM datasets ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list datasets")
	}
	defer rows.Close()

	var out []model.Dataset
	for rows.Next() {
		var d model.Dataset
		var statsJSON []byte
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.DataRef, &d.GroundTruthRef, &d.UploaderID, &d.IsOfficial, &statsJSON, &d.CreatedAt); err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan dataset")
		}
		if len(statsJSON) > 0 {
			var stats eval.GroundTruthStats
			if err := json.Unmarshal(statsJSON, &stats); err != nil {
				return nil, 0, eris.Wrapf(err, "postgres: unmarshal stats for dataset %s", d.ID)
			}
			d.Stats = &stats
		}
		out = append(out, d)
	}
	return out, total, eris.Wrap(rows.Err(), "postgres: list datasets")
}

func (s *PostgresStore) SetDatasetStats(ctx context.Context, id string, stats *eval.GroundTruthStats) error {
	statsJSON, err := jsonOrNil(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dataset stats")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE datasets SET stats = $1 WHERE id = $2`, statsJSON, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set stats for dataset %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dataset %s", id)
	}
	return nil
}

// MarkOfficial flags one dataset as official and clears the flag everywhere
// else, so at most one dataset is official at a time.
func (s *PostgresStore) MarkOfficial(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE datasets SET is_official = false`); err != nil {
		return eris.Wrap(err, "postgres: clear official flags")
	}
	tag, err := tx.Exec(ctx, `UPDATE datasets SET is_official = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark dataset %s official", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dataset %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit mark official")
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	scoreJSON, err := jsonOrNil(sub.Score)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal submission score")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO submissions (id, user_id, dataset_id, file_ref, evaluated, score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.UserID, sub.DatasetID, sub.FileRef, sub.Evaluated, scoreJSON, sub.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert submission %s", sub.ID)
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var sub model.Submission
	var scoreJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, dataset_id, COALESCE(file_ref, ''), evaluated, score, created_at
		 FROM submissions WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.UserID, &sub.DatasetID, &sub.FileRef, &sub.Evaluated, &scoreJSON, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "submission %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get submission %s", id)
	}
	if len(scoreJSON) > 0 {
		var report eval.MetricReport
		if err := json.Unmarshal(scoreJSON, &report); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal score for submission %s", id)
		}
		sub.Score = &report
	}
	return &sub, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, int, error) {
	where := `WHERE 1=1`
	args := []any{}
	n := 0
	if filter.UserID != "" {
		n++
		where += ` AND user_id = $1`
		args = append(args, filter.UserID)
	}
	if filter.DatasetID != "" {
		n++
		if n == 1 {
			where += ` AND dataset_id = $1`
		} else {
			where += ` AND dataset_id = $2`
		}
		args = append(args, filter.DatasetID)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM submissions `+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count submissions")
	}

	limit, offset := normalizePage(filter.Page, filter.PageSize)
	query := `SELECT id, user_id, dataset_id, COALESCE(file_ref, ''), evaluated, score, created_at
		 FROM submissions ` + where + ` ORDER BY created_at DESC, id`
	switch n {
	case 0:
		query += ` LIMIT $1 OFFSET $2`
	case 1:
		query += ` LIMIT $2 OFFSET $3`
	default:
		query += ` LIMIT $3 OFFSET $4`
	}
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list submissions")
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		var sub model.Submission
		var scoreJSON []byte
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.DatasetID, &sub.FileRef, &sub.Evaluated, &scoreJSON, &sub.CreatedAt); err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan submission")
		}
		if len(scoreJSON) > 0 {
			var report eval.MetricReport
			if err := json.Unmarshal(scoreJSON, &report); err != nil {
				return nil, 0, eris.Wrapf(err, "postgres: unmarshal score for submission %s", sub.ID)
			}
			sub.Score = &report
		}
		out = append(out, sub)
	}
	return out, total, eris.Wrap(rows.Err(), "postgres: list submissions")
}

func (s *PostgresStore) SaveScore(ctx context.Context, submissionID string, report *eval.MetricReport) error {
	scoreJSON, err := jsonOrNil(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal score")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET score = $1, evaluated = true WHERE id = $2`,
		scoreJSON, submissionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save score for submission %s", submissionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "submission %s", submissionID)
	}
	return nil
}

func (s *PostgresStore) ListScored(ctx context.Context, datasetID string) ([]model.ScoredRow, error) {
	query := `SELECT s.id, s.user_id, COALESCE(u.group_name, ''), s.dataset_id, s.score, s.created_at
		 FROM submissions s JOIN users u ON u.id = s.user_id
		 WHERE s.evaluated = true`
	args := []any{}
	if datasetID != "" {
		query += ` AND s.dataset_id = $1`
		args = append(args, datasetID)
	}
	query += ` ORDER BY s.created_at ASC, s.id`
	return s.queryScored(ctx, query, args...)
}

func (s *PostgresStore) ListScoredByGroup(ctx context.Context, groupName, datasetID string) ([]model.ScoredRow, error) {
	return s.queryScored(ctx,
		`SELECT s.id, s.user_id, COALESCE(u.group_name, ''), s.dataset_id, s.score, s.created_at
		 FROM submissions s JOIN users u ON u.id = s.user_id
		 WHERE s.evaluated = true AND u.group_name = $1 AND s.dataset_id = $2
		 ORDER BY s.created_at ASC, s.id`,
		groupName, datasetID)
}

func (s *PostgresStore) queryScored(ctx context.Context, query string, args ...any) ([]model.ScoredRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scored submissions")
	}
	defer rows.Close()

	var out []model.ScoredRow
	for rows.Next() {
		var r model.ScoredRow
		var scoreJSON []byte
		if err := rows.Scan(&r.SubmissionID, &r.UserID, &r.GroupName, &r.DatasetID, &scoreJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scored submission")
		}
		if len(scoreJSON) > 0 {
			var report eval.MetricReport
			if err := json.Unmarshal(scoreJSON, &report); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal score for submission %s", r.SubmissionID)
			}
			r.Score = &report
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scored submissions")
}

func jsonOrNil(v any) ([]byte, error) {
	switch x := v.(type) {
	case *eval.GroundTruthStats:
		if x == nil {
			return nil, nil
		}
	case *eval.MetricReport:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
