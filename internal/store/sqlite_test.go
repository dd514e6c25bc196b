package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mlboard/internal/eval"
	"github.com/sells-group/mlboard/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedUser(t *testing.T, st *SQLiteStore, username, group string) *model.User {
	t.Helper()
	u := &model.User{Username: username, GroupName: group}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func seedDataset(t *testing.T, st *SQLiteStore, name string) *model.Dataset {
	t.Helper()
	d := &model.Dataset{Name: name}
	require.NoError(t, st.CreateDataset(context.Background(), d))
	return d
}

func TestSQLite_Users_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	u := &model.User{Username: "alice", Role: model.RoleAdmin, GroupName: "team-a"}
	require.NoError(t, st.CreateUser(ctx, u))
	assert.NotEmpty(t, u.ID)

	got, err := st.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, model.RoleAdmin, got.Role)
	assert.Equal(t, "team-a", got.GroupName)
	assert.True(t, got.IsAdmin())
}

func TestSQLite_Users_DefaultRole(t *testing.T) {
	st := newTestSQLiteStore(t)

	u := seedUser(t, st, "bob", "")
	assert.Equal(t, model.RoleUser, u.Role)
}

func TestSQLite_Users_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetUserByUsername(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Users_DuplicateUsername(t *testing.T) {
	st := newTestSQLiteStore(t)

	seedUser(t, st, "alice", "")
	err := st.CreateUser(context.Background(), &model.User{Username: "alice"})
	require.Error(t, err)
}

func TestSQLite_Datasets_RoundTripWithStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d := &model.Dataset{
		Name:           "spam-2026",
		Description:    "spam detection benchmark",
		GroundTruthRef: "/data/gt.csv",
		Stats: &eval.GroundTruthStats{
			Columns:           []string{"id", "label"},
			SchemaValid:       true,
			TotalRows:         100,
			LabelDistribution: map[string]int{"0": 60, "1": 40},
		},
	}
	require.NoError(t, st.CreateDataset(ctx, d))

	got, err := st.GetDataset(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "spam-2026", got.Name)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 100, got.Stats.TotalRows)
	assert.Equal(t, 40, got.Stats.LabelDistribution["1"])
}

func TestSQLite_Datasets_NilStatsStaysNil(t *testing.T) {
	st := newTestSQLiteStore(t)

	d := seedDataset(t, st, "raw")
	got, err := st.GetDataset(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Stats)
}

func TestSQLite_Datasets_SetStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d := seedDataset(t, st, "raw")
	stats := &eval.GroundTruthStats{SchemaValid: true, TotalRows: 7}
	require.NoError(t, st.SetDatasetStats(ctx, d.ID, stats))

	got, err := st.GetDataset(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 7, got.Stats.TotalRows)
}

func TestSQLite_Datasets_SetStats_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SetDatasetStats(context.Background(), "missing", &eval.GroundTruthStats{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Datasets_MarkOfficial_SingleWinner(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedDataset(t, st, "a")
	b := seedDataset(t, st, "b")

	require.NoError(t, st.MarkOfficial(ctx, a.ID))
	require.NoError(t, st.MarkOfficial(ctx, b.ID))

	gotA, err := st.GetDataset(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := st.GetDataset(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, gotA.IsOfficial)
	assert.True(t, gotB.IsOfficial)
}

func TestSQLite_Datasets_MarkOfficial_MissingLeavesFlagsIntact(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedDataset(t, st, "a")
	require.NoError(t, st.MarkOfficial(ctx, a.ID))

	err := st.MarkOfficial(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	// The failed call must roll back, keeping the previous official flag.
	gotA, err := st.GetDataset(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, gotA.IsOfficial)
}

func TestSQLite_Datasets_List_Pagination(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		seedDataset(t, st, name)
	}

	page1, total, err := st.ListDatasets(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page1, 2)

	page2, total, err := st.ListDatasets(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page2, 1)
}

func TestSQLite_Submissions_SaveScoreRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	u := seedUser(t, st, "alice", "team-a")
	d := seedDataset(t, st, "spam")

	sub := &model.Submission{UserID: u.ID, DatasetID: d.ID, FileRef: "/uploads/x.csv"}
	require.NoError(t, st.CreateSubmission(ctx, sub))

	got, err := st.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, got.Evaluated)
	assert.Nil(t, got.Score)

	auc := 0.91
	report := &eval.MetricReport{AUC: &auc, F1: 0.8, Accuracy: 0.85, NSamples: 50}
	require.NoError(t, st.SaveScore(ctx, sub.ID, report))

	got, err = st.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, got.Evaluated)
	require.NotNil(t, got.Score)
	require.NotNil(t, got.Score.AUC)
	assert.InDelta(t, 0.91, *got.Score.AUC, 1e-12)
	assert.InDelta(t, 0.8, got.Score.F1, 1e-12)
}

func TestSQLite_Submissions_SaveScore_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SaveScore(context.Background(), "missing", &eval.MetricReport{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Submissions_ListFiltered(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice", "")
	bob := seedUser(t, st, "bob", "")
	d1 := seedDataset(t, st, "d1")
	d2 := seedDataset(t, st, "d2")

	require.NoError(t, st.CreateSubmission(ctx, &model.Submission{UserID: alice.ID, DatasetID: d1.ID}))
	require.NoError(t, st.CreateSubmission(ctx, &model.Submission{UserID: alice.ID, DatasetID: d2.ID}))
	require.NoError(t, st.CreateSubmission(ctx, &model.Submission{UserID: bob.ID, DatasetID: d1.ID}))

	byUser, total, err := st.ListSubmissions(ctx, SubmissionFilter{UserID: alice.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byUser, 2)

	byBoth, total, err := st.ListSubmissions(ctx, SubmissionFilter{UserID: alice.ID, DatasetID: d2.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, byBoth, 1)
	assert.Equal(t, d2.ID, byBoth[0].DatasetID)
}

func TestSQLite_ListScored_OnlyEvaluatedWithGroup(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice", "team-a")
	bob := seedUser(t, st, "bob", "")
	d := seedDataset(t, st, "spam")

	scored := &model.Submission{UserID: alice.ID, DatasetID: d.ID}
	require.NoError(t, st.CreateSubmission(ctx, scored))
	require.NoError(t, st.SaveScore(ctx, scored.ID, &eval.MetricReport{F1: 0.5, NSamples: 10}))

	pending := &model.Submission{UserID: bob.ID, DatasetID: d.ID}
	require.NoError(t, st.CreateSubmission(ctx, pending))

	rows, err := st.ListScored(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, scored.ID, rows[0].SubmissionID)
	assert.Equal(t, "team-a", rows[0].GroupName)
	require.NotNil(t, rows[0].Score)
	assert.InDelta(t, 0.5, rows[0].Score.F1, 1e-12)
}

func TestSQLite_ListScoredByGroup(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice", "team-a")
	bob := seedUser(t, st, "bob", "team-b")
	d := seedDataset(t, st, "spam")

	for _, uid := range []string{alice.ID, bob.ID} {
		sub := &model.Submission{UserID: uid, DatasetID: d.ID}
		require.NoError(t, st.CreateSubmission(ctx, sub))
		require.NoError(t, st.SaveScore(ctx, sub.ID, &eval.MetricReport{NSamples: 1}))
	}

	rows, err := st.ListScoredByGroup(ctx, "team-a", d.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, alice.ID, rows[0].UserID)
}
