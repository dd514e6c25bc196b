package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mlboard/internal/config"
	"github.com/sells-group/mlboard/internal/model"
	"github.com/sells-group/mlboard/internal/storage"
	"github.com/sells-group/mlboard/internal/store"
)

const (
	adminToken = "admin-secret"
	userToken  = "user-secret"
)

type testEnv struct {
	srv   *httptest.Server
	store store.Store
	admin *model.User
	user  *model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	admin := &model.User{Username: "admin", Role: model.RoleAdmin, GroupName: "staff"}
	require.NoError(t, st.CreateUser(context.Background(), admin))
	user := &model.User{Username: "alice", GroupName: "team-a"}
	require.NoError(t, st.CreateUser(context.Background(), user))

	uploads, err := storage.NewUploads(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	cfg := config.ServerConfig{
		Port:           0,
		RatePerSecond:  1000,
		RateBurst:      1000,
		MaxUploadBytes: 1 << 20,
		APITokens: []config.TokenEntry{
			{Token: adminToken, Username: "admin"},
			{Token: userToken, Username: "alice"},
		},
	}

	s := New(st, storage.NewResolver(storage.Options{TempDir: dir}), uploads, cfg, NewStaticVerifier(cfg.APITokens))
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: st, admin: admin, user: user}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName, fileContent string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(fileContent))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func createDataset(t *testing.T, e *testEnv, gtCSV string) model.Dataset {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{"name": "spam"}, "groundtruth", "gt.csv", gtCSV)
	resp := e.do(t, http.MethodPost, "/datasets", adminToken, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[model.Dataset](t, resp)
}

func createSubmission(t *testing.T, e *testEnv, datasetID, predCSV string) model.Submission {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{"dataset_id": datasetID}, "file", "preds.csv", predCSV)
	resp := e.do(t, http.MethodPost, "/submissions", userToken, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[model.Submission](t, resp)
}

func TestHealth_NoAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_MissingToken(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/datasets", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_BadToken(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/datasets", "wrong", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateDataset_AdminOnly(t *testing.T) {
	e := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{"name": "x"}, "groundtruth", "gt.csv", "id,label\n1,0\n")
	resp := e.do(t, http.MethodPost, "/datasets", userToken, body, ct)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCreateDataset_AnalyzesOnUpload(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n2,1\n3,1\n")

	assert.NotEmpty(t, d.ID)
	require.NotNil(t, d.Stats)
	assert.True(t, d.Stats.SchemaValid)
	assert.Equal(t, 3, d.Stats.TotalRows)
	assert.Equal(t, 2, d.Stats.LabelDistribution["1"])
}

func TestCreateDataset_BadSchemaStillCreated(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "key,value\n1,0\n")

	require.NotNil(t, d.Stats)
	assert.False(t, d.Stats.SchemaValid)
	assert.Contains(t, d.Stats.Errors, "Missing 'id' column")
}

func TestGetDataset_NotFound(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/datasets/missing", userToken, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadGroundTruth(t *testing.T) {
	e := newTestEnv(t)
	gt := "id,label\n1,0\n"
	d := createDataset(t, e, gt)

	resp := e.do(t, http.MethodGet, "/datasets/"+d.ID+"/groundtruth", userToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, gt, string(data))
}

func TestMarkOfficial_SingleWinner(t *testing.T) {
	e := newTestEnv(t)
	a := createDataset(t, e, "id,label\n1,0\n")
	b := createDataset(t, e, "id,label\n1,1\n")

	resp := e.do(t, http.MethodPost, "/datasets/"+a.ID+"/mark_official", adminToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/datasets/"+b.ID+"/mark_official", adminToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	gotA, err := e.store.GetDataset(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.IsOfficial)
	gotB, err := e.store.GetDataset(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, gotB.IsOfficial)
}

func TestMarkOfficial_RequiresAdmin(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n")

	resp := e.do(t, http.MethodPost, "/datasets/"+d.ID+"/mark_official", userToken, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCreateSubmission_UnknownDataset(t *testing.T) {
	e := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{"dataset_id": "missing"}, "file", "p.csv", "id,label_pred\n1,0.5\n")
	resp := e.do(t, http.MethodPost, "/submissions", userToken, body, ct)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvaluate_EndToEnd(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n2,0\n3,1\n4,1\n")
	sub := createSubmission(t, e, d.ID, "id,label_pred\n1,0.1\n2,0.2\n3,0.8\n4,0.9\n")
	assert.False(t, sub.Evaluated)

	resp := e.do(t, http.MethodPost, "/submissions/"+sub.ID+"/evaluate", adminToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := decode[map[string]any](t, resp)
	assert.InDelta(t, 1.0, report["auc"].(float64), 1e-9)
	assert.InDelta(t, 1.0, report["f1"].(float64), 1e-9)
	assert.Equal(t, float64(4), report["n_samples"])

	got, err := e.store.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.Evaluated)
	require.NotNil(t, got.Score)
	require.NotNil(t, got.Score.AUC)
	assert.InDelta(t, 1.0, *got.Score.AUC, 1e-9)
}

func TestEvaluate_SchemaErrorIs400AndNothingPersisted(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n2,1\n")
	sub := createSubmission(t, e, d.ID, "id,comment\n1,hello\n2,world\n")

	resp := e.do(t, http.MethodPost, "/submissions/"+sub.ID+"/evaluate", adminToken, nil, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "probability column")

	got, err := e.store.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, got.Evaluated)
	assert.Nil(t, got.Score)
}

func TestEvaluate_NoMatchingIDsIs400(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n2,1\n")
	sub := createSubmission(t, e, d.ID, "id,label_pred\n8,0.5\n9,0.5\n")

	resp := e.do(t, http.MethodPost, "/submissions/"+sub.ID+"/evaluate", adminToken, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvaluate_ExactMode(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n2,1\n3,1\n4,0\n")
	sub := createSubmission(t, e, d.ID, "id,label\n1,0\n2,1\n3,0\n4,0\n")

	resp := e.do(t, http.MethodPost, "/submissions/"+sub.ID+"/evaluate?mode=exact", adminToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := decode[map[string]any](t, resp)
	assert.InDelta(t, 0.75, report["acc"].(float64), 1e-9)
}

func TestEvaluate_RequiresAdmin(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n")
	sub := createSubmission(t, e, d.ID, "id,label_pred\n1,0.5\n")

	resp := e.do(t, http.MethodPost, "/submissions/"+sub.ID+"/evaluate", userToken, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestListSubmissions_FilterByDataset(t *testing.T) {
	e := newTestEnv(t)
	d1 := createDataset(t, e, "id,label\n1,0\n")
	d2 := createDataset(t, e, "id,label\n1,1\n")
	createSubmission(t, e, d1.ID, "id,label_pred\n1,0.5\n")
	createSubmission(t, e, d2.ID, "id,label_pred\n1,0.5\n")

	resp := e.do(t, http.MethodGet, "/submissions?dataset_id="+d1.ID, userToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[struct {
		Items []model.Submission `json:"items"`
		Total int                `json:"total"`
	}](t, resp)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, d1.ID, page.Items[0].DatasetID)
}

func TestListSubmissions_NonAdminSeesOnlyOwn(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n")
	createSubmission(t, e, d.ID, "id,label_pred\n1,0.5\n")

	body, ct := multipartBody(t, map[string]string{"dataset_id": d.ID}, "file", "p.csv", "id,label_pred\n1,0.6\n")
	resp := e.do(t, http.MethodPost, "/submissions", adminToken, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/submissions", userToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[struct {
		Items []model.Submission `json:"items"`
		Total int                `json:"total"`
	}](t, resp)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, e.user.ID, page.Items[0].UserID)

	resp = e.do(t, http.MethodGet, "/submissions", adminToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[struct {
		Items []model.Submission `json:"items"`
		Total int                `json:"total"`
	}](t, resp)
	assert.Equal(t, 2, page.Total)
}

func TestLeaderboard_RanksEvaluatedSubmissions(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n2,0\n3,1\n4,1\n")
	sub := createSubmission(t, e, d.ID, "id,label_pred\n1,0.1\n2,0.2\n3,0.8\n4,0.9\n")

	resp := e.do(t, http.MethodPost, "/submissions/"+sub.ID+"/evaluate", adminToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/leaderboard?dataset_id="+d.ID, userToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	board := decode[struct {
		Entries []map[string]any `json:"entries"`
	}](t, resp)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "team-a", board.Entries[0]["group_name"])
	assert.Equal(t, float64(1), board.Entries[0]["rank"])
}

func TestLeaderboard_EmptyIsEmptyArray(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/leaderboard", userToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":[]}`, string(data))
}

func TestLeaderboardHistory_FilterByGroup(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n2,1\n")
	sub := createSubmission(t, e, d.ID, "id,label_pred\n1,0.1\n2,0.9\n")

	resp := e.do(t, http.MethodPost, "/submissions/"+sub.ID+"/evaluate", adminToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/leaderboard/history?group=team-a", userToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hist := decode[struct {
		Points []map[string]any `json:"points"`
	}](t, resp)
	require.Len(t, hist.Points, 1)
	assert.Equal(t, sub.ID, hist.Points[0]["submission_id"])

	resp = e.do(t, http.MethodGet, "/leaderboard/history?group=team-z", userToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hist = decode[struct {
		Points []map[string]any `json:"points"`
	}](t, resp)
	assert.Empty(t, hist.Points)
}

func TestUploadsAreUUIDKeyed(t *testing.T) {
	e := newTestEnv(t)
	d := createDataset(t, e, "id,label\n1,0\n")
	s1 := createSubmission(t, e, d.ID, "id,label_pred\n1,0.5\n")
	s2 := createSubmission(t, e, d.ID, "id,label_pred\n1,0.6\n")

	assert.NotEqual(t, s1.FileRef, s2.FileRef)
	for _, ref := range []string{s1.FileRef, s2.FileRef} {
		_, err := os.Stat(ref)
		require.NoError(t, err, fmt.Sprintf("upload %s should exist", ref))
	}
}
