package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mlboard/internal/eval"
	"github.com/sells-group/mlboard/internal/model"
	"github.com/sells-group/mlboard/internal/store"
)

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	filter := store.SubmissionFilter{
		UserID:    r.URL.Query().Get("user_id"),
		DatasetID: r.URL.Query().Get("dataset_id"),
		Page:      page,
		PageSize:  pageSize,
	}

	// Non-admins only see their own submissions.
	if user := userFrom(r.Context()); user != nil && !user.IsAdmin() {
		filter.UserID = user.ID
	}

	subs, total, err := s.store.ListSubmissions(r.Context(), filter)
	if err != nil {
		s.internalError(w, err, "list submissions")
		return
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	writeJSON(w, http.StatusOK, paginated{Items: subs, Total: total, Page: page, PageSize: pageSize})
}

// handleCreateSubmission accepts a multipart form with a predictions file and
// a dataset_id field. Files land under uuid-keyed paths so identical
// filenames from different users never collide.
func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	datasetID := r.FormValue("dataset_id")
	if datasetID == "" {
		writeError(w, http.StatusBadRequest, "dataset_id is required")
		return
	}
	if _, err := s.store.GetDataset(r.Context(), datasetID); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dataset not found")
			return
		}
		s.internalError(w, err, "get dataset")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	ref, err := s.uploads.Save(file, header.Filename)
	if err != nil {
		s.internalError(w, err, "save submission upload")
		return
	}

	sub := &model.Submission{
		UserID:    userFrom(r.Context()).ID,
		DatasetID: datasetID,
		FileRef:   ref,
	}
	if err := s.store.CreateSubmission(r.Context(), sub); err != nil {
		s.internalError(w, err, "create submission")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		s.internalError(w, err, "get submission")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleEvaluateSubmission scores a submission against its dataset's ground
// truth. Probability scoring is the default; mode=exact switches to
// exact-match label scoring. The score persists only when evaluation
// succeeds, so a failed run leaves the submission unevaluated.
func (s *Server) handleEvaluateSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := s.store.GetSubmission(r.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		s.internalError(w, err, "get submission")
		return
	}

	d, err := s.store.GetDataset(r.Context(), sub.DatasetID)
	if err != nil {
		s.internalError(w, err, "get dataset")
		return
	}
	if d.GroundTruthRef == "" {
		writeError(w, http.StatusBadRequest, "dataset has no ground truth")
		return
	}
	if sub.FileRef == "" {
		writeError(w, http.StatusBadRequest, "submission has no file")
		return
	}

	gtPath, gtCleanup, err := s.resolver.Resolve(r.Context(), d.GroundTruthRef)
	if err != nil {
		s.internalError(w, err, "resolve groundtruth ref")
		return
	}
	defer gtCleanup()

	predPath, predCleanup, err := s.resolver.Resolve(r.Context(), sub.FileRef)
	if err != nil {
		s.internalError(w, err, "resolve submission ref")
		return
	}
	defer predCleanup()

	var report *eval.MetricReport
	if r.URL.Query().Get("mode") == "exact" {
		report, err = eval.ComputeClassificationMetrics(gtPath, predPath)
	} else {
		report, err = eval.EvaluatePredictions(gtPath, predPath)
	}
	if err != nil {
		var schemaErr *eval.SchemaError
		if eris.As(err, &schemaErr) {
			writeError(w, http.StatusBadRequest, schemaErr.Error())
			return
		}
		if eris.Is(err, eval.ErrNoMatchingIDs) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, err, "evaluate submission")
		return
	}

	if err := s.store.SaveScore(r.Context(), id, report); err != nil {
		s.internalError(w, err, "save score")
		return
	}

	zap.L().Info("submission evaluated",
		zap.String("submission_id", id),
		zap.String("dataset_id", sub.DatasetID),
		zap.Int("n_samples", report.NSamples),
	)
	writeJSON(w, http.StatusOK, report)
}
