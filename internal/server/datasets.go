package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mlboard/internal/eval"
	"github.com/sells-group/mlboard/internal/model"
	"github.com/sells-group/mlboard/internal/store"
)

func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	return page, pageSize
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	datasets, total, err := s.store.ListDatasets(r.Context(), page, pageSize)
	if err != nil {
		s.internalError(w, err, "list datasets")
		return
	}
	if datasets == nil {
		datasets = []model.Dataset{}
	}
	writeJSON(w, http.StatusOK, paginated{Items: datasets, Total: total, Page: page, PageSize: pageSize})
}

// handleCreateDataset accepts a multipart form with a groundtruth CSV plus
// name/description fields. The file lands under a uuid-keyed path and the
// schema analysis runs immediately so clients see stats on first read.
func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	d := &model.Dataset{
		Name:        name,
		Description: r.FormValue("description"),
		DataRef:     r.FormValue("data_ref"),
		UploaderID:  userFrom(r.Context()).ID,
	}

	file, header, err := r.FormFile("groundtruth")
	if err == nil {
		defer file.Close() //nolint:errcheck
		ref, saveErr := s.uploads.Save(file, header.Filename)
		if saveErr != nil {
			s.internalError(w, saveErr, "save groundtruth upload")
			return
		}
		d.GroundTruthRef = ref
	} else if ref := r.FormValue("groundtruth_ref"); ref != "" {
		d.GroundTruthRef = ref
	} else {
		writeError(w, http.StatusBadRequest, "groundtruth file or groundtruth_ref is required")
		return
	}

	if dataFile, dataHeader, err := r.FormFile("data"); err == nil {
		defer dataFile.Close() //nolint:errcheck
		ref, saveErr := s.uploads.Save(dataFile, dataHeader.Filename)
		if saveErr != nil {
			s.internalError(w, saveErr, "save data upload")
			return
		}
		d.DataRef = ref
	}

	if err := s.store.CreateDataset(r.Context(), d); err != nil {
		s.internalError(w, err, "create dataset")
		return
	}

	// Best effort: a malformed CSV still creates the dataset, with the
	// problems recorded in its stats.
	if stats, err := s.analyzeRef(r, d.GroundTruthRef); err != nil {
		zap.L().Warn("groundtruth analysis failed on create",
			zap.String("dataset_id", d.ID),
			zap.Error(err),
		)
	} else {
		if err := s.store.SetDatasetStats(r.Context(), d.ID, stats); err != nil {
			s.internalError(w, err, "save dataset stats")
			return
		}
		d.Stats = stats
	}

	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDataset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dataset not found")
			return
		}
		s.internalError(w, err, "get dataset")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDownloadGroundTruth(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDataset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dataset not found")
			return
		}
		s.internalError(w, err, "get dataset")
		return
	}
	if d.GroundTruthRef == "" {
		writeError(w, http.StatusNotFound, "dataset has no ground truth")
		return
	}

	path, cleanup, err := s.resolver.Resolve(r.Context(), d.GroundTruthRef)
	if err != nil {
		s.internalError(w, err, "resolve groundtruth ref")
		return
	}
	defer cleanup()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="groundtruth.csv"`)
	http.ServeFile(w, r, path)
}

func (s *Server) handleAnalyzeDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.store.GetDataset(r.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dataset not found")
			return
		}
		s.internalError(w, err, "get dataset")
		return
	}
	if d.GroundTruthRef == "" {
		writeError(w, http.StatusBadRequest, "dataset has no ground truth")
		return
	}

	stats, err := s.analyzeRef(r, d.GroundTruthRef)
	if err != nil {
		s.internalError(w, err, "analyze groundtruth")
		return
	}
	if err := s.store.SetDatasetStats(r.Context(), id, stats); err != nil {
		s.internalError(w, err, "save dataset stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) analyzeRef(r *http.Request, ref string) (*eval.GroundTruthStats, error) {
	path, cleanup, err := s.resolver.Resolve(r.Context(), ref)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return eval.AnalyzeGroundTruth(path)
}

func (s *Server) handleMarkOfficial(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.MarkOfficial(r.Context(), id); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dataset not found")
			return
		}
		s.internalError(w, err, "mark official")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "official_dataset_id": id})
}
