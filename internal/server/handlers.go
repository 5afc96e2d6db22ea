package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req types.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if len(req.Query) > 1000 {
		writeError(w, http.StatusBadRequest, "query exceeds 1000 characters")
		return
	}
	if req.TopK < 0 || req.TopK > 50 {
		writeError(w, http.StatusBadRequest, "top_k must be between 1 and 50")
		return
	}

	resp, err := s.engine.ProcessQuery(r.Context(), req)
	if err != nil {
		logging.APIError("query failed: %v", err)
		writeError(w, statusForError(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req types.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	if req.SourceType == "" {
		writeError(w, http.StatusBadRequest, "source_type is required")
		return
	}

	resp, err := s.engine.Ingest(r.Context(), req)
	if err != nil {
		logging.APIError("ingest failed: %v", err)
		writeError(w, statusForError(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIngestFile accepts a multipart upload, stages it to a temp
// file and runs it through the pipeline.
func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.ingCfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.ingCfg.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds %d bytes", s.ingCfg.MaxUploadBytes)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: %v", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !s.extAllowed(ext) {
		writeError(w, http.StatusBadRequest, "unsupported file type %s", ext)
		return
	}

	tmp, err := os.CreateTemp("", "upload-*"+ext)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "staging upload: %v", err)
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeError(w, http.StatusInternalServerError, "staging upload: %v", err)
		return
	}
	tmp.Close()

	namespace := r.FormValue("namespace")
	if namespace == "" {
		namespace = s.ingCfg.DefaultNamespace
	}

	resp, err := s.engine.Ingest(r.Context(), types.IngestRequest{
		SourceType:       "file",
		SourceIdentifier: tmp.Name(),
		Namespace:        namespace,
		Metadata:         map[string]interface{}{"source": header.Filename},
	})
	if err != nil {
		logging.APIError("file ingest failed: %v", err)
		writeError(w, statusForError(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) extAllowed(ext string) bool {
	for _, allowed := range s.ingCfg.AllowedExts {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	if namespace == "" {
		writeError(w, http.StatusBadRequest, "namespace is required")
		return
	}

	if err := s.engine.DeleteNamespace(r.Context(), namespace); err != nil {
		logging.APIError("delete namespace %s: %v", namespace, err)
		writeError(w, statusForError(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "namespace": namespace})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]bool, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		err := check(r.Context())
		services[name] = err == nil
		if err != nil {
			healthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, types.HealthCheck{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   Version,
		Services:  services,
	})
}
