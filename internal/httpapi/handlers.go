package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/encnetwork/doctrans/internal/download"
	"github.com/encnetwork/doctrans/internal/jobs"
	"github.com/encnetwork/doctrans/pkg/log"
)

type enqueueResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	Position      int    `json:"position"`
	EstimatedTime int    `json:"estimated_time"`
	FileCount     int    `json:"file_count"`
}

// handleTranslate accepts a multipart upload and enqueues a job.
//
// Form fields: "files" (one or more), "target_lang" (required),
// "source_lang" (optional, defaults to auto detection).
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request: "+err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	targetLang := strings.TrimSpace(r.FormValue("target_lang"))
	if targetLang == "" {
		writeError(w, http.StatusBadRequest, "target_lang is required")
		return
	}
	sourceLang := strings.TrimSpace(r.FormValue("source_lang"))
	if sourceLang == "" {
		sourceLang = "auto"
	}

	uploads := r.MultipartForm.File["files"]
	if len(uploads) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	for _, header := range uploads {
		if _, err := s.codecs.Lookup(header.Filename); err != nil {
			writeError(w, http.StatusBadRequest, "unsupported file format: "+filepath.Ext(header.Filename))
			return
		}
	}

	jobID := jobs.NewID()
	files := make([]string, 0, len(uploads))
	filePaths := make(map[string]string, len(uploads))
	for _, header := range uploads {
		src, err := header.Open()
		if err != nil {
			s.discardUploads(jobID)
			writeError(w, http.StatusBadRequest, "read upload "+header.Filename+": "+err.Error())
			return
		}
		path, err := s.workspace.SaveUpload(jobID, header.Filename, src)
		_ = src.Close()
		if err != nil {
			s.discardUploads(jobID)
			writeError(w, http.StatusInternalServerError, "store upload "+header.Filename+": "+err.Error())
			return
		}
		name := filepath.Base(path)
		files = append(files, name)
		filePaths[name] = path
	}

	job, err := s.store.Enqueue(r.Context(), jobs.EnqueueRequest{
		ID:         jobID,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Files:      files,
		FilePaths:  filePaths,
	})
	if err != nil {
		s.discardUploads(jobID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{
		JobID:         job.ID,
		Status:        string(job.Status),
		Position:      job.Position,
		EstimatedTime: job.EstimatedTime,
		FileCount:     len(job.OriginalFiles),
	})
}

func (s *Server) discardUploads(jobID string) {
	if err := s.workspace.Remove(jobID); err != nil {
		log.Warn("Failed to discard uploads of job %s: %v", jobID, err)
	}
}

type jobStatusResponse struct {
	JobID           string   `json:"job_id"`
	Status          string   `json:"status"`
	Position        int      `json:"position,omitempty"`
	EstimatedTime   int      `json:"estimated_time,omitempty"`
	OriginalFiles   []string `json:"original_files"`
	TranslatedFiles []string `json:"translated_files,omitempty"`
	DownloadToken   string   `json:"download_token,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	CreatedAt       string   `json:"created_at"`
	ExpiresAt       string   `json:"expires_at"`
}

// handleJobStatus serves GET /api/jobs/{id}.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	job, err := s.store.Get(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	downloadToken := ""
	if job.Status == jobs.StatusCompleted {
		if token, ok := s.downloads.TokenForJob(job.ID); ok {
			downloadToken = token.Token
		}
	}

	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:           job.ID,
		Status:          string(job.Status),
		Position:        job.Position,
		EstimatedTime:   job.EstimatedTime,
		OriginalFiles:   job.OriginalFiles,
		TranslatedFiles: job.TranslatedFiles,
		DownloadToken:   downloadToken,
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ExpiresAt:       job.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// handleQueueStats serves GET /api/queue/stats.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.store.Stats())
}

// handleDownload serves GET /api/download/{token}, streaming the zip of
// translated files while the token is valid.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	value := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/download/"), "/")
	if value == "" || strings.Contains(value, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	token, err := s.downloads.Resolve(r.Context(), value)
	if err != nil {
		switch {
		case errors.Is(err, download.ErrExpired):
			writeError(w, http.StatusGone, "download link expired")
		case errors.Is(err, download.ErrNotFound):
			writeError(w, http.StatusNotFound, "download not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(token.ArtifactPath)+`"`)
	http.ServeFile(w, r, token.ArtifactPath)
}

// handleHealth serves GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"formats": s.codecs.Extensions(),
		"queue":   s.store.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
