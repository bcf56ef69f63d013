// Package server exposes the batch analysis operations over multipart HTTP.
// Serialization of outcomes happens here and nowhere else: the tagged
// success/failure union maps exhaustively onto the response shapes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/samber/lo"

	"github.com/docvisionhq/docvision/internal/common"
	"github.com/docvisionhq/docvision/internal/cues"
	"github.com/docvisionhq/docvision/internal/orchestrator"
	"github.com/docvisionhq/docvision/internal/upload"
	"github.com/docvisionhq/docvision/internal/vision"
)

// multipartMemory caps the in-memory portion of multipart parsing; larger
// parts spill to disk and are still read fully per file.
const multipartMemory = 32 << 20

// Batcher is the orchestration surface the server depends on.
type Batcher interface {
	AnalyzeBatch(ctx context.Context, files []upload.File) ([]orchestrator.AnalysisOutcome, error)
	ExtractVisualCuesBatch(ctx context.Context, files []upload.File) ([]orchestrator.VisualOutcome, error)
}

// Server routes the two batch operations plus the health probe.
type Server struct {
	orch   Batcher
	logger *slog.Logger
}

func New(orch Batcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{orch: orch, logger: logger}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /visual_cues", s.handleVisualCues)
	return withCORS(mux)
}

// analysisSuccess is a successful /analyze entry. All fields are always
// present; safe defaults guarantee structural completeness upstream.
type analysisSuccess struct {
	File         string        `json:"file"`
	DocumentType string        `json:"document_type"`
	Reasoning    string        `json:"reasoning"`
	Fields       vision.Fields `json:"extracted_textfields"`
}

// visualSuccess is a successful /visual_cues entry.
type visualSuccess struct {
	File string                `json:"file"`
	Cues []cues.PageVisualCues `json:"visual_cues"`
}

// failureEntry is the per-file failure shape shared by both endpoints.
type failureEntry struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	files, err := readFiles(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()}, s.logger)
		return
	}

	outcomes, err := s.orch.AnalyzeBatch(r.Context(), files)
	if err != nil {
		s.writeBatchError(w, err)
		return
	}

	entries := lo.Map(outcomes, func(o orchestrator.AnalysisOutcome, _ int) any {
		if o.Err != nil {
			return failureEntry{File: o.File, Error: o.Err.Error()}
		}
		return analysisSuccess{
			File:         o.File,
			DocumentType: o.Result.DocumentType,
			Reasoning:    o.Result.Reasoning,
			Fields:       o.Result.Fields,
		}
	})
	writeJSON(w, http.StatusOK, entries, s.logger)
}

func (s *Server) handleVisualCues(w http.ResponseWriter, r *http.Request) {
	files, err := readFiles(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()}, s.logger)
		return
	}

	outcomes, err := s.orch.ExtractVisualCuesBatch(r.Context(), files)
	if err != nil {
		s.writeBatchError(w, err)
		return
	}

	entries := lo.Map(outcomes, func(o orchestrator.VisualOutcome, _ int) any {
		if o.Err != nil {
			return failureEntry{File: o.File, Error: o.Err.Error()}
		}
		return visualSuccess{File: o.File, Cues: o.Cues}
	})
	writeJSON(w, http.StatusOK, entries, s.logger)
}

// writeBatchError maps orchestration-level failures. Batch quota violations
// are the only expected kind and return a single error object with 400.
func (s *Server) writeBatchError(w http.ResponseWriter, err error) {
	if errors.Is(err, common.ErrBatchQuotaExceeded) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()}, s.logger)
		return
	}
	s.logger.Error("server.batch_error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"}, s.logger)
}

// readFiles collects every uploaded part from the "files" field.
func readFiles(r *http.Request) ([]upload.File, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart request: %w", err)
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		return nil, errors.New("no files provided")
	}

	headers := r.MultipartForm.File["files"]
	files := make([]upload.File, 0, len(headers))
	for _, h := range headers {
		part, err := h.Open()
		if err != nil {
			return nil, fmt.Errorf("open part %s: %w", h.Filename, err)
		}
		content, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, fmt.Errorf("read part %s: %w", h.Filename, err)
		}
		files = append(files, upload.File{
			Filename:    h.Filename,
			Content:     content,
			ContentType: h.Header.Get("Content-Type"),
		})
	}
	return files, nil
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("server.write_response_failed", "error", err)
	}
}

// withCORS allows browser clients on other origins; the web frontend is
// served separately.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
