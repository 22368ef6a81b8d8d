package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dscybers/phishshield/internal/entity"
	"github.com/dscybers/phishshield/internal/usecase/analysis"
)

// AnalysisHandler handles URL analysis HTTP requests
type AnalysisHandler struct {
	service *analysis.Service
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(service *analysis.Service) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

// Routes mounts the analysis endpoints; batchLimits wrap batch submission only
func (h *AnalysisHandler) Routes(r chi.Router, batchLimits ...func(http.Handler) http.Handler) {
	r.Post("/", h.Analyze)
	r.Post("/sandbox", h.AnalyzeSandbox)
	r.With(batchLimits...).Post("/batch", h.SubmitBatch)
	r.Get("/batch/{id}", h.GetBatch)
	r.Get("/history", h.History)
}

// writeAnalysisError maps usecase errors onto HTTP statuses
func writeAnalysisError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, analysis.ErrInvalidURL),
		errors.Is(err, analysis.ErrInvalidPriority),
		errors.Is(err, analysis.ErrBatchTooLarge),
		errors.Is(err, analysis.ErrEmptyBatch):
		ErrorResponse(w, http.StatusBadRequest, message, err)
	case errors.Is(err, analysis.ErrBatchNotFound):
		ErrorResponse(w, http.StatusNotFound, message, err)
	case errors.Is(err, analysis.ErrLayerDisabled):
		ErrorResponse(w, http.StatusServiceUnavailable, message, err)
	case errors.Is(err, context.DeadlineExceeded):
		ErrorResponse(w, http.StatusGatewayTimeout, message, err)
	default:
		ErrorResponse(w, http.StatusInternalServerError, message, err)
	}
}

// Analyze runs the full pipeline on one URL
// POST /api/v1/analyze
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req entity.AnalysisRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	verdict, err := h.service.Analyze(r.Context(), req)
	if err != nil {
		writeAnalysisError(w, "Analysis failed", err)
		return
	}

	JSONResponse(w, http.StatusOK, verdict)
}

type urlRequest struct {
	URL string `json:"url"`
}

// AnalyzeSandbox runs only the sandbox layer
// POST /api/v1/analyze/sandbox
func (h *AnalysisHandler) AnalyzeSandbox(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.service.AnalyzeSandbox(r.Context(), req.URL)
	if err != nil {
		writeAnalysisError(w, "Sandbox analysis failed", err)
		return
	}

	JSONResponse(w, http.StatusOK, result)
}

type batchRequest struct {
	URLs []string `json:"urls"`
}

// SubmitBatch queues up to 50 URLs for background analysis
// POST /api/v1/analyze/batch
func (h *AnalysisHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	job, err := h.service.SubmitBatch(r.Context(), req.URLs)
	if err != nil {
		writeAnalysisError(w, "Batch rejected", err)
		return
	}

	JSONResponse(w, http.StatusAccepted, job)
}

// GetBatch returns the state of a submitted batch
// GET /api/v1/analyze/batch/{id}
func (h *AnalysisHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Batch(chi.URLParam(r, "id"))
	if err != nil {
		writeAnalysisError(w, "Batch not found", err)
		return
	}

	JSONResponse(w, http.StatusOK, job)
}

// History returns stored verdicts for a URL
// GET /api/v1/analyze/history?url=&limit=
func (h *AnalysisHandler) History(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		ErrorResponse(w, http.StatusBadRequest, "url query parameter required", nil)
		return
	}

	verdicts, err := h.service.History(r.Context(), rawURL, queryInt(r, "limit", 20))
	if err != nil {
		writeAnalysisError(w, "Failed to fetch history", err)
		return
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"url":      rawURL,
		"verdicts": verdicts,
		"count":    len(verdicts),
	})
}
