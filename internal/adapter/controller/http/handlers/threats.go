package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dscybers/phishshield/internal/entity"
	"github.com/dscybers/phishshield/internal/usecase/threats"
)

// ThreatsHandler handles threat intelligence HTTP requests
type ThreatsHandler struct {
	service *threats.Service
}

// NewThreatsHandler creates a new threats handler
func NewThreatsHandler(service *threats.Service) *ThreatsHandler {
	return &ThreatsHandler{service: service}
}

// Routes mounts the read-only threat-intel endpoints. Report and feed
// sync are mounted by the caller behind auth.
func (h *ThreatsHandler) Routes(r chi.Router) {
	r.Get("/analyze", h.AnalyzeURL)
	r.Get("/domain/{domain}", h.AnalyzeDomain)
	r.Get("/reputation/{domain}", h.GetReputation)
	r.Get("/sources", h.GetSources)
	r.Get("/cache/stats", h.GetStats)
	r.Get("/feeds/status", h.GetFeedsStatus)
}

func writeThreatsError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, threats.ErrInvalidURL), errors.Is(err, threats.ErrInvalidDomain):
		ErrorResponse(w, http.StatusBadRequest, message, err)
	case errors.Is(err, threats.ErrFeedsDisabled):
		ErrorResponse(w, http.StatusServiceUnavailable, message, err)
	default:
		ErrorResponse(w, http.StatusInternalServerError, message, err)
	}
}

// AnalyzeURL queries every threat source for a URL
// GET /api/v1/threat-intel/analyze?url=
func (h *ThreatsHandler) AnalyzeURL(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		ErrorResponse(w, http.StatusBadRequest, "url query parameter required", nil)
		return
	}

	result, hit, err := h.service.AnalyzeURL(r.Context(), rawURL)
	if err != nil {
		writeThreatsError(w, "Failed to analyze URL", err)
		return
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"result":    result,
		"cache_hit": hit,
	})
}

// AnalyzeDomain queries every threat source for a domain
// GET /api/v1/threat-intel/domain/{domain}
func (h *ThreatsHandler) AnalyzeDomain(w http.ResponseWriter, r *http.Request) {
	result, hit, err := h.service.AnalyzeDomain(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		writeThreatsError(w, "Failed to analyze domain", err)
		return
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"result":    result,
		"cache_hit": hit,
	})
}

// GetReputation returns the reputation summary of a domain
// GET /api/v1/threat-intel/reputation/{domain}
func (h *ThreatsHandler) GetReputation(w http.ResponseWriter, r *http.Request) {
	rep, err := h.service.DomainReputation(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		writeThreatsError(w, "Failed to fetch reputation", err)
		return
	}

	JSONResponse(w, http.StatusOK, rep)
}

// GetSources returns configured threat sources
// GET /api/v1/threat-intel/sources
func (h *ThreatsHandler) GetSources(w http.ResponseWriter, r *http.Request) {
	sources := h.service.Sources()

	configured := 0
	for _, s := range sources {
		if s.Configured {
			configured++
		}
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"sources":    sources,
		"total":      len(sources),
		"configured": configured,
	})
}

// GetStats returns cache and provider statistics
// GET /api/v1/threat-intel/cache/stats
func (h *ThreatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, h.service.GetStats())
}

// GetFeedsStatus returns the sync state of each feed
// GET /api/v1/threat-intel/feeds/status
func (h *ThreatsHandler) GetFeedsStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.service.FeedStatuses()
	if err != nil {
		writeThreatsError(w, "Feeds unavailable", err)
		return
	}

	JSONResponse(w, http.StatusOK, statuses)
}

// SyncFeeds refreshes every feed now
// POST /api/v1/threat-intel/feeds/sync
func (h *ThreatsHandler) SyncFeeds(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.SyncFeeds(r.Context())
	if err != nil {
		writeThreatsError(w, "Feed sync failed", err)
		return
	}

	type feedResult struct {
		Source     string `json:"source"`
		Success    bool   `json:"success"`
		EntryCount int    `json:"entry_count"`
		Error      string `json:"error,omitempty"`
	}
	out := make([]feedResult, 0, len(results))
	for _, res := range results {
		fr := feedResult{Source: res.Source, Success: res.Success, EntryCount: res.EntryCount}
		if res.Error != nil {
			fr.Error = res.Error.Error()
		}
		out = append(out, fr)
	}

	SuccessResponse(w, "Feed sync complete", out)
}

// ReportThreat records a user report and invalidates the cached result
// POST /api/v1/threat-intel/report
func (h *ThreatsHandler) ReportThreat(w http.ResponseWriter, r *http.Request) {
	var req entity.ThreatReport
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	report, err := h.service.ReportThreat(r.Context(), req)
	if err != nil {
		writeThreatsError(w, "Failed to record report", err)
		return
	}

	SuccessResponse(w, "Threat report recorded", report)
}

// GetReports returns recent user reports
// GET /api/v1/threat-intel/reports
func (h *ThreatsHandler) GetReports(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, h.service.RecentReports(queryInt(r, "limit", 50)))
}
