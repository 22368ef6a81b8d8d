package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"
)

// Version is reported by /health
var Version = "dev"

var startTime = time.Now()

// checkTimeout bounds each dependency probe
const checkTimeout = 2 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Uptime      string            `json:"uptime"`
	Environment string            `json:"environment"`
	Timestamp   time.Time         `json:"timestamp"`
	Layers      []string          `json:"layers"`
	Checks      map[string]string `json:"checks"`
	System      SystemInfo        `json:"system"`
}

// SystemInfo represents system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
	MemAllocMB   uint64 `json:"mem_alloc_mb"`
}

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// HealthHandler serves liveness, readiness and health endpoints
type HealthHandler struct {
	env    string
	layers []string
	checks map[string]CheckFunc
}

// NewHealthHandler creates a health handler reporting the enabled layers
func NewHealthHandler(env string, layers []string) *HealthHandler {
	return &HealthHandler{
		env:    env,
		layers: layers,
		checks: make(map[string]CheckFunc),
	}
}

// AddCheck registers a dependency probe (ClickHouse, Redis, ...)
func (h *HealthHandler) AddCheck(name string, fn CheckFunc) {
	h.checks[name] = fn
}

func (h *HealthHandler) runChecks(ctx context.Context) (map[string]string, bool) {
	results := map[string]string{"api": "ok"}
	healthy := true

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := h.checks[name](cctx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	return results, healthy
}

// Health reports dependency status and runtime info
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	checks, healthy := h.runChecks(r.Context())
	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	JSONResponse(w, http.StatusOK, HealthResponse{
		Status:      status,
		Version:     Version,
		Uptime:      time.Since(startTime).Round(time.Second).String(),
		Environment: h.env,
		Timestamp:   time.Now().UTC(),
		Layers:      h.layers,
		Checks:      checks,
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			NumCPU:       runtime.NumCPU(),
			NumGoroutine: runtime.NumGoroutine(),
			MemAllocMB:   m.Alloc / 1024 / 1024,
		},
	})
}

// Ready returns 503 while any dependency check fails
// GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks, healthy := h.runChecks(r.Context())
	if !healthy {
		JSONResponse(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready", "checks": checks})
		return
	}
	JSONResponse(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

// Live always answers while the process serves requests
// GET /live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, map[string]string{"status": "alive"})
}
