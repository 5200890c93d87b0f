package handler

import (
	"context"
	"net/http"
	"time"
)

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	checks    map[string]Check
	startedAt time.Time
	timeout   time.Duration
}

// NewHealthHandler creates a HealthHandler. checks maps a dependency name
// such as "redis" to its probe.
func NewHealthHandler(mode string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		checks:    checks,
		startedAt: time.Now().UTC(),
		timeout:   2 * time.Second,
	}
}

type healthResponse struct {
	Status        string            `json:"status"`
	Mode          string            `json:"mode"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Timestamp     string            `json:"timestamp"`
	Dependencies  map[string]string `json:"dependencies,omitempty"`
}

// HealthCheck probes every dependency and reports 503 when any is down.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{
		Status:        "ok",
		Mode:          h.mode,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if len(h.checks) > 0 {
		resp.Dependencies = make(map[string]string, len(h.checks))
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Dependencies[name] = "down: " + err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Dependencies[name] = "ok"
	}

	writeJSON(w, status, resp)
}
