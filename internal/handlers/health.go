package handlers

import (
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/platform/requestctx"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  BuildInfo
	health repositories.HealthRepository
	now    func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by both probes.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthRepository sets the dependency probes behind /readyz.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.health = repo
	}
}

// WithHealthClock overrides time.Now.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

type healthResponse struct {
	Status      domain.HealthStatus  `json:"status"`
	Version     string               `json:"version,omitempty"`
	CommitSHA   string               `json:"commitSha,omitempty"`
	Environment string               `json:"environment,omitempty"`
	Uptime      string               `json:"uptime"`
	Timestamp   string               `json:"timestamp"`
	Checks      []healthCheckPayload `json:"checks,omitempty"`
}

type healthCheckPayload struct {
	Name      string              `json:"name"`
	Status    domain.HealthStatus `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	LatencyMS int64               `json:"latencyMs"`
}

// Healthz reports liveness. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, h.base(domain.HealthStatusOK))
}

// Readyz probes dependencies. Degraded optional dependencies still report 200.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)
	if h.health == nil {
		writeJSONResponse(w, http.StatusOK, h.base(domain.HealthStatusOK))
		return
	}
	report, err := h.health.Collect(r.Context())
	resp := h.base(report.Status)
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		resp.Checks = append(resp.Checks, healthCheckPayload{
			Name:      name,
			Status:    check.Status,
			Detail:    check.Detail,
			LatencyMS: check.Latency.Milliseconds(),
		})
	}
	status := http.StatusOK
	if err != nil || report.Status == domain.HealthStatusError {
		if err != nil {
			requestctx.Logger(r.Context()).Warn("readiness check failed", zap.Error(err))
		}
		resp.Status = domain.HealthStatusError
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}

func (h *HealthHandlers) base(status domain.HealthStatus) healthResponse {
	now := h.now()
	if status == "" {
		status = domain.HealthStatusOK
	}
	return healthResponse{
		Status:      status,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}
