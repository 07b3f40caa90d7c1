package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %v", body["version"])
	}
	if body["commitSha"] != "abc123" {
		t.Fatalf("expected commit abc123, got %v", body["commitSha"])
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyzSuccess(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	repo := &stubHealthRepository{
		report: domain.HealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.HealthCheck{
				"postgres": {Status: domain.HealthStatusOK, Latency: 3 * time.Millisecond, CheckedAt: now},
				"pubsub":   {Status: domain.HealthStatusDegraded, Detail: "not configured", CheckedAt: now},
			},
			GeneratedAt: now,
		},
	}
	handlers := NewHealthHandlers(WithHealthRepository(repo), WithHealthClock(func() time.Time { return now }))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("degraded optional dependencies should stay ready, got %d", rr.Code)
	}
	var body struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "degraded" {
		t.Fatalf("expected degraded, got %s", body.Status)
	}
	if len(body.Checks) != 2 || body.Checks[0].Name != "postgres" || body.Checks[1].Name != "pubsub" {
		t.Fatalf("expected sorted checks, got %#v", body.Checks)
	}
}

func TestHealthHandlersReadyzFailure(t *testing.T) {
	repo := &stubHealthRepository{
		report: domain.HealthReport{Status: domain.HealthStatusError},
		err:    errors.New("postgres: connection refused"),
	}
	handlers := NewHealthHandlers(WithHealthRepository(repo))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got == "" {
		t.Fatalf("expected no-store headers on probes")
	}
}
