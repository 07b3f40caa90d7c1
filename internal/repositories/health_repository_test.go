package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

func TestProbeHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)
	repo, err := NewProbeHealthRepository([]Probe{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "firestore", Optional: true, Check: func(context.Context) error { return nil }},
	}, WithProbeClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK || len(report.Checks) != 2 || report.GeneratedAt != now {
		t.Fatalf("unexpected report %#v", report)
	}
}

func TestProbeHealthRepositoryOptionalFailureDegrades(t *testing.T) {
	repo, _ := NewProbeHealthRepository([]Probe{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "mongo", Optional: true, Check: func(context.Context) error { return errors.New("no reachable servers") }},
	})
	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Checks["mongo"].Detail != "no reachable servers" {
		t.Fatalf("unexpected detail %q", report.Checks["mongo"].Detail)
	}
}

func TestProbeHealthRepositoryRequiredTimeoutIsError(t *testing.T) {
	repo, _ := NewProbeHealthRepository([]Probe{
		{Name: "postgres", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusError || report.Checks["postgres"].Detail != "timeout" {
		t.Fatalf("unexpected report %#v", report)
	}
}

func TestNewProbeHealthRepositoryRejectsIncompleteProbe(t *testing.T) {
	if _, err := NewProbeHealthRepository([]Probe{{Name: "x"}}); err == nil {
		t.Fatalf("expected error")
	}
}
