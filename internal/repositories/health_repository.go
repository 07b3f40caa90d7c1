package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe checks one dependency. Required probes that fail turn the report into
// an error; optional ones only degrade it.
type Probe struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

// ProbeOption customises the probe-backed health repository.
type ProbeOption func(*probeHealthRepository)

// WithProbeTimeout overrides the timeout applied when a probe omits its own.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(repo *probeHealthRepository) {
		if timeout > 0 {
			repo.timeout = timeout
		}
	}
}

// WithProbeClock injects a clock for tests.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(repo *probeHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type probeHealthRepository struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository builds a HealthRepository over probes.
func NewProbeHealthRepository(probes []Probe, opts ...ProbeOption) (HealthRepository, error) {
	repo := &probeHealthRepository{timeout: defaultProbeTimeout, now: time.Now}
	for _, p := range probes {
		if strings.TrimSpace(p.Name) == "" || p.Check == nil {
			return nil, errors.New("health repository: probe requires a name and a check")
		}
		repo.probes = append(repo.probes, p)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	results := make(map[string]domain.HealthCheck, len(r.probes))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	report := domain.HealthReport{Status: domain.HealthStatusOK}

	for _, probe := range r.probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()
			check := r.run(ctx, probe)

			mu.Lock()
			defer mu.Unlock()
			results[probe.Name] = check
			switch {
			case check.Status == domain.HealthStatusOK:
			case probe.Optional:
				if report.Status == domain.HealthStatusOK {
					report.Status = domain.HealthStatusDegraded
				}
			default:
				report.Status = domain.HealthStatusError
			}
		}(probe)
	}
	wg.Wait()

	report.Checks = results
	report.GeneratedAt = r.now()
	return report, nil
}

func (r *probeHealthRepository) run(ctx context.Context, probe Probe) domain.HealthCheck {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := probe.Check(probeCtx)
	end := r.now()

	check := domain.HealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		check.Status = domain.HealthStatusError
		check.Detail = "timeout"
	default:
		check.Status = domain.HealthStatusError
		check.Detail = err.Error()
	}
	return check
}
