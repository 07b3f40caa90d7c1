// Package secrets resolves secret:// references against Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const meterName = "github.com/rise-n-smoke/ordering/internal/platform/secrets"

// Client is the Secret Manager surface the fetcher uses.
type Client interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references like secret://clover-api-token or
// secret://clover-api-token?version=3&project=other. Values are cached for the
// process lifetime. A local fallback file (KEY=value, keyed by secret name)
// serves development machines without Secret Manager access.
type Fetcher struct {
	client    Client
	ownClient bool
	projectID string
	logger    *zap.Logger
	fallback  map[string]string
	retry     []gax.CallOption

	mu    sync.RWMutex
	cache map[string]string

	lookups metric.Int64Counter
}

// Option customises NewFetcher.
type Option func(*Fetcher)

// WithClient injects a Secret Manager client.
func WithClient(client Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFallbackFile loads a dotenv style file of secret values.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		values, err := godotenv.Read(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secrets: fallback file unreadable", zap.String("path", path), zap.Error(err))
			}
			return
		}
		f.fallback = values
	}
}

// NewFetcher builds a fetcher. Without an injected client it dials Secret
// Manager; a dial failure leaves the fetcher in fallback-only mode.
func NewFetcher(ctx context.Context, projectID string, opts []option.ClientOption, fopts ...Option) *Fetcher {
	f := &Fetcher{
		projectID: strings.TrimSpace(projectID),
		logger:    zap.NewNop(),
		cache:     map[string]string{},
		retry: []gax.CallOption{gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded}, gax.Backoff{
				Initial:    200 * time.Millisecond,
				Max:        2 * time.Second,
				Multiplier: 2,
			})
		})},
	}
	for _, opt := range fopts {
		opt(f)
	}
	if f.client == nil && f.projectID != "" {
		client, err := secretmanager.NewClient(ctx, opts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager unavailable, using fallback only", zap.Error(err))
		} else {
			f.client = client
			f.ownClient = true
		}
	}
	counter, err := otel.Meter(meterName).Int64Counter("secrets.lookups",
		metric.WithDescription("Secret lookups by source"))
	if err == nil {
		f.lookups = counter
	}
	return f
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret value for ref.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	project := parsed.project
	if project == "" {
		project = f.projectID
	}
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, parsed.name, parsed.version)

	f.mu.RLock()
	cached, ok := f.cache[resource]
	f.mu.RUnlock()
	if ok {
		f.count(ctx, "cache")
		return cached, nil
	}

	if f.client != nil && project != "" {
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource}, f.retry...)
		switch {
		case err == nil:
			value := string(resp.GetPayload().GetData())
			f.store(resource, value)
			f.count(ctx, "remote")
			return value, nil
		case !fallbackAllowed(err):
			return "", fmt.Errorf("secrets: access %s: %w", parsed.name, err)
		}
		f.logger.Debug("secrets: remote lookup failed, trying fallback", zap.String("secret", parsed.name), zap.Error(err))
	}

	if value, ok := f.fallback[parsed.name]; ok {
		f.store(resource, value)
		f.count(ctx, "fallback")
		return value, nil
	}
	return "", fmt.Errorf("secrets: %s not found", parsed.name)
}

// Close releases the client when the fetcher dialed it.
func (f *Fetcher) Close() error {
	if f.ownClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *Fetcher) store(resource, value string) {
	f.mu.Lock()
	f.cache[resource] = value
	f.mu.Unlock()
}

func (f *Fetcher) count(ctx context.Context, source string) {
	if f.lookups != nil {
		f.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable:
		return true
	}
	return false
}

type reference struct {
	name    string
	version string
	project string
}

func parseReference(ref string) (reference, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	q := u.Query()
	version := strings.TrimSpace(q.Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{name: name, version: version, project: strings.TrimSpace(q.Get("project"))}, nil
}
