// Package clover is a small client for the Clover REST and Ecommerce APIs.
// Failed requests are retried with bounded exponential backoff on 429, 5xx and
// network errors; other 4xx responses are returned immediately.
package clover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/rise-n-smoke/ordering/internal/platform/config"
)

const (
	instrumentationName = "github.com/rise-n-smoke/ordering/internal/clover"

	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	defaultRPS        = 8
	maxErrorBody      = 64 << 10
)

// Logger mirrors the service logging callback.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Client talks to one Clover merchant.
type Client struct {
	merchantID   string
	apiToken     string
	ecommerceKey string
	apiBase      string
	ecomBase     string
	printOrders  bool

	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     Logger
	now        func() time.Time

	tracer  trace.Tracer
	retries metric.Int64Counter
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBackOff overrides the retry schedule. The retry ceiling still applies.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) {
		if fn != nil {
			c.newBackOff = fn
		}
	}
}

// WithLogger sets the event logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBaseURLs points the client at alternate REST and Ecommerce hosts.
func WithBaseURLs(api, ecommerce string) Option {
	return func(c *Client) {
		if api = strings.TrimRight(strings.TrimSpace(api), "/"); api != "" {
			c.apiBase = api
		}
		if ecommerce = strings.TrimRight(strings.TrimSpace(ecommerce), "/"); ecommerce != "" {
			c.ecomBase = ecommerce
		}
	}
}

// WithRateLimit caps outbound requests per second. Zero disables the limiter.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// New builds a client from configuration.
func New(cfg config.CloverConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.MerchantID) == "" {
		return nil, fmt.Errorf("%w: merchant id is required", ErrNotConfigured)
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, fmt.Errorf("%w: api token is required", ErrNotConfigured)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	} else if cfg.MaxRetries == 0 {
		retries = defaultMaxRetries
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRPS
	}

	c := &Client{
		merchantID:   strings.TrimSpace(cfg.MerchantID),
		apiToken:     strings.TrimSpace(cfg.APIToken),
		ecommerceKey: strings.TrimSpace(cfg.EcommerceKey),
		apiBase:      strings.TrimRight(cfg.APIBaseURL, "/"),
		ecomBase:     strings.TrimRight(cfg.EcommerceBaseURL, "/"),
		printOrders:  cfg.PrintOrders,
		http:         &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		maxRetries:   retries,
		newBackOff:   defaultBackOff,
		logger:       func(context.Context, string, map[string]any) {},
		now:          time.Now,
		tracer:       otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiBase == "" || c.ecomBase == "" {
		return nil, fmt.Errorf("%w: base urls are required", ErrNotConfigured)
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter("clover.requests.retried",
		metric.WithDescription("Clover requests repeated after a retryable failure"))
	if err == nil {
		c.retries = counter
	}
	return c, nil
}

// MerchantID returns the merchant the client is bound to.
func (c *Client) MerchantID() string { return c.merchantID }

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 4 * time.Second
	b.MaxElapsedTime = 0
	return b
}

type api int

const (
	restAPI api = iota
	ecommerceAPI
)

type request struct {
	op             string
	api            api
	method         string
	path           string
	body           any
	idempotencyKey string
}

// do sends req, retrying retryable failures, and decodes the response into out.
func (c *Client) do(ctx context.Context, req request, out any) error {
	ctx, span := c.tracer.Start(ctx, "clover."+req.op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.method),
			attribute.String("clover.operation", req.op),
		))
	defer span.End()

	var payload []byte
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("clover: %s: encode request: %w", req.op, err)
		}
		payload = data
	}

	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := c.send(ctx, req, payload, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if c.retries != nil {
			c.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("clover.operation", req.op)))
		}
		c.logger(ctx, "clover.request_retry", map[string]any{
			"operation": req.op,
			"attempt":   attempt,
			"wait":      wait.String(),
			"error":     err.Error(),
		})
	}

	err := backoff.RetryNotify(operation, policy, notify)
	span.SetAttributes(attribute.Int("clover.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Client) send(ctx context.Context, req request, payload []byte, out any) error {
	base, token := c.apiBase, c.apiToken
	if req.api == ecommerceAPI {
		if c.ecommerceKey == "" {
			return backoff.Permanent(fmt.Errorf("%w: ecommerce key is required", ErrNotConfigured))
		}
		base, token = c.ecomBase, c.ecommerceKey
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, base+req.path, body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("clover: %s: build request: %w", req.op, err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.idempotencyKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("clover: %s: %w", req.op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return parseAPIError(req.op, resp.StatusCode, data)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return backoff.Permanent(fmt.Errorf("clover: %s: decode response: %w", req.op, err))
	}
	return nil
}

func (c *Client) merchantPath(parts ...string) string {
	escaped := make([]string, 0, len(parts)+3)
	escaped = append(escaped, "", "v3", "merchants", url.PathEscape(c.merchantID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}
