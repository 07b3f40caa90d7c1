package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rise-n-smoke/ordering/internal/platform/httpx"
	"github.com/rise-n-smoke/ordering/internal/platform/requestctx"
)

const (
	defaultHeader       = "Idempotency-Key"
	replayHeader        = "Idempotent-Replayed"
	defaultMaxBodyBytes = 1 << 20
)

var errBodyTooLarge = errors.New("request body exceeds allowed size")

type guardConfig struct {
	header     string
	ttl        time.Duration
	maxBytes   int64
	requireKey bool
	now        func() time.Time
}

// Option customises Guard.
type Option func(*guardConfig)

// WithHeader sets the request header carrying the key.
func WithHeader(name string) Option {
	return func(c *guardConfig) {
		if strings.TrimSpace(name) != "" {
			c.header = strings.TrimSpace(name)
		}
	}
}

// WithTTL sets how long completed responses are replayable.
func WithTTL(ttl time.Duration) Option {
	return func(c *guardConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxBodyBytes caps the body buffered for fingerprinting. Larger bodies
// are rejected with 413.
func WithMaxBodyBytes(n int64) Option {
	return func(c *guardConfig) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// RequireKey rejects requests without a key with 400.
func RequireKey() Option {
	return func(c *guardConfig) { c.requireKey = true }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *guardConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Guard makes handlers idempotent per key. Keys are scoped to the cart
// session when one is on the context. Requests without a key pass straight
// through unless RequireKey is set. 5xx and 402 responses are not stored so a
// client may retry them, with a fresh payment token in the 402 case.
func Guard(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := guardConfig{header: defaultHeader, ttl: DefaultTTL, maxBytes: defaultMaxBodyBytes, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				if cfg.requireKey {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", cfg.header+" header is required", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r, cfg.maxBytes)
			if errors.Is(err, errBodyTooLarge) {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
				return
			}
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}
			scoped := scope(ctx, key)
			fingerprint := fingerprintOf(r, body)
			logger := requestctx.Logger(ctx).With(zap.String("idempotency_key", key))

			outcome, entry, err := store.Claim(ctx, scoped, fingerprint, cfg.now(), cfg.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				logger.Error("idempotency claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}
			switch outcome {
			case OutcomeReplay:
				replay(w, entry)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict))
				return
			}

			buf := &bufferedWriter{header: http.Header{}}
			next.ServeHTTP(buf, r)

			// The stored outcome must not depend on the client staying connected.
			persistCtx := context.WithoutCancel(ctx)
			if cacheable(buf.Status()) {
				resp := Response{Status: buf.Status(), Header: buf.header, Body: buf.body.Bytes()}
				if err := store.Complete(persistCtx, scoped, fingerprint, resp, cfg.now(), cfg.ttl); err != nil {
					logger.Error("idempotency save failed", zap.Error(err))
					_ = store.Abandon(persistCtx, scoped)
				}
			} else if err := store.Abandon(persistCtx, scoped); err != nil {
				logger.Warn("idempotency release failed", zap.Error(err))
			}
			buf.flush(w)
		})
	}
}

func cacheable(status int) bool {
	return status < http.StatusInternalServerError && status != http.StatusPaymentRequired
}

func scope(ctx context.Context, key string) string {
	if session := requestctx.CartSession(ctx); session != "" {
		return session + "|" + key
	}
	return key
}

func fingerprintOf(r *http.Request, body []byte) string {
	return digest([]byte(strings.Join([]string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		digest(body),
	}, "\n")))
}

func bufferBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func replay(w http.ResponseWriter, e Entry) {
	for name, values := range e.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeader, "true")
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(e.Body)
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) Status() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.Status())
	_, _ = w.Write(b.body.Bytes())
}

// Sweep purges expired keys every interval until ctx ends.
func Sweep(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Purge(ctx, now.UTC(), batch)
			if err != nil {
				logger.Warn("idempotency purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency keys purged", zap.Int("count", removed))
			}
		}
	}
}
