// Package auth verifies signed inbound webhooks.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rise-n-smoke/ordering/internal/platform/httpx"
	"github.com/rise-n-smoke/ordering/internal/platform/requestctx"
)

const (
	defaultSignatureHeader = "X-Clover-Signature"
	defaultMaxBodyBytes    = 1 << 20
	signaturePrefix        = "sha256="
)

var (
	errSignatureMissing  = errors.New("auth: signature header missing")
	errSignatureEncoding = errors.New("auth: signature must be hex or base64")
	errSignatureMismatch = errors.New("auth: signature mismatch")
	errSecretMissing     = errors.New("auth: signing secret not configured")
)

// WebhookVerifier checks an HMAC-SHA256 signature computed over the raw
// request body with a shared secret.
type WebhookVerifier struct {
	secret   []byte
	header   string
	maxBytes int64
	logger   *zap.Logger
}

// VerifierOption customises a WebhookVerifier.
type VerifierOption func(*WebhookVerifier)

// WithSignatureHeader overrides the header carrying the signature.
func WithSignatureHeader(name string) VerifierOption {
	return func(v *WebhookVerifier) {
		if strings.TrimSpace(name) != "" {
			v.header = strings.TrimSpace(name)
		}
	}
}

// WithMaxBodyBytes caps the body read for verification.
func WithMaxBodyBytes(n int64) VerifierOption {
	return func(v *WebhookVerifier) {
		if n > 0 {
			v.maxBytes = n
		}
	}
}

// WithVerifierLogger sets the fallback logger for rejected requests.
func WithVerifierLogger(logger *zap.Logger) VerifierOption {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewWebhookVerifier builds a verifier. An empty secret rejects every request.
func NewWebhookVerifier(secret string, opts ...VerifierOption) *WebhookVerifier {
	v := &WebhookVerifier{
		secret:   []byte(secret),
		header:   defaultSignatureHeader,
		maxBytes: defaultMaxBodyBytes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether signature matches body.
func (v *WebhookVerifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return errSecretMissing
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return errSignatureMissing
	}
	got, err := decodeSignature(signature)
	if err != nil {
		return err
	}
	if !hmac.Equal(got, Sign(v.secret, body)) {
		return errSignatureMismatch
	}
	return nil
}

// Middleware rejects requests whose signature does not verify with 401 and
// restores the body for the next handler.
func (v *WebhookVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = v.logger
		}

		body, err := readAndRestoreBody(r, v.maxBytes)
		if err != nil {
			logger.Warn("webhook body unreadable", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
			return
		}
		if err := v.Verify(body, r.Header.Get(v.header)); err != nil {
			logger.Warn("webhook signature rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "signature verification failed", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignHex returns Sign hex encoded, the form senders put in the header.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign([]byte(secret), body))
}

func readAndRestoreBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, errors.New("auth: body exceeds limit")
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimPrefix(value, signaturePrefix)
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errSignatureEncoding
}
