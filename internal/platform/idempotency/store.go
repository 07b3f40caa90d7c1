// Package idempotency replays the stored response of a mutating request when
// a client repeats it with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long keys are remembered.
const DefaultTTL = 24 * time.Hour

// Outcome is the result of claiming a key.
type Outcome int

const (
	// OutcomeFresh means the caller owns the key and should run the handler.
	OutcomeFresh Outcome = iota
	// OutcomeReplay means a stored response exists.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// ErrKeyReused is returned when a key comes back with a different request.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Entry is a remembered key.
type Entry struct {
	Key         string
	Fingerprint string
	Completed   bool
	Status      int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Response is what gets stored for replay.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists keys. Claim must be atomic per key.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func documentID(key string) string {
	return digest([]byte(strings.TrimSpace(key)))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newEntry(key, fingerprint string, now time.Time, ttl time.Duration) Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

func completeEntry(e Entry, resp Response, now time.Time, ttl time.Duration) Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	e.Completed = true
	e.Status = resp.Status
	e.Header = storableHeader(resp.Header)
	e.Body = append([]byte(nil), resp.Body...)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.ExpiresAt = now.Add(ttl)
	return e
}

// classify decides what an existing, unexpired entry means for a new claim.
func classify(e Entry, fingerprint string) (Outcome, error) {
	if e.Fingerprint != fingerprint {
		return 0, ErrKeyReused
	}
	if e.Completed {
		return OutcomeReplay, nil
	}
	return OutcomeInFlight, nil
}

var hopHeaders = map[string]struct{}{
	"Connection": {}, "Content-Length": {}, "Date": {}, "Keep-Alive": {},
	"Transfer-Encoding": {}, "Upgrade": {}, "Set-Cookie": {},
}

func storableHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
