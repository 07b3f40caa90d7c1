// Package postgres opens the pgx connection pool and classifies its errors.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rise-n-smoke/ordering/internal/platform/config"
)

const connectTimeout = 10 * time.Second

// NewPool connects and pings the database.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("postgres: database url not configured")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Error carries the repository classification of a Postgres failure.
type Error struct {
	Op          string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
	// Constraint names the violated constraint for unique violations.
	Constraint string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool { return e.notFound }

func (e *Error) IsConflict() bool { return e.conflict }

func (e *Error) IsUnavailable() bool { return e.unavailable }

// SQLSTATE codes the repositories care about.
const (
	codeUniqueViolation     = "23505"
	codeSerializationFailed = "40001"
	codeDeadlockDetected    = "40P01"
)

// WrapError classifies err. pgx.ErrNoRows becomes not found, unique
// violations become conflicts, connection failures become unavailable.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	wrapped := &Error{Op: op, Err: err}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		wrapped.notFound = true
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case codeUniqueViolation:
			wrapped.conflict = true
			wrapped.Constraint = pgErr.ConstraintName
		case codeSerializationFailed, codeDeadlockDetected:
			wrapped.conflict = true
		}
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") {
			wrapped.unavailable = true
		}
	case pgconn.SafeToRetry(err) || pgconn.Timeout(err):
		wrapped.unavailable = true
	}
	return wrapped
}

// Conflict builds a conflict error for rule violations detected in SQL, such
// as a conditional UPDATE that matched no row.
func Conflict(op string, err error) error {
	return &Error{Op: op, Err: err, conflict: true}
}

// NotFound builds a not-found error.
func NotFound(op string, err error) error {
	return &Error{Op: op, Err: err, notFound: true}
}
