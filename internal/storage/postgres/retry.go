package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/metrics"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

// Retrier retries transient failures with linear backoff: the wait after
// attempt n is n times BaseDelay.
type Retrier struct {
	Attempts    int
	BaseDelay   time.Duration
	IsTransient func(error) bool
	Sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier with the default transient-error predicate.
func NewRetrier(attempts int, base time.Duration) Retrier {
	if attempts <= 0 {
		attempts = 3
	}
	if base < 0 {
		base = 0
	}
	return Retrier{Attempts: attempts, BaseDelay: base, IsTransient: isTransient, Sleep: sleepCtx}
}

// Backoff returns the delay after the given 1-based attempt.
func (r Retrier) Backoff(attempt int) time.Duration {
	return time.Duration(attempt) * r.BaseDelay
}

// Do runs fn until it succeeds, fails permanently or exhausts the attempts.
// The returned error is tagged with a crawler.Kind.
func (r Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	transient := r.IsTransient
	if transient == nil {
		transient = isTransient
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var err error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return classify(op, err)
		}
		if attempt == r.Attempts {
			break
		}
		metrics.ObserveStoreRetry(op)
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if sleepErr := sleep(ctx, r.Backoff(attempt)); sleepErr != nil {
			return crawler.E(crawler.KindTimeout, op, sleepErr)
		}
	}
	return crawler.E(crawler.KindTransientConnectivity, op, fmt.Errorf("giving up after %d attempts: %w", r.Attempts, err))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isTransient reports whether err is a lost or refused connection that a
// fresh attempt may fix.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if crawler.IsKind(err, crawler.KindTransientConnectivity) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientSQLState(pgErr.Code)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

func transientSQLState(code string) bool {
	switch code {
	case "57P01", "57P02", "57P03", "53300", "40001", "40P01":
		return true
	}
	return len(code) == 5 && code[:2] == "08"
}

// classify tags a permanent error with its Kind.
func classify(op string, err error) error {
	var tagged *crawler.Error
	if errors.As(err, &tagged) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, store.ErrNotFound) {
		return crawler.E(crawler.KindNotFound, op, store.ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.E(crawler.KindTimeout, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) == 5 {
		switch pgErr.Code[:2] {
		case "23":
			return crawler.E(crawler.KindIntegrityViolation, op, err)
		case "42", "22":
			return crawler.E(crawler.KindInvalidInput, op, err)
		}
	}
	return crawler.E(crawler.KindUnknown, op, err)
}
