// Package retry classifies database errors as transient or permanent and
// executes callables with exponential backoff plus jitter. It generalizes
// the teacher's hand-rolled RetryableTransaction/backoff pair in
// pkg/dbconn to a dialect-agnostic, standalone retry wrapper used by every
// database call in the engine.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Classifier decides whether an error is worth retrying. Callers may
// override the default classifier with an explicit whitelist.
type Classifier func(err error) bool

// Config configures a retry wrapper.
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
	Classifier      Classifier
	// OnRetry, if set, is called after each failed attempt that will be
	// retried. Panics/errors from OnRetry are swallowed.
	OnRetry func(attempt int, err error, next time.Duration)
	// Sleep is overridable for tests; defaults to time.Sleep honoring ctx.
	Sleep func(ctx context.Context, d time.Duration)
}

// DefaultConfig returns the spec-mandated defaults: 3 retries (4 total
// attempts), 1s base delay, 60s cap, base-2 exponential backoff with
// +/-25% jitter floored at 0.1s.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
		Classifier:      IsTransient,
	}
}

// transientPatterns mirrors original_source/src/utils/retry.py's
// is_retryable_db_exception pattern list, generalized across both
// database drivers' error message text since neither lib/pq nor
// denisenkom/go-mssqldb normalizes error text the way a single MySQL
// driver does.
var transientPatterns = []string{
	"connection",
	"timeout",
	"deadlock",
	"lock wait timeout",
	"lost connection",
	"server has gone away",
	"can't connect",
	"unable to connect",
	"connection refused",
	"connection reset",
	"broken pipe",
	"network error",
	"communication link failure",
	"connection closed",
	"connection terminated",
	"bad connection",
	"i/o timeout",
	"eof",
}

// IsTransient is the default Classifier. It is purely advisory: it
// inspects the error's message text (and context.DeadlineExceeded)
// for well-known transient failure signatures. Syntax errors, constraint
// violations, unknown-identifier errors, and authorization failures are
// never matched and are treated as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Do invokes fn, retrying on transient failures per cfg. Total attempts
// is cfg.MaxRetries+1. After exhaustion, the last error is returned
// unchanged.
func Do(ctx context.Context, cfg *Config, fn func(ctx context.Context) error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = IsTransient
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = ctxSleep
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !classifier(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}
		delay := backoffDelay(cfg, attempt)
		if cfg.OnRetry != nil {
			safeOnRetry(cfg.OnRetry, attempt+1, lastErr, delay)
		}
		sleep(ctx, delay)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func backoffDelay(cfg *Config, attempt int) time.Duration {
	base := cfg.ExponentialBase
	if base == 0 {
		base = 2
	}
	delay := float64(cfg.BaseDelay) * pow(base, attempt)
	if max := float64(cfg.MaxDelay); max > 0 && delay > max {
		delay = max
	}
	if cfg.Jitter {
		jitterAmount := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitterAmount
		if min := float64(100 * time.Millisecond); delay < min {
			delay = min
		}
	}
	return time.Duration(delay)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func safeOnRetry(fn func(int, error, time.Duration), attempt int, err error, next time.Duration) {
	defer func() { _ = recover() }()
	fn(attempt, err, next)
}

func ctxSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
