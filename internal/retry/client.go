// Package retry wraps fallible remote operations with bounded retries,
// multiplicative backoff with jitter, and transient-error classification.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"
)

// Config bounds a retried operation.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is suitable for data-vendor HTTP calls.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is
// spent. Only transient errors are retried.
func Do[T any](ctx context.Context, logger *log.Logger, cfg Config, desc string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-opCtx.Done():
			return zero, fmt.Errorf("%s timed out after %v: %w", desc, cfg.Timeout, opCtx.Err())
		default:
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled: %w", desc, ctx.Err())
		}

		res, err := op(opCtx)
		if err == nil {
			return res, nil
		}

		lastErr = err
		logger.Printf("%s attempt %d/%d failed: %v", desc, attempt+1, cfg.MaxRetries+1, err)

		if IsTransient(err) && attempt < cfg.MaxRetries {
			logger.Printf("Transient error detected, retrying in %v", backoff)
			select {
			case <-time.After(backoff):
				backoff = nextBackoff(backoff, cfg.MaxBackoff)
			case <-opCtx.Done():
				return zero, fmt.Errorf("%s timed out during backoff: %w", desc, opCtx.Err())
			case <-ctx.Done():
				return zero, fmt.Errorf("%s canceled during backoff: %w", desc, ctx.Err())
			}
		} else {
			break
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", desc, cfg.MaxRetries+1, lastErr)
}

func nextBackoff(current, max time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > max {
		backoff = max
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// IsTransient reports whether the error looks like a temporary network or
// server condition worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
