package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
	"github.com/Ranjithdurai451/spark-code/internal/keypool"
)

// quotaIndicators are the case-insensitive substrings that classify an
// upstream failure as quota-class. Only the error text is inspected, so
// adapters must preserve upstream failure text through any wrapping.
var quotaIndicators = []string{
	"quota exceeded",
	"rate limit exceeded",
	"429",
	"too many requests",
	"resource_exhausted",
	"resource exhausted",
}

// IsQuotaError reports whether err is a quota-class upstream failure:
// transient and key-specific, so worth retrying with a different key.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range quotaIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// RetryExhaustedError reports that every retry attempt failed. It lets
// callers distinguish "all keys exhausted" from a single transient failure.
type RetryExhaustedError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Service, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Invoker wraps one-shot upstream calls with pool key selection, quota
// classification, and bounded retry. It knows nothing about users or
// credits; it is purely about upstream availability.
type Invoker struct {
	pool       *keypool.Pool
	maxRetries int
	logger     *slog.Logger
}

// NewInvoker creates an Invoker drawing keys from pool. maxRetries bounds
// the attempts per Invoke call; values below 1 are clamped to 1.
func NewInvoker(pool *keypool.Pool, maxRetries int, logger *slog.Logger) *Invoker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Invoker{pool: pool, maxRetries: maxRetries, logger: logger}
}

// Invoke runs op with a pool key for service. A quota-class failure rotates
// the pool and retries with the next key, up to the retry bound. Any other
// failure propagates immediately: retrying a non-transient error wastes a
// request and hides the real fault. Cancellation of ctx stops outstanding
// retries.
func (iv *Invoker) Invoke(ctx context.Context, service string, op driven.Operation) error {
	var lastErr error

	for attempt := 0; attempt < iv.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: invoke cancelled: %w", service, err)
		}

		key, err := iv.pool.Next(service)
		if err != nil {
			return fmt.Errorf("%s: obtain key: %w", service, err)
		}

		err = op(ctx, key)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsQuotaError(err) {
			return err
		}

		iv.pool.ReportQuotaError(service)
		iv.logger.Warn("quota-class upstream failure, rotating key",
			"service", service,
			"attempt", attempt+1,
			"max_retries", iv.maxRetries,
			"error", err,
		)
	}

	return &RetryExhaustedError{Service: service, Attempts: iv.maxRetries, Err: lastErr}
}
