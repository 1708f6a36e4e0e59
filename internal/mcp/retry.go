package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether and how often an HTTP exchange is repeated.
// It is consumed by Do and knows nothing about the transport itself.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor in [0, 1).
	Jitter float64
	// Retryable reports whether an attempt's error may be retried.
	Retryable func(error) bool
}

// retryableStatus is the set of transient HTTP statuses worth retrying.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableStatus reports whether an HTTP status is transient.
func IsRetryableStatus(code int) bool {
	return retryableStatus[code]
}

// NewRetryPolicy returns the policy for a server: exponential backoff with
// jitter, retrying only transient HTTP statuses.
func NewRetryPolicy(maxRetries int, initial time.Duration) RetryPolicy {
	if initial <= 0 {
		initial = DefaultRetryBackoff
	}
	return RetryPolicy{
		MaxRetries:      maxRetries,
		InitialInterval: initial,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
		Retryable:       retryableTransportError,
	}
}

func retryableTransportError(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	return te.Kind == TransportHTTPStatus && IsRetryableStatus(te.StatusCode)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.RandomizationFactor = p.Jitter
	b.Multiplier = p.Multiplier
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// retries are used up. The last error is returned unwrapped.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = retryableTransportError
	}
	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
}
