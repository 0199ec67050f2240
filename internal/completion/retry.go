package completion

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// RetryConfig bounds the retry loop around a provider.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// AttemptTimeout caps each individual attempt. Zero means the caller's
	// context deadline is the only bound.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// RetryingProvider wraps a Provider with exponential backoff on transient
// failures. Permanent failures and context cancellation surface immediately.
type RetryingProvider struct {
	inner  Provider
	cfg    RetryConfig
	logger *logging.Logger
}

// NewRetryingProvider wraps inner with the given retry policy.
func NewRetryingProvider(inner Provider, cfg RetryConfig, logger *logging.Logger) *RetryingProvider {
	if cfg == (RetryConfig{}) {
		cfg = DefaultRetryConfig()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RetryingProvider{inner: inner, cfg: cfg, logger: logger}
}

// Complete calls the wrapped provider, retrying transient failures up to
// MaxAttempts times. The returned error on exhaustion is the last provider
// error, not a wrapper, so callers can still classify it.
func (r *RetryingProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialBackoff
	bo.MaxInterval = r.cfg.MaxBackoff

	attempt := 0
	op := func() (*Response, error) {
		attempt++
		attemptCtx := ctx
		if r.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
			defer cancel()
		}
		resp, err := r.inner.Complete(attemptCtx, req)
		if err == nil {
			return resp, nil
		}
		var perr *ProviderError
		if errors.As(err, &perr) && !perr.Transient {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		r.logger.Warn(ctx, "completion attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		return nil, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)))
}
