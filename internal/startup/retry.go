// Package startup holds helpers used while the service is starting.
package startup

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/nzbwatch/nzbwatch/internal/downloader/types"
)

// RetryConfig configures the exponential backoff retry behavior.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Multiplier   float64
}

// DefaultRetryConfig returns the defaults for the startup connectivity check.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  5,
		Multiplier:   2.0,
	}
}

// NewBackOff builds the exponential policy described by cfg. Jitter is
// disabled so delays are predictable in logs.
func (cfg RetryConfig) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()

	if cfg.MaxAttempts <= 0 {
		return b
	}
	return backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
}

// IsNetworkError checks if an error is likely due to network unavailability.
// Client errors wrapping a context deadline count as network errors.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	if errors.As(err, &netErr) || errors.As(err, &dnsErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkIndicators := []string{
		"connection refused",
		"no such host",
		"timeout",
		"network is unreachable",
		"no route to host",
		"host is down",
		"dial tcp",
		"dial udp",
		"i/o timeout",
		"connection reset",
		"temporary failure in name resolution",
	}
	for _, indicator := range networkIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// WithRetry executes fn with exponential backoff retry for network errors only.
// Non-network errors fail immediately without retry.
func WithRetry(ctx context.Context, name string, cfg RetryConfig, fn func() error, logger *zerolog.Logger) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().Str("operation", name).Int("attempt", attempt).Msg("Operation succeeded after retry")
			}
			return nil
		}
		if !IsNetworkError(err) {
			logger.Error().Err(err).Str("operation", name).Msg("Non-network error, not retrying")
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		logger.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Int("maxAttempts", cfg.MaxAttempts).
			Dur("nextRetryIn", next).
			Msg("Network error, will retry")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(cfg.NewBackOff(), ctx), notify)
	if err != nil && IsNetworkError(err) && ctx.Err() == nil {
		logger.Error().Err(err).Str("operation", name).Int("attempts", attempt).
			Msg("Operation failed after all retries")
	}
	return err
}

// CheckClient tests connectivity to the download manager with retry.
func CheckClient(ctx context.Context, client types.StatusClient, cfg RetryConfig, logger *zerolog.Logger) error {
	return WithRetry(ctx, "download client check", cfg, func() error {
		return client.Test(ctx)
	}, logger)
}
