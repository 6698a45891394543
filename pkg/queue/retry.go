package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// RetryConfig holds retry logic configuration
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Retrier retries failed handler runs with exponential backoff.
// Errors wrapped with backoff.Permanent are returned immediately.
type Retrier struct {
	config  RetryConfig
	logger  *logrus.Logger
	onRetry func()
}

// NewRetrier creates a new retrier. onRetry, when set, is called before
// every retried attempt.
func NewRetrier(config RetryConfig, logger *logrus.Logger, onRetry func()) *Retrier {
	return &Retrier{
		config:  config,
		logger:  logger,
		onRetry: onRetry,
	}
}

// Do runs op until it succeeds, fails permanently, exhausts MaxRetries or
// ctx is done. The last error is returned.
func (r *Retrier) Do(ctx context.Context, fields logrus.Fields, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if r.onRetry != nil {
			r.onRetry()
		}
		r.logger.WithFields(fields).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": wait.String(),
			"error":   err.Error(),
		}).Warn("Handler failed, retrying")
	}

	return backoff.RetryNotify(operation, r.policy(ctx), notify)
}

func (r *Retrier) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialBackoff
	b.MaxInterval = r.config.MaxBackoff
	if r.config.BackoffMultiplier > 0 {
		b.Multiplier = r.config.BackoffMultiplier
	}
	b.MaxElapsedTime = 0
	b.Reset()

	retries := r.config.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// BackoffDurations returns the nominal wait before each retry, ignoring jitter
func (r *Retrier) BackoffDurations() []time.Duration {
	durations := make([]time.Duration, 0, r.config.MaxRetries)
	wait := float64(r.config.InitialBackoff)
	multiplier := r.config.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = backoff.DefaultMultiplier
	}
	for i := 0; i < r.config.MaxRetries; i++ {
		d := time.Duration(wait)
		if d > r.config.MaxBackoff {
			d = r.config.MaxBackoff
		}
		durations = append(durations, d)
		wait *= multiplier
	}
	return durations
}
