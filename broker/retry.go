package broker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wfunc/srtgame/logger"
)

// RetryPolicy bounds ConnectWithRetry. Zero fields take the backoff
// library's defaults; zero MaxTries means no attempt limit.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxTries        uint
}

// ConnectWithRetry calls dial with exponential backoff until it succeeds, the
// policy is exhausted, or ctx is done. Invalid endpoints are not retried.
func ConnectWithRetry(ctx context.Context, dial Dialer, endpoint string, opts Options, policy RetryPolicy) (*Session, error) {
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Log.Warnf("Broker connection attempt failed, retrying in %s: %v", next, err)
		}),
	}
	if policy.MaxTries > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(policy.MaxTries))
	}
	if policy.MaxElapsedTime > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(policy.MaxElapsedTime))
	}

	return backoff.Retry(ctx, func() (*Session, error) {
		s, err := dial(ctx, endpoint, opts)
		if errors.Is(err, ErrInvalidEndpoint) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	}, retryOpts...)
}
