package exchange

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// newRestClient builds the shared resty client venue adapters use.
func newRestClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
}

// venueLogger returns a zerolog logger scoped to a venue.
func venueLogger(venue string) zerolog.Logger {
	return log.With().Str("venue", venue).Logger()
}

// withRetry runs a venue call with bounded exponential backoff. Only
// transport-level failures are retried; venue-semantic errors pass through
// immediately (the queue owns semantic retries).
func withRetry(ctx context.Context, logger zerolog.Logger, op string, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(250*time.Millisecond),
			backoff.WithMaxInterval(2*time.Second),
		), 3), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if _, semantic := IsTradeError(err); semantic {
			return backoff.Permanent(err)
		}
		logger.Warn().Err(err).Str("op", op).Msg("venue call retrying")
		return err
	}, policy)
}

// pollFills polls queryFn until the order is done, the wait budget runs out,
// or the context is cancelled. The last observed fill state is returned.
func pollFills(ctx context.Context, maxWaitSec float64, queryFn func() (*Fill, bool, error)) (*Fill, error) {
	if maxWaitSec <= 0 {
		maxWaitSec = 3
	}
	deadline := time.Now().Add(time.Duration(maxWaitSec * float64(time.Second)))
	last := &Fill{}

	for {
		fill, done, err := queryFn()
		if err == nil && fill != nil {
			last = fill
			if done {
				return last, nil
			}
		}
		if time.Now().After(deadline) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
