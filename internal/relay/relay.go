// Package relay switches machine power with typed failures and, for
// background jobs, bounded retries.
package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/device"
	"laundry-share-backend/internal/errs"
)

// Controller wraps a device.Relay.
type Controller struct {
	relay   device.Relay
	sleeper clock.Sleeper
	log     *zap.SugaredLogger
}

// NewController creates a relay controller.
func NewController(r device.Relay, sleeper clock.Sleeper, log *zap.SugaredLogger) *Controller {
	return &Controller{relay: r, sleeper: sleeper, log: log}
}

// Activate issues a single relay command. Any transport error or non-2xx
// status becomes a RELAY_FAILURE.
func (c *Controller) Activate(ctx context.Context, mode device.Mode) error {
	code, err := c.relay.SetRelay(ctx, mode)
	if err != nil {
		return errs.Wrap(errs.KindRelayFailure, errs.ErrRelayFailure.Message, err)
	}
	if code < 200 || code > 299 {
		return errs.Wrap(errs.KindRelayFailure, errs.ErrRelayFailure.Message,
			fmt.Errorf("relay returned status %d", code))
	}
	return nil
}

// ActivateWithRetry calls Activate up to attempts times, sleeping backoff
// between tries. It returns the last failure, or ctx.Err() if cancelled.
func (c *Controller) ActivateWithRetry(ctx context.Context, mode device.Mode, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = c.Activate(ctx, mode)
		if lastErr == nil {
			return nil
		}
		c.log.Warnw("relay command failed", "mode", mode, "attempt", i, "of", attempts, "err", lastErr)
		if i == attempts {
			break
		}
		if err := c.sleeper.Sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return lastErr
}
