package xact

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xactlink/protocol"
)

// Cycle is the outcome of one poll iteration
type Cycle struct {
	N      int
	Report protocol.DecodeReport
	Err    error
}

// Poll requests telemetry cycles times, interval apart, calling fn after
// each request. A missed frame does not stop polling; ctx does.
// cycles <= 0 polls until ctx ends.
func (c *Client) Poll(ctx context.Context, cycles int, interval time.Duration, fn func(Cycle)) error {
	runID := uuid.New()
	log := c.log.With(zap.Stringer("poll_id", runID))
	log.Info("polling started", zap.Int("cycles", cycles), zap.Duration("interval", interval))

	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for n := 1; cycles <= 0 || n <= cycles; n++ {
		report, err := c.RequestTelemetry(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fn != nil {
			fn(Cycle{N: n, Report: report, Err: err})
		}
		if err != nil {
			log.Debug("poll cycle missed", zap.Int("cycle", n), zap.Error(err))
		}
		if errors.Is(err, ErrClosed) {
			return err
		}

		if cycles > 0 && n == cycles {
			break
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	h := c.Health()
	log.Info("polling finished", zap.Int("frames", h.Frames), zap.Int("misses", h.Misses))
	return nil
}
