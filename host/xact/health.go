package xact

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"xactlink/host/metrics"
	"xactlink/protocol"
)

// Health summarizes the link since the client started
type Health struct {
	Frames            int
	Misses            int
	ConsecutiveMisses int
	Degraded          bool
	LastError         error
}

// Health returns the current link health
func (c *Client) Health() Health {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.health
}

// recordResult updates link health after one read exchange
func (c *Client) recordResult(err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	h := &c.health
	if err == nil {
		h.Frames++
		h.ConsecutiveMisses = 0
		h.LastError = nil
		c.metrics.Frame(metrics.ResultFound)
		if h.Degraded {
			h.Degraded = false
			c.metrics.SetDegraded(false)
			c.log.Info("link recovered", zap.Int("frames", h.Frames))
		}
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return
	}

	h.Misses++
	h.ConsecutiveMisses++
	h.LastError = err
	if errors.Is(err, ErrResponseTimeout) {
		c.metrics.Frame(metrics.ResultTimeout)
	}
	c.log.Warn("data message not found", zap.Error(err), zap.Int("consecutive", h.ConsecutiveMisses))

	if !h.Degraded && h.ConsecutiveMisses >= c.cfg.MissThreshold {
		h.Degraded = true
		c.metrics.SetDegraded(true)
		c.log.Warn("link degraded", zap.Int("consecutive_misses", h.ConsecutiveMisses))
	}
}

// DiodeSample is one reading of the four sun sensor diode counts
type DiodeSample struct {
	Generation uint64
	Elapsed    time.Duration
	Counts     [4]int64
}

// recordDiodes appends the current diode counts to the history when every
// diode has been decoded; stateMu is held
func (c *Client) recordDiodes(generation uint64) {
	sample := DiodeSample{
		Generation: generation,
		Elapsed:    time.Since(c.started),
	}
	for i, name := range protocol.DiodePoints {
		v, ok := c.snapshot.Get(name)
		if !ok {
			return
		}
		sample.Counts[i] = v.Value
	}
	c.history = append(c.history, sample)
}

// History returns the diode samples collected so far
func (c *Client) History() []DiodeSample {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return append([]DiodeSample(nil), c.history...)
}

// Snapshot returns a copy of the decoded telemetry
func (c *Client) Snapshot() *protocol.Snapshot {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.snapshot.Clone()
}
