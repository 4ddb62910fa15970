// Package xact talks to an XACT unit over a serial line: it paces
// commands, collects response frames, and keeps the decoded telemetry.
package xact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"xactlink/host/metrics"
	"xactlink/host/serial"
	"xactlink/protocol"
)

var (
	// ErrResponseTimeout means no valid frame arrived in time. It also wraps
	// the scan error that explains the miss.
	ErrResponseTimeout = errors.New("xact: response timeout")

	// ErrClosed is returned once the client has been closed
	ErrClosed = errors.New("xact: client closed")
)

// Config holds link settings
type Config struct {
	// Point table decoded from every telemetry frame
	Table *protocol.Table

	// Register window requested by RequestTelemetry
	WindowAddress uint16
	WindowLength  uint16

	Sync protocol.SyncMarker

	// How long to wait for a response frame
	ResponseTimeout time.Duration

	// Minimum gap between commands written to the device
	CommandSpacing time.Duration

	// Consecutive misses before the link is reported degraded
	MissThreshold int
}

// DefaultConfig returns the reference XACT link settings
func DefaultConfig() *Config {
	return &Config{
		Table:           protocol.DefaultTable(),
		WindowAddress:   protocol.TelemetryWindowAddress,
		WindowLength:    protocol.TelemetryWindowLength,
		Sync:            protocol.DefaultSync,
		ResponseTimeout: time.Second,
		CommandSpacing:  6 * time.Millisecond,
		MissThreshold:   5,
	}
}

// Client is a connection to one XACT unit. Requests are serialized; the
// snapshot is owned by the client and handed out as copies.
type Client struct {
	port    io.ReadWriteCloser
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	// Held for a whole command/response exchange
	reqMu sync.Mutex

	// Input accumulator, filled by readLoop
	inMu      sync.Mutex
	input     *protocol.RxBuffer
	dataReady chan struct{}

	// Decoded state, guarded by stateMu
	stateMu  sync.Mutex
	snapshot *protocol.Snapshot
	history  []DiodeSample
	health   Health
	started  time.Time

	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once
}

// New starts a client on an open port. log and m may be nil.
func New(port io.ReadWriteCloser, cfg *Config, log *zap.Logger, m *metrics.Metrics) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		port:      port,
		cfg:       *cfg,
		log:       log,
		metrics:   m,
		limiter:   newLimiter(cfg.CommandSpacing),
		input:     protocol.NewRxBuffer(protocol.FrameLength(protocol.MaxPayload)),
		dataReady: make(chan struct{}, 1),
		snapshot:  protocol.NewSnapshot(),
		started:   time.Now(),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
	if c.cfg.Table == nil {
		c.cfg.Table = protocol.DefaultTable()
	}
	if c.cfg.MissThreshold <= 0 {
		c.cfg.MissThreshold = 1
	}

	go c.readLoop()
	return c
}

// Dial opens the serial device described by portCfg and starts a client on it
func Dial(portCfg *serial.Config, cfg *Config, log *zap.Logger, m *metrics.Metrics) (*Client, error) {
	port, err := serial.Open(portCfg)
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("flush %s: %w", portCfg.Device, err)
	}
	return New(port, cfg, log, m), nil
}

func newLimiter(spacing time.Duration) *rate.Limiter {
	if spacing <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(spacing), 1)
}

// Close stops the reader and closes the port
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopChan)
		err = c.port.Close()
		<-c.doneChan
	})
	return err
}

// Table returns the point table decoded from telemetry frames
func (c *Client) Table() *protocol.Table {
	return c.cfg.Table
}

// RequestTelemetry reads the configured window and decodes it into the
// client's snapshot
func (c *Client) RequestTelemetry(ctx context.Context) (protocol.DecodeReport, error) {
	frame, err := c.ReadRegisters(ctx, c.cfg.WindowAddress, c.cfg.WindowLength)
	if err != nil {
		return protocol.DecodeReport{}, err
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	report, err := c.cfg.Table.Decode(frame, c.snapshot)
	if err != nil {
		return report, fmt.Errorf("decode telemetry: %w", err)
	}
	c.metrics.OutOfRange(len(report.OutOfRange))
	if len(report.OutOfRange) > 0 {
		c.log.Debug("points outside telemetry window", zap.Errors("points", report.OutOfRangeErrors()))
	}
	c.recordDiodes(report.Generation)
	return report, nil
}

// ReadRegisters requests length bytes at address with a checksummed
// response and waits for the frame
func (c *Client) ReadRegisters(ctx context.Context, address, length uint16) (protocol.ValidatedFrame, error) {
	cmd, err := protocol.EncodeRead(protocol.CmdReadWithHeaderAndCRC, address, length)
	if err != nil {
		return protocol.ValidatedFrame{}, err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.discardInput()
	if err := c.send(ctx, cmd); err != nil {
		return protocol.ValidatedFrame{}, err
	}

	frame, err := c.awaitFrame(ctx, address, int(length))
	c.recordResult(err)
	return frame, err
}

// ReadRaw requests length bytes at address without framing and returns
// exactly length bytes. Nothing verifies them.
func (c *Client) ReadRaw(ctx context.Context, address, length uint16) ([]byte, error) {
	if length == 0 {
		return nil, errors.New("xact: raw read of zero bytes")
	}
	cmd, err := protocol.EncodeRead(protocol.CmdRead, address, length)
	if err != nil {
		return nil, err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.discardInput()
	if err := c.send(ctx, cmd); err != nil {
		return nil, err
	}

	data, err := c.awaitBytes(ctx, int(length))
	c.recordResult(err)
	return data, err
}

// WriteRegisters stores body at address. The device does not acknowledge
// writes.
func (c *Client) WriteRegisters(ctx context.Context, address uint16, body []byte) error {
	cmd, err := protocol.EncodeWrite(address, body)
	if err != nil {
		return err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.send(ctx, cmd)
}

// send paces and writes one command
func (c *Client) send(ctx context.Context, cmd protocol.CommandFrame) error {
	select {
	case <-c.stopChan:
		return ErrClosed
	default:
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for command slot: %w", err)
	}

	msg := cmd.Bytes()
	n, err := c.port.Write(msg)
	if err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}

	c.metrics.Command(commandName(cmd.CommandID))
	c.log.Debug("command sent", zap.Stringer("cmd", cmd))
	return nil
}

func commandName(id byte) string {
	switch id {
	case protocol.CmdWrite:
		return "write"
	case protocol.CmdRead:
		return "read"
	case protocol.CmdReadWithHeaderAndCRC:
		return "read_crc"
	}
	return "unknown"
}

// discardInput drops bytes left over from an earlier exchange
func (c *Client) discardInput() {
	c.inMu.Lock()
	if n := c.input.Available(); n > 0 {
		c.log.Debug("discarding stale input", zap.Int("bytes", n))
	}
	c.input.Reset()
	c.inMu.Unlock()

	select {
	case <-c.dataReady:
	default:
	}
}

// awaitFrame scans accumulated input until a frame validates, the response
// timeout passes, or ctx ends. want is the payload length requested; a
// held frame declaring more than that is line noise.
func (c *Client) awaitFrame(ctx context.Context, base uint16, want int) (protocol.ValidatedFrame, error) {
	timer := time.NewTimer(c.cfg.ResponseTimeout)
	defer timer.Stop()

	// Timeouts report a checksum failure in preference to later scan errors
	var lastErr, mismatchErr error
	for {
		c.inMu.Lock()
		r := protocol.ScanInput(c.input, c.cfg.Sync, base)
		bogus := r.Status == protocol.Truncated && r.Length > want
		if bogus {
			// ScanInput left the false sync marker at the front
			c.input.Pop(1)
		}
		c.inMu.Unlock()

		if r.Status == protocol.Found {
			return r.Frame, nil
		}
		if bogus {
			c.log.Debug("skipping false sync marker", zap.Int("declared", r.Length), zap.Int("requested", want))
			continue
		}

		var mismatch *protocol.ChecksumMismatchError
		if errors.As(r.Err, &mismatch) {
			mismatchErr = r.Err
			c.metrics.Frame(metrics.ResultChecksumMismatch)
			c.log.Warn("frame checksum mismatch",
				zap.Uint8("received", mismatch.Received),
				zap.Uint8("computed", mismatch.Computed))
			// The rest of the input may still hold a good frame
			continue
		}
		lastErr = r.Err

		select {
		case <-c.dataReady:
		case <-timer.C:
			if mismatchErr != nil {
				lastErr = mismatchErr
			}
			return protocol.ValidatedFrame{}, fmt.Errorf("%w after %v: %w", ErrResponseTimeout, c.cfg.ResponseTimeout, lastErr)
		case <-ctx.Done():
			return protocol.ValidatedFrame{}, ctx.Err()
		case <-c.stopChan:
			return protocol.ValidatedFrame{}, ErrClosed
		}
	}
}

// awaitBytes waits until n unframed bytes have arrived and consumes them
func (c *Client) awaitBytes(ctx context.Context, n int) ([]byte, error) {
	timer := time.NewTimer(c.cfg.ResponseTimeout)
	defer timer.Stop()

	for {
		c.inMu.Lock()
		got := c.input.Available()
		if got >= n {
			data := append([]byte(nil), c.input.Data()[:n]...)
			c.input.Pop(n)
			c.inMu.Unlock()
			return data, nil
		}
		c.inMu.Unlock()

		select {
		case <-c.dataReady:
		case <-timer.C:
			return nil, fmt.Errorf("%w after %v: got %d of %d bytes", ErrResponseTimeout, c.cfg.ResponseTimeout, got, n)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.stopChan:
			return nil, ErrClosed
		}
	}
}

// readLoop continuously reads from the port into the input accumulator
func (c *Client) readLoop() {
	defer close(c.doneChan)

	buffer := make([]byte, 512)

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		n, err := c.port.Read(buffer)
		if n > 0 {
			c.metrics.BytesRead(n)

			c.inMu.Lock()
			written := c.input.Write(buffer[:n])
			c.inMu.Unlock()

			if written < n {
				c.log.Warn("input buffer full, dropping bytes", zap.Int("dropped", n-written))
			}

			select {
			case c.dataReady <- struct{}{}:
			default:
			}
		}

		if err != nil {
			// Serial ports report a read timeout as io.EOF
			if errors.Is(err, io.EOF) {
				continue
			}
			select {
			case <-c.stopChan:
				return
			default:
			}
			c.log.Debug("serial read failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
		}
	}
}
