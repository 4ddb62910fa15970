// Package sim emulates the XACT register space behind a serial port.
//
// A Device accepts command frames on Write and queues the device's
// responses for Read, so host code can be exercised without hardware.
package sim

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"xactlink/protocol"
)

// ErrClosed is returned by Read and Write after Close
var ErrClosed = errors.New("sim: device closed")

// Config holds simulated line behavior
type Config struct {
	// Read blocks this long for data before returning io.EOF, like a
	// serial port with a read timeout
	ReadTimeout time.Duration

	// Sync marker used on response frames
	Sync protocol.SyncMarker

	// ChunkSize caps the bytes returned per Read (0 = unlimited)
	ChunkSize int

	// Drift makes sun sensor counts change on every telemetry read
	Drift bool
}

// DefaultConfig returns a well-behaved device with the XACT sync marker
func DefaultConfig() Config {
	return Config{
		ReadTimeout: 10 * time.Millisecond,
		Sync:        protocol.DefaultSync,
	}
}

// Received is one command frame as the device saw it
type Received struct {
	Frame protocol.CommandFrame
	At    time.Time
}

// Device is a simulated XACT unit. It implements io.ReadWriteCloser and
// the host/serial Port interface.
type Device struct {
	cfg Config

	mu       sync.Mutex
	regs     [protocol.RegisterSpace]byte
	in       []byte
	out      []byte
	received []Received
	reads    int
	scratch  *protocol.ScratchOutput

	// Fault injection
	corrupt int
	drop    int
	garbage []byte
	short   int

	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a device whose registers hold DefaultValues
func New(cfg Config) *Device {
	d := &Device{
		cfg:     cfg,
		ready:   make(chan struct{}, 1),
		closed:  make(chan struct{}),
		scratch: protocol.NewScratchOutput(protocol.FrameLength(protocol.TelemetryWindowLength)),
	}
	for _, p := range protocol.DefaultTable().Points() {
		if v, ok := DefaultValues[p.Name]; ok {
			_ = d.SetPoint(p, v)
		}
	}
	return d
}

// DefaultValues seeds a new device's telemetry points
var DefaultValues = map[string]int64{
	protocol.PointRW1Mode:  1,
	protocol.PointRW2Mode:  1,
	protocol.PointRW3Mode:  1,
	protocol.PointRW4Mode:  1,
	protocol.PointRW1Speed: 1500,
	protocol.PointRW2Speed: -1500,
	protocol.PointRW3Speed: 750,
	protocol.PointRW4Speed: -750,
	protocol.PointSSDiode1: 1200,
	protocol.PointSSDiode2: 1300,
	protocol.PointSSDiode3: 1400,
	protocol.PointSSDiode4: 1500,
}

// Write accepts command bytes. Complete frames are executed immediately;
// a partial frame waits for the rest. Bytes that cannot start a command
// are skipped one at a time.
func (d *Device) Write(b []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, ErrClosed
	default:
	}

	d.mu.Lock()
	d.in = append(d.in, b...)
	for len(d.in) > 0 {
		cmd, n, err := protocol.ParseCommandFrame(d.in)
		if errors.Is(err, protocol.ErrFrameTruncated) {
			break
		}
		if err != nil {
			d.in = d.in[1:]
			continue
		}
		d.in = d.in[n:]
		d.execute(cmd)
	}
	pending := len(d.out) > 0
	d.mu.Unlock()

	if pending {
		d.signal()
	}
	return len(b), nil
}

// Read returns queued response bytes, blocking up to ReadTimeout
func (d *Device) Read(b []byte) (int, error) {
	var timeout <-chan time.Time
	if d.cfg.ReadTimeout > 0 {
		timer := time.NewTimer(d.cfg.ReadTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		d.mu.Lock()
		if len(d.out) > 0 {
			n := len(d.out)
			if d.cfg.ChunkSize > 0 && n > d.cfg.ChunkSize {
				n = d.cfg.ChunkSize
			}
			n = copy(b, d.out[:n])
			d.out = d.out[n:]
			more := len(d.out) > 0
			d.mu.Unlock()
			if more {
				d.signal()
			}
			return n, nil
		}
		d.mu.Unlock()

		select {
		case <-d.ready:
		case <-d.closed:
			return 0, ErrClosed
		case <-timeout:
			return 0, io.EOF
		}
	}
}

// Close unblocks pending reads and rejects further I/O
func (d *Device) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

// Flush drops queued responses and partial commands
func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in = nil
	d.out = nil
	return nil
}

func (d *Device) signal() {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

// execute runs one command; d.mu is held
func (d *Device) execute(cmd protocol.CommandFrame) {
	d.received = append(d.received, Received{Frame: cmd, At: time.Now()})

	switch cmd.CommandID {
	case protocol.CmdWrite:
		copy(d.regs[cmd.Address:], cmd.Body)

	case protocol.CmdRead:
		d.out = append(d.out, d.window(cmd.Address, cmd.Length)...)

	case protocol.CmdReadWithHeaderAndCRC:
		if d.cfg.Drift {
			d.drift()
		}
		d.reads++
		d.respond(uint16(cmd.CommandID), d.window(cmd.Address, cmd.Length))
	}
}

// window returns registers [addr, addr+length) clipped to the register space
func (d *Device) window(addr, length uint16) []byte {
	end := int(addr) + int(length)
	if end > protocol.RegisterSpace {
		end = protocol.RegisterSpace
	}
	return d.regs[addr:end]
}

func (d *Device) respond(reserved uint16, payload []byte) {
	if d.drop > 0 {
		d.drop--
		return
	}

	d.scratch.Reset()
	if err := protocol.EncodeFrame(d.scratch, d.cfg.Sync, reserved, payload); err != nil {
		return
	}
	frame := d.scratch.Result()

	if d.corrupt > 0 {
		d.corrupt--
		frame[len(frame)-1] ^= 0xFF
	}
	if d.short > 0 {
		d.short--
		frame = frame[:len(frame)/2]
	}

	d.out = append(d.out, d.garbage...)
	d.garbage = nil
	d.out = append(d.out, frame...)
}

// drift nudges the sun sensor counts so successive reads differ
func (d *Device) drift() {
	for i, name := range protocol.DiodePoints {
		p, _ := protocol.DefaultTable().LookupName(name)
		v, err := d.point(p)
		if err != nil {
			continue
		}
		step := int64((d.reads+i)%5) - 2
		_ = d.setPoint(p, v+step*10)
	}
}

// SetPoint stores v at p's registers using p's encoding
func (d *Device) SetPoint(p protocol.PointDescriptor, v int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setPoint(p, v)
}

func (d *Device) setPoint(p protocol.PointDescriptor, v int64) error {
	if p.End() > protocol.RegisterSpace {
		return fmt.Errorf("sim: point %q past register space", p.Name)
	}
	return protocol.EncodeValue(p.Encoding, d.regs[p.Address:p.End()], v)
}

// Point reads p back from the registers
func (d *Device) Point(p protocol.PointDescriptor) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.point(p)
}

func (d *Device) point(p protocol.PointDescriptor) (int64, error) {
	if p.End() > protocol.RegisterSpace {
		return 0, fmt.Errorf("sim: point %q past register space", p.Name)
	}
	return protocol.ParseValue(p.Encoding, d.regs[p.Address:p.End()])
}

// Registers returns a copy of n registers starting at addr
func (d *Device) Registers(addr uint16, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := int(addr) + n
	if end > protocol.RegisterSpace {
		end = protocol.RegisterSpace
	}
	return append([]byte(nil), d.regs[addr:end]...)
}

// Received returns every command executed so far
func (d *Device) Received() []Received {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Received(nil), d.received...)
}

// CorruptNext flips the checksum of the next n framed responses
func (d *Device) CorruptNext(n int) {
	d.mu.Lock()
	d.corrupt = n
	d.mu.Unlock()
}

// DropNext suppresses the next n framed responses
func (d *Device) DropNext(n int) {
	d.mu.Lock()
	d.drop = n
	d.mu.Unlock()
}

// TruncateNext sends only the first half of the next n framed responses
func (d *Device) TruncateNext(n int) {
	d.mu.Lock()
	d.short = n
	d.mu.Unlock()
}

// InjectGarbage prefixes the next framed response with b
func (d *Device) InjectGarbage(b []byte) {
	d.mu.Lock()
	d.garbage = append([]byte(nil), b...)
	d.mu.Unlock()
}
