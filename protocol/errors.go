package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrFrameNotFound       = errors.New("protocol: sync marker not found")
	ErrFrameTruncated      = errors.New("protocol: frame truncated")
	ErrChecksumMismatch    = errors.New("protocol: checksum mismatch")
	ErrUnsupportedEncoding = errors.New("protocol: unsupported encoding")
	ErrPointOutOfRange     = errors.New("protocol: point outside frame window")
	ErrInvalidTable        = errors.New("protocol: invalid telemetry table")
	ErrUnknownCommand      = errors.New("protocol: unknown command id")
	ErrBodyTooLarge        = errors.New("protocol: command body too large")
)

// ChecksumMismatchError reports a frame whose trailing checksum byte does
// not match the checksum computed over its header and payload.
type ChecksumMismatchError struct {
	Received byte
	Computed byte
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("protocol: checksum mismatch: received 0x%02X, computed 0x%02X", e.Received, e.Computed)
}

func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// PointError ties a decode problem to a telemetry point
type PointError struct {
	Point PointDescriptor
	Err   error
}

func (e *PointError) Error() string {
	return fmt.Sprintf("point %q at 0x%04X: %v", e.Point.Name, e.Point.Address, e.Err)
}

func (e *PointError) Unwrap() error {
	return e.Err
}
