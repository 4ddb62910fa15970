package protocol

import (
	"bytes"
	"encoding/binary"
)

// ScanStatus is the outcome of scanning a buffer for a frame
type ScanStatus int

const (
	// NotFound: no sync marker, or the first frame failed its checksum
	NotFound ScanStatus = iota
	// Found: a frame passed the checksum
	Found
	// Truncated: sync marker found but the frame is not complete yet
	Truncated
)

func (s ScanStatus) String() string {
	switch s {
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	case Truncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// ScanResult describes one scan. Only Found carries a frame.
type ScanResult struct {
	Status ScanStatus
	Frame  ValidatedFrame

	// Err is nil for Found. Otherwise ErrFrameNotFound, ErrFrameTruncated
	// or a *ChecksumMismatchError.
	Err error

	// Start is the offset of the sync marker, -1 when none was found
	Start int

	// End is the offset just past the checksum byte, 0 when the frame
	// was not complete
	End int

	// Length is the payload length the header declares, -1 until a
	// whole header has been seen
	Length int
}

// Scan looks for the first sync-delimited frame in buf and validates it.
//
// Frame structure:
//
//	[SYNC(2)][RESERVED(2)][LEN_H][LEN_L][PAYLOAD(LEN)][CRC]
//
// Only the first sync marker is examined; bytes after it are not searched
// even when that frame fails its checksum. Use FrameCursor to walk every
// frame in a buffer. base is the register address the payload starts at,
// known from the read request that produced the response.
//
// Scan never reads outside buf and never modifies it. The returned payload
// is a copy.
func Scan(buf []byte, sync SyncMarker, base uint16) ScanResult {
	return scanFrom(buf, 0, sync, base)
}

func scanFrom(buf []byte, from int, sync SyncMarker, base uint16) ScanResult {
	if from < 0 || from > len(buf) {
		return ScanResult{Status: NotFound, Err: ErrFrameNotFound, Start: -1, Length: -1}
	}

	idx := bytes.Index(buf[from:], sync[:])
	if idx < 0 {
		return ScanResult{Status: NotFound, Err: ErrFrameNotFound, Start: -1, Length: -1}
	}
	start := from + idx

	// Header must be complete before the length field can be trusted
	if len(buf)-start < HeaderLength {
		return ScanResult{Status: Truncated, Err: ErrFrameTruncated, Start: start, Length: -1}
	}

	length := int(binary.BigEndian.Uint16(buf[start+HeaderPositionLength : start+HeaderLength]))
	end := start + FrameLength(length)
	if len(buf) < end {
		return ScanResult{Status: Truncated, Err: ErrFrameTruncated, Start: start, Length: length}
	}

	crcPos := end - TrailerLength
	received := buf[crcPos]
	computed := Checksum(ChecksumSeed, buf[start:crcPos])
	if received != computed {
		return ScanResult{
			Status: NotFound,
			Err:    &ChecksumMismatchError{Received: received, Computed: computed},
			Start:  start,
			End:    end,
			Length: length,
		}
	}

	payload := make([]byte, length)
	copy(payload, buf[start+HeaderLength:crcPos])

	return ScanResult{
		Status: Found,
		Frame: ValidatedFrame{
			BaseAddress: base,
			Reserved:    binary.BigEndian.Uint16(buf[start+HeaderPositionReserved : start+HeaderPositionLength]),
			Payload:     payload,
			CRC:         received,
		},
		Start:  start,
		End:    end,
		Length: length,
	}
}

// FrameCursor walks a buffer frame by frame.
// Each Next call scans from the cursor offset; the offset only moves
// forward, so repeated calls never return the same frame twice.
type FrameCursor struct {
	buf  []byte
	pos  int
	sync SyncMarker
	base uint16
}

// NewFrameCursor creates a cursor at the start of buf.
// Every frame found is attributed to base.
func NewFrameCursor(buf []byte, sync SyncMarker, base uint16) *FrameCursor {
	return &FrameCursor{buf: buf, sync: sync, base: base}
}

// Next scans for the next frame. Offsets in the result are absolute.
//
// Found advances past the frame. A checksum failure advances one byte past
// the sync marker so a frame hiding behind a false sync is still seen.
// NotFound without a sync advances to the end. Truncated does not advance.
func (c *FrameCursor) Next() ScanResult {
	r := scanFrom(c.buf, c.pos, c.sync, c.base)
	switch {
	case r.Status == Found:
		c.pos = r.End
	case r.Status == NotFound && r.Start >= 0:
		c.pos = r.Start + 1
	case r.Status == NotFound:
		c.pos = len(c.buf)
	}
	return r
}

// Offset returns the cursor position
func (c *FrameCursor) Offset() int {
	return c.pos
}

// Remaining returns the bytes not yet consumed by the cursor
func (c *FrameCursor) Remaining() []byte {
	return c.buf[c.pos:]
}

// ScanInput scans the accumulated input and consumes what the result
// makes useless:
//   - Found pops through the end of the frame
//   - Truncated pops the garbage before the sync marker and keeps the rest
//   - a checksum failure pops through the first sync byte
//   - no sync pops everything except a trailing first sync byte
//
// Offsets in the result refer to the data as it was before consuming.
func ScanInput(in InputBuffer, sync SyncMarker, base uint16) ScanResult {
	data := in.Data()
	r := Scan(data, sync, base)

	switch {
	case r.Status == Found:
		in.Pop(r.End)
	case r.Status == Truncated:
		in.Pop(r.Start)
	case r.Start >= 0:
		in.Pop(r.Start + 1)
	default:
		keep := 0
		if n := len(data); n > 0 && data[n-1] == sync[0] {
			keep = 1
		}
		in.Pop(len(data) - keep)
	}
	return r
}
