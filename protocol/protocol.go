// Package protocol implements the XACT serial telemetry and command protocol.
//
// The package is a pure codec: it never performs I/O. Callers hand it the
// bytes a transport has accumulated and get back validated frames, decoded
// telemetry, or command frames to write.
package protocol

// Version represents the xactlink codec version
const Version = "0.1.0"

// SyncMarker is the 2-byte pattern that starts every response frame
type SyncMarker [2]byte

// DefaultSync is the XACT frame start marker
var DefaultSync = SyncMarker{0x1A, 0xCF}

// Wire format constants (big-endian unless noted)
const (
	// Frame header: sync(2) + reserved(2) + payload length(2)
	HeaderLength = 6

	// Checksum byte trailing the payload
	TrailerLength = 1

	// Offsets inside the header
	HeaderPositionSync     = 0
	HeaderPositionReserved = 2
	HeaderPositionLength   = 4

	// Initial value of the checksum accumulator
	ChecksumSeed = 0xFF

	// MaxPayload is the largest payload a 16-bit length field can declare
	MaxPayload = 0xFFFF

	// RegisterSpace is the size of the device's 16-bit address space
	RegisterSpace = 0x10000
)

// Command IDs for outgoing frames
const (
	CmdWrite                = 0xEB // write registers
	CmdRead                 = 0xEC // read registers, raw response
	CmdReadWithHeaderAndCRC = 0xED // read registers, framed and checksummed response
)

// Command frame layout: id(1) + address(2) + length(2) + body
const (
	CommandHeaderLength   = 5
	CommandPositionID     = 0
	CommandPositionAddr   = 1
	CommandPositionLength = 3
)

// Reference telemetry request window: covers every point of DefaultTable
const (
	TelemetryWindowAddress = 0x420
	TelemetryWindowLength  = 573 - 32 + 1
)

// ValidatedFrame is a response frame whose checksum has been verified.
// Payload length always equals the frame's declared length field.
type ValidatedFrame struct {
	// Register address of the first payload byte
	BaseAddress uint16

	// Reserved header bytes (command echo on some firmware)
	Reserved uint16

	Payload []byte

	// Checksum byte as received
	CRC byte
}

// FrameLength returns the on-wire size of a frame carrying n payload bytes
func FrameLength(n int) int {
	return HeaderLength + n + TrailerLength
}
