package protocol

import (
	"encoding/binary"
	"fmt"
)

// CommandFrame is an outgoing command addressed to the device register space.
// Build it with EncodeWrite or EncodeRead; treat it as immutable afterwards.
//
// Frame structure (no checksum on outgoing frames):
//
//	[CMD][ADDR_H][ADDR_L][LEN_H][LEN_L][BODY...]
type CommandFrame struct {
	CommandID byte
	Address   uint16

	// For writes, the body length. For reads, the number of bytes
	// requested from the device.
	Length uint16

	Body []byte
}

// EncodeWrite builds a write command storing body at address.
// The body is copied verbatim, one byte per register.
func EncodeWrite(address uint16, body []byte) (CommandFrame, error) {
	if len(body) > MaxPayload {
		return CommandFrame{}, fmt.Errorf("%w: %d bytes (max %d)", ErrBodyTooLarge, len(body), MaxPayload)
	}

	b := make([]byte, len(body))
	copy(b, body)

	return CommandFrame{
		CommandID: CmdWrite,
		Address:   address,
		Length:    uint16(len(body)),
		Body:      b,
	}, nil
}

// EncodeRead builds a read command for length bytes starting at address.
// commandID selects a raw response (CmdRead) or a framed, checksummed one
// (CmdReadWithHeaderAndCRC).
func EncodeRead(commandID byte, address uint16, length uint16) (CommandFrame, error) {
	if !IsReadCommand(commandID) {
		return CommandFrame{}, fmt.Errorf("%w: 0x%02X is not a read command", ErrUnknownCommand, commandID)
	}
	return CommandFrame{
		CommandID: commandID,
		Address:   address,
		Length:    length,
	}, nil
}

// IsReadCommand reports whether id requests data from the device
func IsReadCommand(id byte) bool {
	return id == CmdRead || id == CmdReadWithHeaderAndCRC
}

// Encode writes the wire form of c to output
func (c CommandFrame) Encode(output OutputBuffer) {
	var header [CommandHeaderLength]byte
	header[CommandPositionID] = c.CommandID
	binary.BigEndian.PutUint16(header[CommandPositionAddr:], c.Address)
	binary.BigEndian.PutUint16(header[CommandPositionLength:], c.Length)
	output.Output(header[:])
	output.Output(c.Body)
}

// Bytes returns the wire form of c
func (c CommandFrame) Bytes() []byte {
	out := NewScratchOutput(CommandHeaderLength + len(c.Body))
	c.Encode(out)
	return out.Result()
}

func (c CommandFrame) String() string {
	switch c.CommandID {
	case CmdWrite:
		return fmt.Sprintf("write addr=0x%04X len=%d body=%x", c.Address, c.Length, c.Body)
	case CmdRead:
		return fmt.Sprintf("read addr=0x%04X len=%d", c.Address, c.Length)
	case CmdReadWithHeaderAndCRC:
		return fmt.Sprintf("read_crc addr=0x%04X len=%d", c.Address, c.Length)
	default:
		return fmt.Sprintf("cmd=0x%02X addr=0x%04X len=%d", c.CommandID, c.Address, c.Length)
	}
}

// ParseCommandFrame decodes one command frame from the start of b and
// returns it with the number of bytes it occupied. This is the device side
// of EncodeWrite/EncodeRead.
func ParseCommandFrame(b []byte) (CommandFrame, int, error) {
	if len(b) < CommandHeaderLength {
		return CommandFrame{}, 0, ErrFrameTruncated
	}

	c := CommandFrame{
		CommandID: b[CommandPositionID],
		Address:   binary.BigEndian.Uint16(b[CommandPositionAddr:]),
		Length:    binary.BigEndian.Uint16(b[CommandPositionLength:]),
	}

	switch {
	case c.CommandID == CmdWrite:
		end := CommandHeaderLength + int(c.Length)
		if len(b) < end {
			return CommandFrame{}, 0, ErrFrameTruncated
		}
		c.Body = make([]byte, c.Length)
		copy(c.Body, b[CommandHeaderLength:end])
		return c, end, nil
	case IsReadCommand(c.CommandID):
		return c, CommandHeaderLength, nil
	default:
		return CommandFrame{}, 0, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, c.CommandID)
	}
}
