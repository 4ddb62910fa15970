package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeFrame writes a complete checksummed response frame to output.
// This is what the device sends back for CmdReadWithHeaderAndCRC.
func EncodeFrame(output OutputBuffer, sync SyncMarker, reserved uint16, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("payload too long: %d bytes (max %d)", len(payload), MaxPayload)
	}

	cursor := output.CurPosition()

	// Header with length placeholder
	var header [HeaderLength]byte
	copy(header[HeaderPositionSync:], sync[:])
	binary.BigEndian.PutUint16(header[HeaderPositionReserved:], reserved)
	output.Output(header[:])

	output.Output(payload)

	// Update length field
	length := uint16(len(payload))
	output.Update(cursor+HeaderPositionLength, byte(length>>8))
	output.Update(cursor+HeaderPositionLength+1, byte(length))

	// Checksum over header + payload
	crc := Checksum(ChecksumSeed, output.DataSince(cursor))
	output.Output([]byte{crc})

	return nil
}

// BuildFrame returns a checksummed frame using DefaultSync
func BuildFrame(reserved uint16, payload []byte) ([]byte, error) {
	out := NewScratchOutput(FrameLength(len(payload)))
	if err := EncodeFrame(out, DefaultSync, reserved, payload); err != nil {
		return nil, err
	}
	return out.Result(), nil
}
