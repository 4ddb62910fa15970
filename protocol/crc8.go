package protocol

import "github.com/sigurn/crc8"

// CRC8XACT describes the XACT checksum in Rocksoft terms.
// The device computes it bitwise with polynomial 0x1070<<3 inside a 16-bit
// register, which reduces to CRC-8 polynomial 0x07 without reflection.
var CRC8XACT = crc8.Params{
	Poly:   0x07,
	Init:   ChecksumSeed,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xFB,
	Name:   "CRC-8/XACT",
}

var crcTable = crc8.MakeTable(CRC8XACT)

// checksumPolynomial is the register-embedded form used on the device
const checksumPolynomial = 0x1070 << 3

// Checksum computes the XACT checksum of data starting from seed.
// Frames are checked with seed ChecksumSeed; passing the result of a
// previous call as seed continues a running checksum.
func Checksum(seed byte, data []byte) byte {
	return crc8.Update(seed, data, crcTable)
}

// checksumBitwise is the device's table-free algorithm, bit for bit.
// Checksum must agree with it on every input.
func checksumBitwise(seed byte, data []byte) byte {
	crc := seed
	for _, b := range data {
		acc := uint16(crc^b) << 8
		for i := 0; i < 8; i++ {
			if acc&0x8000 != 0 {
				acc ^= checksumPolynomial
			}
			acc <<= 1
		}
		crc = byte(acc >> 8)
	}
	return crc
}
