package protocol

import (
	"fmt"
)

// Encoding is the wire representation of a telemetry point
type Encoding uint8

const (
	EncodingInvalid Encoding = iota
	Unsigned8
	Signed16BE
	Unsigned16BE
)

func (e Encoding) String() string {
	switch e {
	case Unsigned8:
		return "uint8"
	case Signed16BE:
		return "int16"
	case Unsigned16BE:
		return "uint16"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// Width returns the number of bytes the encoding occupies, 0 if unknown
func (e Encoding) Width() int {
	switch e {
	case Unsigned8:
		return 1
	case Signed16BE, Unsigned16BE:
		return 2
	default:
		return 0
	}
}

// Valid reports whether the decoder implements e
func (e Encoding) Valid() bool {
	return e.Width() != 0
}

// PointDescriptor describes one named telemetry point in register space
type PointDescriptor struct {
	Name     string
	Address  uint16
	Width    int
	Encoding Encoding
}

// Point builds a descriptor whose width follows its encoding
func Point(name string, address uint16, enc Encoding) PointDescriptor {
	return PointDescriptor{Name: name, Address: address, Width: enc.Width(), Encoding: enc}
}

// End returns the register address one past the point
func (p PointDescriptor) End() int {
	return int(p.Address) + p.Width
}

// Table is the read-only registry of telemetry points, in definition order
type Table struct {
	points    []PointDescriptor
	byAddress map[uint16]int
	byName    map[string]int
}

// NewTable validates points and builds a Table.
// Addresses and names must be unique, every encoding must be one the
// decoder implements, and widths must match their encodings.
func NewTable(points ...PointDescriptor) (*Table, error) {
	t := &Table{
		points:    make([]PointDescriptor, 0, len(points)),
		byAddress: make(map[uint16]int, len(points)),
		byName:    make(map[string]int, len(points)),
	}

	for _, p := range points {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: point at 0x%04X has no name", ErrInvalidTable, p.Address)
		}
		if !p.Encoding.Valid() {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTable, &PointError{Point: p, Err: ErrUnsupportedEncoding})
		}
		if p.Width != p.Encoding.Width() {
			return nil, fmt.Errorf("%w: point %q width %d does not match %s", ErrInvalidTable, p.Name, p.Width, p.Encoding)
		}
		if p.End() > RegisterSpace {
			return nil, fmt.Errorf("%w: point %q runs past the register space", ErrInvalidTable, p.Name)
		}
		if i, exists := t.byAddress[p.Address]; exists {
			return nil, fmt.Errorf("%w: points %q and %q share address 0x%04X", ErrInvalidTable, t.points[i].Name, p.Name, p.Address)
		}
		if _, exists := t.byName[p.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate point name %q", ErrInvalidTable, p.Name)
		}

		t.byAddress[p.Address] = len(t.points)
		t.byName[p.Name] = len(t.points)
		t.points = append(t.points, p)
	}

	return t, nil
}

// MustTable is NewTable for tables fixed at compile time
func MustTable(points ...PointDescriptor) *Table {
	t, err := NewTable(points...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the point at address
func (t *Table) Lookup(address uint16) (PointDescriptor, bool) {
	i, ok := t.byAddress[address]
	if !ok {
		return PointDescriptor{}, false
	}
	return t.points[i], true
}

// LookupName returns the point called name
func (t *Table) LookupName(name string) (PointDescriptor, bool) {
	i, ok := t.byName[name]
	if !ok {
		return PointDescriptor{}, false
	}
	return t.points[i], true
}

// Points returns the points in table order. The slice is a copy.
func (t *Table) Points() []PointDescriptor {
	out := make([]PointDescriptor, len(t.points))
	copy(out, t.points)
	return out
}

// Len returns the number of points
func (t *Table) Len() int {
	return len(t.points)
}

// Window returns the smallest register range covering every point
func (t *Table) Window() (address uint16, length int) {
	if len(t.points) == 0 {
		return 0, 0
	}
	lo, hi := int(t.points[0].Address), t.points[0].End()
	for _, p := range t.points[1:] {
		if int(p.Address) < lo {
			lo = int(p.Address)
		}
		if p.End() > hi {
			hi = p.End()
		}
	}
	return uint16(lo), hi - lo
}

// Telemetry point names of the XACT unit
const (
	PointRW1Mode  = "RW1 Operating Mode"
	PointRW2Mode  = "RW2 Operating Mode"
	PointRW3Mode  = "RW3 Operating Mode"
	PointRW4Mode  = "RW4 Operating Mode"
	PointRW1Speed = "RW1 Measured Speed"
	PointRW2Speed = "RW2 Measured Speed"
	PointRW3Speed = "RW3 Measured Speed"
	PointRW4Speed = "RW4 Measured Speed"
	PointSSDiode1 = "SS Diode 1 Count"
	PointSSDiode2 = "SS Diode 2 Count"
	PointSSDiode3 = "SS Diode 3 Count"
	PointSSDiode4 = "SS Diode 4 Count"
)

// DiodePoints lists the sun-sensor diode counts in diode order
var DiodePoints = []string{PointSSDiode1, PointSSDiode2, PointSSDiode3, PointSSDiode4}

// See XACT ICD Table 9 for read addresses
var defaultTable = MustTable(
	Point(PointRW1Mode, 0x4AF, Unsigned8),
	Point(PointRW2Mode, 0x4B0, Unsigned8),
	Point(PointRW3Mode, 0x4B1, Unsigned8),
	Point(PointRW4Mode, 0x4B2, Unsigned8),
	Point(PointRW1Speed, 0x45B, Signed16BE),
	Point(PointRW2Speed, 0x45D, Signed16BE),
	Point(PointRW3Speed, 0x45F, Signed16BE),
	Point(PointRW4Speed, 0x461, Signed16BE),
	Point(PointSSDiode1, 0x57D, Unsigned16BE),
	Point(PointSSDiode2, 0x57F, Unsigned16BE),
	Point(PointSSDiode3, 0x581, Unsigned16BE),
	Point(PointSSDiode4, 0x583, Unsigned16BE),
)

// DefaultTable returns the XACT telemetry table. It is shared and read-only.
func DefaultTable() *Table {
	return defaultTable
}
