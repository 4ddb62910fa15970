package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// TelemetryValue is one decoded reading
type TelemetryValue struct {
	Name     string
	Address  uint16
	Value    int64
	Width    int
	Encoding Encoding

	// Snapshot generation that last wrote this value
	Generation uint64
}

// Snapshot holds the latest decoded value of every point seen so far.
// A point that was never decoded is absent; a point missing from recent
// frames keeps its old value with an older Generation.
//
// The zero value is ready to use. A Snapshot has a single writer; callers
// that share one across goroutines must serialize access.
type Snapshot struct {
	values     map[string]TelemetryValue
	generation uint64
}

// NewSnapshot creates an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Get returns the value for name and whether it was ever decoded
func (s *Snapshot) Get(name string) (TelemetryValue, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Stale reports whether name was decoded before but not by the most
// recent successful decode
func (s *Snapshot) Stale(name string) bool {
	v, ok := s.values[name]
	return ok && v.Generation < s.generation
}

// Generation counts decodes that updated at least one point
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// Len returns the number of points ever decoded
func (s *Snapshot) Len() int {
	return len(s.values)
}

// Names returns the decoded point names, sorted
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ordered returns decoded values in table order, skipping points never seen
func (s *Snapshot) Ordered(table *Table) []TelemetryValue {
	out := make([]TelemetryValue, 0, len(s.values))
	for _, p := range table.points {
		if v, ok := s.values[p.Name]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Clone returns an independent copy
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{generation: s.generation}
	if s.values != nil {
		c.values = make(map[string]TelemetryValue, len(s.values))
		for k, v := range s.values {
			c.values[k] = v
		}
	}
	return c
}

func (s *Snapshot) apply(values []TelemetryValue) {
	if len(values) == 0 {
		return
	}
	if s.values == nil {
		s.values = make(map[string]TelemetryValue, len(values))
	}
	s.generation++
	for _, v := range values {
		v.Generation = s.generation
		s.values[v.Name] = v
	}
}

// DecodeReport lists what one decode did to the snapshot
type DecodeReport struct {
	// Snapshot generation after the decode
	Generation uint64

	// Points written, in table order
	Updated []string

	// Points the frame's address window does not cover
	OutOfRange []string

	skipped []PointDescriptor
}

// OutOfRangeErrors returns one *PointError wrapping ErrPointOutOfRange for
// each point the frame did not cover
func (r DecodeReport) OutOfRangeErrors() []error {
	if len(r.skipped) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.skipped))
	for _, p := range r.skipped {
		errs = append(errs, &PointError{Point: p, Err: ErrPointOutOfRange})
	}
	return errs
}

// ParseValue decodes raw according to enc
func ParseValue(enc Encoding, raw []byte) (int64, error) {
	if !enc.Valid() {
		return 0, ErrUnsupportedEncoding
	}
	if len(raw) != enc.Width() {
		return 0, fmt.Errorf("%s needs %d bytes, got %d", enc, enc.Width(), len(raw))
	}

	switch enc {
	case Unsigned8:
		return int64(raw[0]), nil
	case Signed16BE:
		return int64(int16(binary.BigEndian.Uint16(raw))), nil
	case Unsigned16BE:
		return int64(binary.BigEndian.Uint16(raw)), nil
	}
	return 0, ErrUnsupportedEncoding
}

// EncodeValue writes v into dst using enc; the inverse of ParseValue.
// Values outside the encoding's range are rejected.
func EncodeValue(enc Encoding, dst []byte, v int64) error {
	if !enc.Valid() {
		return ErrUnsupportedEncoding
	}
	if len(dst) != enc.Width() {
		return fmt.Errorf("%s needs %d bytes, got %d", enc, enc.Width(), len(dst))
	}

	switch enc {
	case Unsigned8:
		if v < 0 || v > math.MaxUint8 {
			return fmt.Errorf("%d out of range for %s", v, enc)
		}
		dst[0] = byte(v)
	case Signed16BE:
		if v < math.MinInt16 || v > math.MaxInt16 {
			return fmt.Errorf("%d out of range for %s", v, enc)
		}
		binary.BigEndian.PutUint16(dst, uint16(int16(v)))
	case Unsigned16BE:
		if v < 0 || v > math.MaxUint16 {
			return fmt.Errorf("%d out of range for %s", v, enc)
		}
		binary.BigEndian.PutUint16(dst, uint16(v))
	}
	return nil
}

// Decode maps a validated frame onto points and writes the results to snap.
//
// Points outside the frame's address window are skipped and reported, the
// rest of the frame still decodes. A point with an encoding the decoder
// does not implement fails the whole decode and leaves snap untouched.
func Decode(frame ValidatedFrame, points []PointDescriptor, snap *Snapshot) (DecodeReport, error) {
	if snap == nil {
		return DecodeReport{}, errors.New("protocol: decode into nil snapshot")
	}

	var report DecodeReport
	staged := make([]TelemetryValue, 0, len(points))

	for _, p := range points {
		if !p.Encoding.Valid() {
			return DecodeReport{}, &PointError{Point: p, Err: ErrUnsupportedEncoding}
		}

		offset := int(p.Address) - int(frame.BaseAddress)
		if offset < 0 || offset+p.Width > len(frame.Payload) {
			report.OutOfRange = append(report.OutOfRange, p.Name)
			report.skipped = append(report.skipped, p)
			continue
		}

		v, err := ParseValue(p.Encoding, frame.Payload[offset:offset+p.Width])
		if err != nil {
			return DecodeReport{}, &PointError{Point: p, Err: err}
		}

		staged = append(staged, TelemetryValue{
			Name:     p.Name,
			Address:  p.Address,
			Value:    v,
			Width:    p.Width,
			Encoding: p.Encoding,
		})
		report.Updated = append(report.Updated, p.Name)
	}

	snap.apply(staged)
	report.Generation = snap.generation
	return report, nil
}

// Decode decodes frame against every point of the table
func (t *Table) Decode(frame ValidatedFrame, snap *Snapshot) (DecodeReport, error) {
	return Decode(frame, t.points, snap)
}
