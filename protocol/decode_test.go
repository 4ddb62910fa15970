package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	testCases := []struct {
		name     string
		encoding Encoding
		raw      []byte
		expected int64
		wantErr  bool
	}{
		{"uint8", Unsigned8, []byte{0x02}, 2, false},
		{"uint8 max", Unsigned8, []byte{0xFF}, 255, false},
		{"int16 negative", Signed16BE, []byte{0xFF, 0xFE}, -2, false},
		{"int16 min", Signed16BE, []byte{0x80, 0x00}, -32768, false},
		{"int16 positive", Signed16BE, []byte{0x01, 0x00}, 256, false},
		{"uint16", Unsigned16BE, []byte{0xFF, 0xFE}, 65534, false},
		{"uint16 big endian", Unsigned16BE, []byte{0x12, 0x34}, 0x1234, false},
		{"short", Signed16BE, []byte{0xFF}, 0, true},
		{"long", Unsigned8, []byte{0x01, 0x02}, 0, true},
		{"unknown encoding", Encoding(9), []byte{0x01}, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := ParseValue(tc.encoding, tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, v)
		})
	}

	_, err := ParseValue(Encoding(9), []byte{0x01})
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestDecodeOperatingMode(t *testing.T) {
	frame := ValidatedFrame{BaseAddress: 0x4AF, Payload: []byte{0x02}}
	snap := NewSnapshot()

	report, err := DefaultTable().Decode(frame, snap)
	require.NoError(t, err)
	assert.Equal(t, []string{PointRW1Mode}, report.Updated)
	assert.Len(t, report.OutOfRange, 11)

	v, ok := snap.Get(PointRW1Mode)
	require.True(t, ok)
	assert.Equal(t, int64(2), v.Value)
	assert.Equal(t, 1, v.Width)
	assert.Equal(t, Unsigned8, v.Encoding)
	assert.Equal(t, uint16(0x4AF), v.Address)

	_, ok = snap.Get(PointRW2Mode)
	assert.False(t, ok, "never decoded points stay absent")
}

func TestDecodeSignedAndUnsigned(t *testing.T) {
	table := MustTable(
		Point("speed", 0x100, Signed16BE),
		Point("count", 0x102, Unsigned16BE),
	)
	frame := ValidatedFrame{BaseAddress: 0x100, Payload: []byte{0xFF, 0xFE, 0xFF, 0xFE}}
	snap := NewSnapshot()

	_, err := table.Decode(frame, snap)
	require.NoError(t, err)

	speed, _ := snap.Get("speed")
	count, _ := snap.Get("count")
	assert.Equal(t, int64(-2), speed.Value)
	assert.Equal(t, int64(65534), count.Value)
}

// Builds the payload the device returns for the reference telemetry window
func referencePayload(values map[uint16][]byte) []byte {
	payload := make([]byte, TelemetryWindowLength)
	for addr, raw := range values {
		copy(payload[int(addr)-TelemetryWindowAddress:], raw)
	}
	return payload
}

func TestDecodeReferenceWindow(t *testing.T) {
	be := func(v uint16) []byte {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, v)
		return b
	}

	payload := referencePayload(map[uint16][]byte{
		0x4AF: {2}, 0x4B0: {1}, 0x4B1: {0}, 0x4B2: {3},
		0x45B: be(uint16(0xFC18)), // -1000
		0x45D: be(1000),
		0x45F: be(0),
		0x461: be(uint16(0x8000)),
		0x57D: be(1200), 0x57F: be(1300), 0x581: be(1400), 0x583: be(65535),
	})
	frame := ValidatedFrame{BaseAddress: TelemetryWindowAddress, Payload: payload}
	snap := NewSnapshot()

	report, err := DefaultTable().Decode(frame, snap)
	require.NoError(t, err)
	assert.Len(t, report.Updated, 12)
	assert.Empty(t, report.OutOfRange)
	assert.Nil(t, report.OutOfRangeErrors())
	assert.Equal(t, uint64(1), report.Generation)

	expected := map[string]int64{
		PointRW1Mode: 2, PointRW2Mode: 1, PointRW3Mode: 0, PointRW4Mode: 3,
		PointRW1Speed: -1000, PointRW2Speed: 1000, PointRW3Speed: 0, PointRW4Speed: -32768,
		PointSSDiode1: 1200, PointSSDiode2: 1300, PointSSDiode3: 1400, PointSSDiode4: 65535,
	}
	for name, want := range expected {
		v, ok := snap.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, want, v.Value, name)
	}

	ordered := snap.Ordered(DefaultTable())
	require.Len(t, ordered, 12)
	assert.Equal(t, PointRW1Mode, ordered[0].Name)
	assert.Equal(t, PointSSDiode4, ordered[11].Name)
}

func TestDecodeOutOfRangeKeepsStaleValue(t *testing.T) {
	table := MustTable(
		Point("low", 0x10, Unsigned8),
		Point("high", 0x20, Unsigned16BE),
	)
	snap := NewSnapshot()

	full := make([]byte, 0x12)
	full[0x10] = 0x07
	_, err := table.Decode(ValidatedFrame{BaseAddress: 0x10, Payload: full}, snap)
	require.NoError(t, err)
	high, ok := snap.Get("high")
	require.True(t, ok)
	assert.Equal(t, int64(0x0700), high.Value)

	// Second frame covers only "low"
	report, err := table.Decode(ValidatedFrame{BaseAddress: 0x10, Payload: []byte{0x09}}, snap)
	require.NoError(t, err)
	assert.Equal(t, []string{"low"}, report.Updated)
	assert.Equal(t, []string{"high"}, report.OutOfRange)

	errs := report.OutOfRangeErrors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrPointOutOfRange)
	var pe *PointError
	require.ErrorAs(t, errs[0], &pe)
	assert.Equal(t, "high", pe.Point.Name)
	assert.Equal(t, uint16(0x20), pe.Point.Address)

	high, ok = snap.Get("high")
	require.True(t, ok)
	assert.Equal(t, int64(0x0700), high.Value)
	assert.Equal(t, uint64(1), high.Generation)
	assert.True(t, snap.Stale("high"))
	assert.False(t, snap.Stale("low"))
	assert.Equal(t, uint64(2), snap.Generation())
}

func TestDecodeBoundaries(t *testing.T) {
	table := MustTable(Point("word", 0x10, Unsigned16BE))

	testCases := []struct {
		name    string
		frame   ValidatedFrame
		inRange bool
	}{
		{"before window", ValidatedFrame{BaseAddress: 0x11, Payload: []byte{1, 2, 3}}, false},
		{"straddles end", ValidatedFrame{BaseAddress: 0x0F, Payload: []byte{1, 2}}, false},
		{"exactly fits", ValidatedFrame{BaseAddress: 0x0F, Payload: []byte{1, 2, 3}}, true},
		{"empty payload", ValidatedFrame{BaseAddress: 0x10, Payload: nil}, false},
		{"base above address", ValidatedFrame{BaseAddress: 0xFFFF, Payload: []byte{1, 2}}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			snap := NewSnapshot()
			report, err := table.Decode(tc.frame, snap)
			require.NoError(t, err)
			if tc.inRange {
				assert.Equal(t, []string{"word"}, report.Updated)
				v, _ := snap.Get("word")
				assert.Equal(t, int64(0x0203), v.Value)
			} else {
				assert.Equal(t, []string{"word"}, report.OutOfRange)
				assert.Equal(t, 0, snap.Len())
				assert.Equal(t, uint64(0), snap.Generation())
			}
		})
	}
}

func TestDecodeUnsupportedEncodingLeavesSnapshot(t *testing.T) {
	points := []PointDescriptor{
		Point("good", 0x00, Unsigned8),
		{Name: "bad", Address: 0x01, Width: 1, Encoding: Encoding(77)},
	}
	snap := NewSnapshot()

	_, err := Decode(ValidatedFrame{Payload: []byte{5, 6}}, points, snap)
	require.ErrorIs(t, err, ErrUnsupportedEncoding)

	var pe *PointError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad", pe.Point.Name)

	assert.Equal(t, 0, snap.Len(), "failed decode must not write")
	assert.Equal(t, uint64(0), snap.Generation())
}

func TestDecodeNilSnapshot(t *testing.T) {
	_, err := DefaultTable().Decode(ValidatedFrame{}, nil)
	assert.Error(t, err)
}

func TestSnapshotZeroValueAndClone(t *testing.T) {
	var snap Snapshot
	_, ok := snap.Get(PointRW1Mode)
	assert.False(t, ok)
	assert.Empty(t, snap.Names())

	_, err := DefaultTable().Decode(ValidatedFrame{BaseAddress: 0x4AF, Payload: []byte{2, 1}}, &snap)
	require.NoError(t, err)
	assert.Equal(t, []string{PointRW1Mode, PointRW2Mode}, snap.Names())

	clone := snap.Clone()
	_, err = DefaultTable().Decode(ValidatedFrame{BaseAddress: 0x4AF, Payload: []byte{7}}, &snap)
	require.NoError(t, err)

	v, _ := clone.Get(PointRW1Mode)
	assert.Equal(t, int64(2), v.Value)
	assert.Equal(t, uint64(1), clone.Generation())

	v, _ = snap.Get(PointRW1Mode)
	assert.Equal(t, int64(7), v.Value)
}

func TestScanThenDecode(t *testing.T) {
	payload := referencePayload(map[uint16][]byte{0x57D: {0x04, 0xB0}})
	raw := append([]byte{0x00, 0x13}, mustFrame(t, 0, payload)...)

	r := Scan(raw, DefaultSync, TelemetryWindowAddress)
	require.Equal(t, Found, r.Status)

	snap := NewSnapshot()
	_, err := DefaultTable().Decode(r.Frame, snap)
	require.NoError(t, err)

	v, ok := snap.Get(PointSSDiode1)
	require.True(t, ok)
	assert.Equal(t, int64(1200), v.Value)
}

func TestEncodeValue(t *testing.T) {
	testCases := []struct {
		encoding Encoding
		value    int64
		expected []byte
		wantErr  bool
	}{
		{Unsigned8, 2, []byte{0x02}, false},
		{Unsigned8, 256, nil, true},
		{Unsigned8, -1, nil, true},
		{Signed16BE, -2, []byte{0xFF, 0xFE}, false},
		{Signed16BE, 32768, nil, true},
		{Unsigned16BE, 65534, []byte{0xFF, 0xFE}, false},
		{Unsigned16BE, 65536, nil, true},
		{Encoding(5), 0, nil, true},
	}

	for _, tc := range testCases {
		dst := make([]byte, tc.encoding.Width())
		err := EncodeValue(tc.encoding, dst, tc.value)
		if tc.wantErr {
			assert.Error(t, err, "%s %d", tc.encoding, tc.value)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.expected, dst)

		back, err := ParseValue(tc.encoding, dst)
		require.NoError(t, err)
		assert.Equal(t, tc.value, back)
	}
}
