package protocol

// InputBuffer is received data waiting to be scanned for a frame
type InputBuffer interface {
	// Data returns the unconsumed bytes as one contiguous span
	Data() []byte

	// Available returns len(Data())
	Available() int

	// Pop consumes n bytes from the front
	Pop(n int)
}

// OutputBuffer is a frame under construction
type OutputBuffer interface {
	// Output appends data
	Output(data []byte)

	// CurPosition returns the offset the next Output writes at
	CurPosition() int

	// Update overwrites one byte already written
	Update(pos int, val byte)

	// DataSince returns everything written from pos on
	DataSince(pos int) []byte
}

// SliceInputBuffer reads from a borrowed slice
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[clampPop(n, len(s.data)):]
}

// ScratchOutput builds a frame in a growable slice
type ScratchOutput struct {
	buf []byte
}

// NewScratchOutput preallocates room for size bytes
func NewScratchOutput(size int) *ScratchOutput {
	return &ScratchOutput{buf: make([]byte, 0, size)}
}

func (s *ScratchOutput) Output(data []byte) { s.buf = append(s.buf, data...) }
func (s *ScratchOutput) CurPosition() int   { return len(s.buf) }

// Update ignores positions not yet written
func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < len(s.buf) {
		s.buf[pos] = val
	}
}

// DataSince returns nil for a position past the end
func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > len(s.buf) {
		return nil
	}
	return s.buf[pos:]
}

// Result returns the frame bytes, aliasing the buffer
func (s *ScratchOutput) Result() []byte { return s.buf }

// Reset empties the buffer, keeping its capacity
func (s *ScratchOutput) Reset() { s.buf = s.buf[:0] }

// RxBuffer accumulates serial input between scans. It holds at most limit
// bytes; Data is always one span, so a frame is never split across a wrap.
type RxBuffer struct {
	buf   []byte
	start int
	limit int
}

// NewRxBuffer creates an accumulator for up to limit bytes
func NewRxBuffer(limit int) *RxBuffer {
	return &RxBuffer{buf: make([]byte, 0, limit), limit: limit}
}

// Write appends as much of data as fits and returns the count kept
func (r *RxBuffer) Write(data []byte) int {
	n := r.Free()
	if n > len(data) {
		n = len(data)
	}
	if n == 0 {
		return 0
	}
	if r.start > 0 && len(r.buf)+n > cap(r.buf) {
		r.compact()
	}
	r.buf = append(r.buf, data[:n]...)
	return n
}

func (r *RxBuffer) Data() []byte   { return r.buf[r.start:] }
func (r *RxBuffer) Available() int { return len(r.buf) - r.start }

// Free returns how many more bytes Write accepts
func (r *RxBuffer) Free() int { return r.limit - r.Available() }

func (r *RxBuffer) IsEmpty() bool { return r.Available() == 0 }

// Pop consumes n bytes; popping more than Available empties the buffer
func (r *RxBuffer) Pop(n int) {
	r.start += clampPop(n, r.Available())
	if r.start == len(r.buf) {
		r.Reset()
	}
}

// Reset drops all buffered bytes
func (r *RxBuffer) Reset() {
	r.buf = r.buf[:0]
	r.start = 0
}

// compact moves unconsumed bytes to the front of buf
func (r *RxBuffer) compact() {
	n := copy(r.buf, r.buf[r.start:])
	r.buf = r.buf[:n]
	r.start = 0
}

func clampPop(n, avail int) int {
	switch {
	case n < 0:
		return 0
	case n > avail:
		return avail
	}
	return n
}
