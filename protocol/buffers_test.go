package protocol

import "testing"

func TestSliceInputBuffer(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})

	if buf.Available() != 5 {
		t.Errorf("Expected 5 bytes available, got %d", buf.Available())
	}

	buf.Pop(2)
	if data := buf.Data(); len(data) != 3 || data[0] != 3 {
		t.Errorf("After popping 2, expected [3 4 5], got %v", data)
	}

	buf.Pop(-1)
	if buf.Available() != 3 {
		t.Errorf("Negative pop should be ignored, %d available", buf.Available())
	}

	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("Expected 0 available, got %d", buf.Available())
	}
}

func TestScratchOutput(t *testing.T) {
	scratch := NewScratchOutput(2)

	scratch.Output([]byte{1, 2, 3})
	scratch.Output([]byte{4, 5})
	if scratch.CurPosition() != 5 {
		t.Errorf("Expected position 5, got %d", scratch.CurPosition())
	}

	scratch.Update(0, 99)
	if result := scratch.Result(); result[0] != 99 {
		t.Errorf("Expected first byte to be 99, got %d", result[0])
	}

	if since := scratch.DataSince(2); len(since) != 3 || since[0] != 3 {
		t.Errorf("DataSince(2): expected [3 4 5], got %v", since)
	}
	if scratch.DataSince(6) != nil {
		t.Error("DataSince past end should be nil")
	}

	// Grows past the initial size
	scratch.Output(make([]byte, 600))
	if scratch.CurPosition() != 605 {
		t.Errorf("Expected position 605 after growth, got %d", scratch.CurPosition())
	}

	scratch.Update(605, 1)
	scratch.Update(-1, 1)
	if scratch.CurPosition() != 605 {
		t.Error("Out of range Update must not write")
	}

	scratch.Reset()
	if scratch.CurPosition() != 0 {
		t.Errorf("After reset, expected position 0, got %d", scratch.CurPosition())
	}
}

func TestRxBuffer(t *testing.T) {
	rx := NewRxBuffer(10)

	if !rx.IsEmpty() || rx.Free() != 10 {
		t.Fatalf("New buffer: empty=%t free=%d", rx.IsEmpty(), rx.Free())
	}

	if n := rx.Write([]byte{1, 2, 3, 4, 5}); n != 5 {
		t.Errorf("Expected to write 5 bytes, wrote %d", n)
	}

	rx.Pop(3)
	if data := rx.Data(); len(data) != 2 || data[0] != 4 {
		t.Errorf("After popping 3, expected [4 5], got %v", data)
	}

	// Fills to the limit, compacting the consumed prefix
	if n := rx.Write([]byte{6, 7, 8, 9, 10, 11, 12, 13, 14}); n != 8 {
		t.Errorf("Expected to write 8 bytes, wrote %d", n)
	}
	data := rx.Data()
	if len(data) != 10 || data[0] != 4 || data[9] != 13 {
		t.Errorf("Expected [4..13], got %v", data)
	}
	if rx.Free() != 0 {
		t.Errorf("Expected full buffer, %d free", rx.Free())
	}
	if n := rx.Write([]byte{99}); n != 0 {
		t.Errorf("Full buffer accepted %d bytes", n)
	}

	rx.Pop(100)
	if !rx.IsEmpty() {
		t.Errorf("Pop past Available should empty the buffer, %d left", rx.Available())
	}
}

func TestRxBufferSpansCompaction(t *testing.T) {
	rx := NewRxBuffer(8)
	rx.Write([]byte{0, 0, 0, 0, 0, 0x1A})
	rx.Pop(5)

	rx.Write([]byte{0xCF, 0x00, 0x00, 0x00, 0x01})
	data := rx.Data()
	if len(data) != 6 || data[0] != 0x1A || data[1] != 0xCF || data[5] != 0x01 {
		t.Fatalf("Compacted Data mismatch: got %x", data)
	}
}

func TestRxBufferReset(t *testing.T) {
	rx := NewRxBuffer(4)
	rx.Write([]byte{1, 2, 3})
	rx.Reset()

	if rx.Available() != 0 || rx.Free() != 4 {
		t.Errorf("After reset: available=%d free=%d", rx.Available(), rx.Free())
	}
}
