package session

import (
	"bytes"
	"errors"
	"testing"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestSplitFrameSizes(t *testing.T) {
	tests := []struct {
		size   int
		chunks int
	}{
		{0, 1},
		{1, 1},
		{maxChunkPayload, 1},
		{maxChunkPayload + 1, 2},
		{100000, 7},
	}
	for _, tt := range tests {
		chunks, err := SplitFrame(1, pattern(tt.size))
		if err != nil {
			t.Fatalf("SplitFrame(%d): %v", tt.size, err)
		}
		if len(chunks) != tt.chunks {
			t.Errorf("Expected %d chunks for %d bytes, got %d", tt.chunks, tt.size, len(chunks))
		}
		for _, c := range chunks {
			if len(c) > MaxChunkSize {
				t.Errorf("Chunk of %d bytes exceeds %d", len(c), MaxChunkSize)
			}
		}
	}
}

func TestAssembleOutOfOrder(t *testing.T) {
	frame := pattern(250000)
	chunks, _ := SplitFrame(9, frame)

	a := NewFrameAssembler()
	for i := len(chunks) - 1; i >= 0; i-- {
		got, ok, err := a.Add(chunks[i])
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if ok != (i == 0) {
			t.Fatalf("Unexpected completion at chunk %d", i)
		}
		if ok && !bytes.Equal(got, frame) {
			t.Error("Reassembled frame differs from input")
		}
	}
	if a.Pending() != 0 {
		t.Errorf("Expected no pending frames, got %d", a.Pending())
	}
}

func TestAssembleDuplicatesAndStale(t *testing.T) {
	a := NewFrameAssembler()
	first, _ := SplitFrame(1, pattern(40000))
	second, _ := SplitFrame(2, pattern(20000))

	// Duplicate chunk does not complete the frame early.
	a.Add(first[0])
	if _, ok, _ := a.Add(first[0]); ok {
		t.Fatal("Duplicate chunk completed the frame")
	}

	// Frame 2 completes while frame 1 is still missing chunks.
	var done bool
	for _, c := range second {
		_, done, _ = a.Add(c)
	}
	if !done {
		t.Fatal("Expected frame 2 to complete")
	}
	if a.Pending() != 0 {
		t.Errorf("Expected stale partial dropped, got %d pending", a.Pending())
	}

	// Late chunks of frame 1 are ignored.
	for _, c := range first[1:] {
		if _, ok, err := a.Add(c); ok || err != nil {
			t.Errorf("Expected stale chunk ignored, got ok=%v err=%v", ok, err)
		}
	}
}

func TestAssembleEmptyFrame(t *testing.T) {
	chunks, _ := SplitFrame(3, nil)
	got, ok, err := NewFrameAssembler().Add(chunks[0])
	if err != nil || !ok || len(got) != 0 {
		t.Errorf("Expected empty frame, got %v %v %v", got, ok, err)
	}
}

func TestAssembleBadChunk(t *testing.T) {
	a := NewFrameAssembler()
	if _, _, err := a.Add([]byte{1, 2}); !errors.Is(err, ErrBadChunk) {
		t.Errorf("Expected ErrBadChunk for short chunk, got %v", err)
	}
	bad := []byte{0, 0, 0, 1, 0, 2, 0, 2}
	if _, _, err := a.Add(bad); !errors.Is(err, ErrBadChunk) {
		t.Errorf("Expected ErrBadChunk for index past count, got %v", err)
	}
}

func TestAssemblePendingBounded(t *testing.T) {
	a := NewFrameAssembler()
	for seq := uint32(1); seq <= 10; seq++ {
		chunks, _ := SplitFrame(seq, pattern(40000))
		a.Add(chunks[0])
	}
	if a.Pending() != maxPendingFrames {
		t.Errorf("Expected %d pending frames, got %d", maxPendingFrames, a.Pending())
	}
}
