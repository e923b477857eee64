package session

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frames larger than one data channel message are split into chunks. Each
// chunk carries an 8 byte big-endian header: frame seq (uint32), chunk
// index (uint16), chunk count (uint16).
const (
	ChunkHeaderSize = 8
	MaxChunkSize    = 16 * 1024
	maxChunkPayload = MaxChunkSize - ChunkHeaderSize

	// Partial frames kept while waiting for missing chunks. The channel is
	// unordered and unreliable, so older partials are abandoned.
	maxPendingFrames = 4
)

var ErrBadChunk = errors.New("session: malformed frame chunk")

// SplitFrame cuts data into header-prefixed chunks of at most MaxChunkSize
// bytes.
func SplitFrame(seq uint32, data []byte) ([][]byte, error) {
	total := (len(data) + maxChunkPayload - 1) / maxChunkPayload
	if total == 0 {
		total = 1
	}
	if total > 0xffff {
		return nil, fmt.Errorf("session: frame of %d bytes needs %d chunks", len(data), total)
	}

	chunks := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunkPayload
		end := min(start+maxChunkPayload, len(data))
		c := make([]byte, ChunkHeaderSize+end-start)
		binary.BigEndian.PutUint32(c[0:4], seq)
		binary.BigEndian.PutUint16(c[4:6], uint16(i))
		binary.BigEndian.PutUint16(c[6:8], uint16(total))
		copy(c[ChunkHeaderSize:], data[start:end])
		chunks = append(chunks, c)
	}
	return chunks, nil
}

type partialFrame struct {
	parts    [][]byte
	have     []bool
	received int
}

// FrameAssembler rebuilds frames from chunks produced by SplitFrame. It is
// not safe for concurrent use.
type FrameAssembler struct {
	pending map[uint32]*partialFrame
	order   []uint32
	last    uint32
	started bool
}

func NewFrameAssembler() *FrameAssembler {
	return &FrameAssembler{pending: make(map[uint32]*partialFrame)}
}

// Add consumes one chunk and returns the frame once all its chunks have
// arrived. Chunks of frames older than the last completed one are ignored.
func (a *FrameAssembler) Add(chunk []byte) ([]byte, bool, error) {
	if len(chunk) < ChunkHeaderSize {
		return nil, false, ErrBadChunk
	}
	seq := binary.BigEndian.Uint32(chunk[0:4])
	idx := int(binary.BigEndian.Uint16(chunk[4:6]))
	total := int(binary.BigEndian.Uint16(chunk[6:8]))
	if total == 0 || idx >= total {
		return nil, false, ErrBadChunk
	}
	if a.started && int32(seq-a.last) <= 0 {
		return nil, false, nil
	}

	pf, ok := a.pending[seq]
	if !ok {
		pf = &partialFrame{parts: make([][]byte, total), have: make([]bool, total)}
		a.pending[seq] = pf
		a.order = append(a.order, seq)
		if len(a.order) > maxPendingFrames {
			delete(a.pending, a.order[0])
			a.order = a.order[1:]
		}
	}
	if len(pf.parts) != total {
		return nil, false, ErrBadChunk
	}
	if !pf.have[idx] {
		pf.parts[idx] = append([]byte(nil), chunk[ChunkHeaderSize:]...)
		pf.have[idx] = true
		pf.received++
	}
	if pf.received < total {
		return nil, false, nil
	}

	size := 0
	for _, p := range pf.parts {
		size += len(p)
	}
	frame := make([]byte, 0, size)
	for _, p := range pf.parts {
		frame = append(frame, p...)
	}

	// Everything at or before this seq is now stale.
	a.last, a.started = seq, true
	kept := a.order[:0]
	for _, s := range a.order {
		if int32(s-seq) > 0 {
			kept = append(kept, s)
		} else {
			delete(a.pending, s)
		}
	}
	a.order = kept
	return frame, true, nil
}

// Pending returns the number of incomplete frames held.
func (a *FrameAssembler) Pending() int {
	return len(a.pending)
}
