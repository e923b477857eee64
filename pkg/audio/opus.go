package audio

import (
	"fmt"
	"time"

	"gopkg.in/hraban/opus.v2"
)

// Opus track parameters: 48 kHz mono, 20 ms frames.
const (
	OpusSampleRate    = 48000
	OpusChannels      = 1
	OpusFrameDuration = 20 * time.Millisecond
	opusFrameSize     = OpusSampleRate * 20 / 1000 // 960
	maxOpusPacket     = 1275
)

// OpusEncoder turns captured chunks into Opus packets for the outbound
// audio track. Input of any rate/channel count is downmixed and resampled
// to 48 kHz mono; leftover samples carry over to the next call.
// Not safe for concurrent use.
type OpusEncoder struct {
	enc     *opus.Encoder
	pending []int16
	packet  []byte
}

// NewOpusEncoder creates a VoIP-tuned encoder.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(OpusSampleRate, OpusChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{
		enc:    enc,
		packet: make([]byte, maxOpusPacket),
	}, nil
}

// Encode consumes a chunk and returns zero or more complete 20 ms packets.
func (e *OpusEncoder) Encode(c Chunk) ([][]byte, error) {
	mono := c.Mono()
	e.pending = append(e.pending, Resample(mono.Samples, mono.SampleRate, OpusSampleRate)...)

	var packets [][]byte
	for len(e.pending) >= opusFrameSize {
		n, err := e.enc.Encode(e.pending[:opusFrameSize], e.packet)
		if err != nil {
			return packets, fmt.Errorf("audio: opus encode: %w", err)
		}
		packets = append(packets, append([]byte(nil), e.packet[:n]...))
		e.pending = e.pending[opusFrameSize:]
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return packets, nil
}

// Pending returns the number of buffered 48 kHz samples awaiting a full
// frame.
func (e *OpusEncoder) Pending() int {
	return len(e.pending)
}
