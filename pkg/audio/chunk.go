// Package audio provides microphone capture, PCM helpers and Opus encoding
// for the outbound audio track.
//
// Backends:
//   - exec: runs arecord and reads raw PCM16 from its stdout
//   - mock: synthetic silence or sine wave for CI and tests
package audio

import "time"

// Chunk is one buffer of interleaved PCM16 samples.
type Chunk struct {
	Samples    []int16
	SampleRate int
	Channels   int

	// CapturedAt is when the chunk was read from the device.
	CapturedAt time.Time
}

// Bytes returns the samples as little-endian PCM16 bytes.
func (c Chunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Mono returns the chunk downmixed to a single channel.
func (c Chunk) Mono() Chunk {
	if c.Channels <= 1 {
		return c
	}
	out := c
	out.Channels = 1
	out.Samples = make([]int16, len(c.Samples)/c.Channels)
	for i := range out.Samples {
		var sum int32
		for ch := 0; ch < c.Channels; ch++ {
			sum += int32(c.Samples[i*c.Channels+ch])
		}
		out.Samples[i] = int16(sum / int32(c.Channels))
	}
	return out
}
