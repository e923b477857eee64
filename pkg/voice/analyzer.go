package voice

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/teslashibe/roopcam/pkg/audio"
)

const (
	// FFTSize is the analysis window length in samples.
	FFTSize = 256

	// ActivityFloor is the volume above which a chunk counts as speech.
	ActivityFloor = 0.01
)

// Stats describes one analyzed audio buffer.
type Stats struct {
	// Volume is the mean normalized amplitude, 0..1.
	Volume float64 `json:"volume"`

	// DominantFrequencyHz is the centre of the strongest FFT bin.
	DominantFrequencyHz float64 `json:"dominant_frequency_hz"`

	// Active is true when Volume is above ActivityFloor.
	Active bool `json:"active"`
}

// Analyzer computes Stats from PCM chunks. Output depends only on the chunk
// passed in; the analyzer keeps scratch buffers but no history.
type Analyzer struct {
	mu     sync.Mutex
	fft    *fourier.FFT
	seq    []float64
	coeffs []complex128
}

// NewAnalyzer creates an analyzer with an FFTSize window.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		fft:    fourier.NewFFT(FFTSize),
		seq:    make([]float64, FFTSize),
		coeffs: make([]complex128, FFTSize/2+1),
	}
}

// Analyze computes volume, dominant frequency and activity for c.
// Multi-channel chunks are downmixed first. An empty chunk is silent.
func (a *Analyzer) Analyze(c audio.Chunk) Stats {
	mono := c.Mono()
	if len(mono.Samples) == 0 {
		return Stats{}
	}

	var sum float64
	for _, s := range mono.Samples {
		sum += math.Abs(float64(s)) / 32768.0
	}
	volume := sum / float64(len(mono.Samples))

	return Stats{
		Volume:              volume,
		DominantFrequencyHz: a.dominant(mono.Samples, mono.SampleRate),
		Active:              volume > ActivityFloor,
	}
}

// dominant returns the frequency of the peak magnitude bin over the most
// recent FFTSize samples, zero-padded when the chunk is shorter.
func (a *Analyzer) dominant(samples []int16, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := 0
	if len(samples) > FFTSize {
		start = len(samples) - FFTSize
	}
	n := copy(a.seq, toFloat(samples[start:]))
	for i := n; i < FFTSize; i++ {
		a.seq[i] = 0
	}
	window.Hann(a.seq)

	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	// Bin 0 is DC and never counts as a voice frequency.
	peak, peakMag := 0, 0.0
	for i := 1; i < len(a.coeffs); i++ {
		if m := cmplx.Abs(a.coeffs[i]); m > peakMag {
			peak, peakMag = i, m
		}
	}
	return float64(peak*sampleRate) / FFTSize
}

func toFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out
}

// Transform scales s by the profile's multipliers. ProfileOriginal returns
// s unchanged.
func Transform(s Stats, p Profile) Stats {
	if p == ProfileOriginal {
		return s
	}
	m := p.Multipliers()
	return Stats{
		Volume:              s.Volume * m.Volume,
		DominantFrequencyHz: s.DominantFrequencyHz * m.Frequency,
		Active:              s.Active,
	}
}
