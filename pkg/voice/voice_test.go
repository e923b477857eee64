package voice

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/roopcam/pkg/audio"
)

func sineChunk(freq, amp float64, sampleRate, n int) audio.Chunk {
	samples := make([]int16, n)
	for i := range samples {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		samples[i] = int16(v * 32767)
	}
	return audio.Chunk{Samples: samples, SampleRate: sampleRate, Channels: 1, CapturedAt: time.Now()}
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestAnalyzeSilence(t *testing.T) {
	a := NewAnalyzer()
	s := a.Analyze(audio.Chunk{Samples: make([]int16, 320), SampleRate: 16000, Channels: 1})

	if s.Volume != 0 {
		t.Errorf("Expected zero volume, got %f", s.Volume)
	}
	if s.Active {
		t.Error("Expected silence to be inactive")
	}
	if s.DominantFrequencyHz != 0 {
		t.Errorf("Expected 0Hz for silence, got %f", s.DominantFrequencyHz)
	}
}

func TestAnalyzeEmptyChunk(t *testing.T) {
	a := NewAnalyzer()
	if s := a.Analyze(audio.Chunk{}); s != (Stats{}) {
		t.Errorf("Expected zero stats, got %+v", s)
	}
}

func TestAnalyzeSine(t *testing.T) {
	a := NewAnalyzer()

	// 1kHz at 16kHz lands exactly on bin 16 of a 256-point FFT.
	s := a.Analyze(sineChunk(1000, 0.5, 16000, 320))

	if !s.Active {
		t.Error("Expected sine to be active")
	}
	// mean |sin| is 2/pi
	if !approx(s.Volume, 0.5*2/math.Pi, 0.01) {
		t.Errorf("Expected volume ~0.318, got %f", s.Volume)
	}
	if s.DominantFrequencyHz != 1000 {
		t.Errorf("Expected 1000Hz, got %f", s.DominantFrequencyHz)
	}
}

func TestAnalyzeIsPure(t *testing.T) {
	a := NewAnalyzer()
	c := sineChunk(500, 0.3, 16000, 256)

	first := a.Analyze(c)
	a.Analyze(sineChunk(3000, 0.9, 16000, 512))
	second := a.Analyze(c)

	if first != second {
		t.Errorf("Expected identical stats for identical input, got %+v and %+v", first, second)
	}
}

func TestAnalyzeStereoDownmix(t *testing.T) {
	a := NewAnalyzer()
	mono := sineChunk(1000, 0.5, 16000, 320)

	stereo := audio.Chunk{SampleRate: 16000, Channels: 2, Samples: make([]int16, 640)}
	for i, s := range mono.Samples {
		stereo.Samples[2*i] = s
		stereo.Samples[2*i+1] = s
	}

	if got, want := a.Analyze(stereo), a.Analyze(mono); got != want {
		t.Errorf("Expected stereo downmix to match mono, got %+v want %+v", got, want)
	}
}

func TestTransformOriginalIsIdentity(t *testing.T) {
	inputs := []Stats{
		{},
		{Volume: 0.5, DominantFrequencyHz: 440, Active: true},
		{Volume: 0.005, DominantFrequencyHz: 62.5, Active: false},
		{Volume: 1, DominantFrequencyHz: 8000, Active: true},
	}
	for _, in := range inputs {
		if got := Transform(in, ProfileOriginal); got != in {
			t.Errorf("Transform(%+v, original) = %+v", in, got)
		}
	}
}

func TestTransformProfiles(t *testing.T) {
	in := Stats{Volume: 0.5, DominantFrequencyHz: 200, Active: true}

	tests := []struct {
		profile Profile
		volume  float64
		freq    float64
	}{
		{ProfileMaleDeep, 0.6, 160},
		{ProfileFemaleHigh, 0.45, 260},
		{ProfileChild, 0.4, 300},
		{ProfileRobot, 0.55, 180},
		{ProfileCelebrity1, 0.5, 220},
		{ProfileCelebrity2, 0.5, 190},
	}

	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			got := Transform(in, tt.profile)
			if !approx(got.Volume, tt.volume, 1e-9) {
				t.Errorf("Expected volume %f, got %f", tt.volume, got.Volume)
			}
			if !approx(got.DominantFrequencyHz, tt.freq, 1e-9) {
				t.Errorf("Expected frequency %f, got %f", tt.freq, got.DominantFrequencyHz)
			}
			if !got.Active {
				t.Error("Expected Active to be preserved")
			}
		})
	}
}

func TestParseProfile(t *testing.T) {
	if p, err := ParseProfile(""); err != nil || p != ProfileOriginal {
		t.Errorf("Expected empty to map to original, got %q, %v", p, err)
	}
	if p, err := ParseProfile(" Robot "); err != nil || p != ProfileRobot {
		t.Errorf("Expected robot, got %q, %v", p, err)
	}
	if _, err := ParseProfile("darth_vader"); err == nil {
		t.Error("Expected error for unknown profile")
	}
	for _, p := range Profiles() {
		if !p.Valid() {
			t.Errorf("Expected %q to be valid", p)
		}
	}
}

func TestProcessorTransformsOnlyActive(t *testing.T) {
	p := NewProcessor(ProcessorConfig{
		Mode: func() (bool, Profile) { return true, ProfileChild },
	})
	ctx := context.Background()

	r, ok := p.Process(ctx, sineChunk(1000, 0.5, 16000, 320))
	if !ok {
		t.Fatal("Expected chunk to be analyzed")
	}
	if !r.Transformed {
		t.Error("Expected active chunk to be transformed")
	}
	if r.Output.DominantFrequencyHz != 1500 {
		t.Errorf("Expected 1500Hz, got %f", r.Output.DominantFrequencyHz)
	}

	r, _ = p.Process(ctx, audio.Chunk{Samples: make([]int16, 320), SampleRate: 16000, Channels: 1})
	if r.Transformed {
		t.Error("Expected silent chunk to pass untransformed")
	}
	if r.Output != r.Input {
		t.Errorf("Expected output to equal input, got %+v vs %+v", r.Output, r.Input)
	}

	m := p.Collector().Current()
	if m.ChunksIn != 2 || m.ActiveIn != 1 || m.Transformed != 1 {
		t.Errorf("Unexpected metrics: %+v", m)
	}
}

func TestProcessorOriginalNeverTransforms(t *testing.T) {
	p := NewProcessor(ProcessorConfig{
		Mode: func() (bool, Profile) { return true, ProfileOriginal },
	})

	r, _ := p.Process(context.Background(), sineChunk(1000, 0.5, 16000, 320))
	if r.Transformed {
		t.Error("Expected original profile to skip transform")
	}
	if r.Output != r.Input {
		t.Errorf("Expected identity output, got %+v vs %+v", r.Output, r.Input)
	}
}

func TestProcessorDisabledOnlyForwards(t *testing.T) {
	forwarded := 0
	p := NewProcessor(ProcessorConfig{
		Mode:    func() (bool, Profile) { return false, ProfileRobot },
		Forward: func(audio.Chunk) { forwarded++ },
	})

	if _, ok := p.Process(context.Background(), sineChunk(1000, 0.5, 16000, 320)); ok {
		t.Error("Expected disabled processor to skip analysis")
	}
	if forwarded != 1 {
		t.Errorf("Expected chunk forwarded once, got %d", forwarded)
	}
	if _, ok := p.Latest(); ok {
		t.Error("Expected no latest result")
	}
}

func TestProcessorRun(t *testing.T) {
	results := make(chan Result, 4)
	p := NewProcessor(ProcessorConfig{
		Mode:     func() (bool, Profile) { return true, ProfileRobot },
		OnResult: func(r Result) { results <- r },
	})

	in := make(chan audio.Chunk, 3)
	for i := 0; i < 3; i++ {
		in <- sineChunk(1000, 0.5, 16000, 320)
	}
	close(in)

	if err := p.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Expected 3 results, got %d", len(results))
	}
	latest, ok := p.Latest()
	if !ok || latest.Profile != ProfileRobot {
		t.Errorf("Expected latest robot result, got %+v", latest)
	}
	if p.Running() {
		t.Error("Expected processor stopped after channel close")
	}
}

func TestProcessorRunCancel(t *testing.T) {
	p := NewProcessor(ProcessorConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, make(chan audio.Chunk)) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMetricsCollectorAverage(t *testing.T) {
	m := NewMetricsCollector()
	var updates int
	m.OnUpdate(func(Metrics) { updates++ })

	m.Record(Result{Input: Stats{Active: true}, Output: Stats{Volume: 0.2, DominantFrequencyHz: 100, Active: true}}, time.Millisecond)
	m.Record(Result{Input: Stats{Active: true}, Output: Stats{Volume: 0.4, DominantFrequencyHz: 300, Active: true}}, time.Millisecond)
	m.Record(Result{}, time.Millisecond)

	avg := m.Average()
	if !approx(avg.Volume, 0.3, 1e-9) || !approx(avg.DominantFrequencyHz, 200, 1e-9) {
		t.Errorf("Unexpected average: %+v", avg)
	}
	if updates != 3 {
		t.Errorf("Expected 3 updates, got %d", updates)
	}

	m.Reset()
	if m.Current().ChunksIn != 0 {
		t.Error("Expected reset to clear counters")
	}
}
