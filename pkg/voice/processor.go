package voice

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/roopcam/internal/observe"
	"github.com/teslashibe/roopcam/pkg/audio"
)

// ModeFunc reports whether voice mode is on and which profile is selected.
// It is called once per chunk and must not block.
type ModeFunc func() (enabled bool, profile Profile)

// Result is one processed chunk.
type Result struct {
	Input       Stats     `json:"input"`
	Output      Stats     `json:"output"`
	Profile     Profile   `json:"profile"`
	Transformed bool      `json:"transformed"`
	At          time.Time `json:"at"`
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	// Mode supplies the voice flag and profile. Nil means enabled/original.
	Mode ModeFunc

	Analyzer  *Analyzer
	Collector *MetricsCollector
	Metrics   *observe.Metrics
	Logger    *slog.Logger

	// OnResult receives every analyzed chunk.
	OnResult func(Result)

	// Forward receives every chunk, analyzed or not, for the outbound
	// audio track.
	Forward func(audio.Chunk)
}

// Processor analyzes audio chunks on the audio source's cadence.
type Processor struct {
	cfg     ProcessorConfig
	logger  *slog.Logger
	latest  atomic.Pointer[Result]
	running atomic.Bool
}

// NewProcessor creates a processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Analyzer == nil {
		cfg.Analyzer = NewAnalyzer()
	}
	if cfg.Collector == nil {
		cfg.Collector = NewMetricsCollector()
	}
	if cfg.Mode == nil {
		cfg.Mode = func() (bool, Profile) { return true, ProfileOriginal }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:    cfg,
		logger: logger.With("component", "voice"),
	}
}

// Process handles one chunk. The second return is false when voice mode is
// off and the chunk was only forwarded.
func (p *Processor) Process(ctx context.Context, c audio.Chunk) (Result, bool) {
	if p.cfg.Forward != nil {
		p.cfg.Forward(c)
	}

	enabled, profile := p.cfg.Mode()
	if !enabled {
		return Result{}, false
	}

	start := time.Now()
	in := p.cfg.Analyzer.Analyze(c)
	r := Result{
		Input:   in,
		Output:  in,
		Profile: profile,
		At:      start,
	}
	if in.Active && profile != ProfileOriginal {
		r.Output = Transform(in, profile)
		r.Transformed = true
	}
	if in.Active {
		p.cfg.Metrics.RecordAudioActive(ctx, profile.String())
	}

	p.latest.Store(&r)
	p.cfg.Collector.Record(r, time.Since(start))
	if p.cfg.OnResult != nil {
		p.cfg.OnResult(r)
	}
	return r, true
}

// Run processes chunks from in until the channel closes or ctx is done.
func (p *Processor) Run(ctx context.Context, in <-chan audio.Chunk) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)

	p.logger.Debug("voice processor started")
	defer p.logger.Debug("voice processor stopped", "metrics", p.cfg.Collector.Current().Format())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-in:
			if !ok {
				return nil
			}
			p.Process(ctx, c)
		}
	}
}

// Running reports whether Run is active.
func (p *Processor) Running() bool {
	return p.running.Load()
}

// Latest returns the most recent result, if any.
func (p *Processor) Latest() (Result, bool) {
	r := p.latest.Load()
	if r == nil {
		return Result{}, false
	}
	return *r, true
}

// Collector returns the processor's metrics collector.
func (p *Processor) Collector() *MetricsCollector {
	return p.cfg.Collector
}
