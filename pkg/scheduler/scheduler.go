// Package scheduler drives the video pipeline at a fixed tick rate.
//
// Each tick captures one frame and runs one pipeline pass over it. A tick
// that arrives while the previous pass is still running is skipped, never
// queued. Completed passes reach the Sink exactly once and in capture order;
// anything that completes after Stop is discarded.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/roopcam/internal/observe"
	"github.com/teslashibe/roopcam/pkg/frame"
)

var (
	ErrAlreadyRunning  = errors.New("scheduler: already running")
	ErrInvalidTickRate = errors.New("scheduler: tick rate must be positive")
	ErrNoSource        = errors.New("scheduler: nil frame source")
)

// Output is what one pass hands to the render sink.
type Output struct {
	Frame frame.Sample

	// Variant is how the frame was produced: swapped, raw or fallback.
	Variant string

	// Quality is the swap quality score, zero for raw frames.
	Quality float64

	Detail PassDetail

	// Pass is the capture-to-publish latency, filled in by the scheduler.
	Pass time.Duration
}

// PassDetail carries per-stage figures from a pass to the sinks.
type PassDetail struct {
	Faces            int
	DetectConfidence float64
	DetectLatency    time.Duration
	SwapLatency      time.Duration
}

// PassFunc runs the pipeline over one captured frame.
type PassFunc func(ctx context.Context, in frame.Sample) (Output, error)

// Sink receives published outputs. Publish is never called concurrently.
type Sink interface {
	Publish(ctx context.Context, out Output)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, out Output)

func (f SinkFunc) Publish(ctx context.Context, out Output) { f(ctx, out) }

// Stats are monotonic counters since construction.
type Stats struct {
	Ticks         int64  `json:"ticks"`
	Skipped       int64  `json:"skipped"`
	Dispatched    int64  `json:"dispatched"`
	Published     int64  `json:"published"`
	Dropped       int64  `json:"dropped"`
	CaptureErrors int64  `json:"capture_errors"`
	PassErrors    int64  `json:"pass_errors"`
	LastSeq       uint64 `json:"last_seq"`
	Running       bool   `json:"running"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickerFactory replaces the wall-clock ticker.
func WithTickerFactory(f TickerFactory) Option {
	return func(s *Scheduler) { s.newTicker = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics records tick outcomes and publications.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// run is one Start..Stop lifetime.
type run struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

// Scheduler is a fixed-rate, skip-on-busy frame driver.
type Scheduler struct {
	pass      PassFunc
	sink      Sink
	newTicker TickerFactory
	logger    *slog.Logger
	metrics   *observe.Metrics

	mu      sync.Mutex // guards current
	current *run

	busy   atomic.Bool
	seq    atomic.Uint64
	passes sync.WaitGroup

	pubMu   sync.Mutex // serializes Publish and guards lastSeq
	lastSeq uint64

	ticks         atomic.Int64
	skipped       atomic.Int64
	dispatched    atomic.Int64
	published     atomic.Int64
	dropped       atomic.Int64
	captureErrors atomic.Int64
	passErrors    atomic.Int64
}

// New creates a scheduler that runs pass on each tick and publishes to sink.
func New(pass PassFunc, sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		pass:      pass,
		sink:      sink,
		newTicker: NewRealTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Start begins ticking at tickRateHz, capturing from src. The loop runs
// until Stop or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, src frame.Source, tickRateHz int) error {
	if tickRateHz <= 0 {
		return ErrInvalidTickRate
	}
	if src == nil {
		return ErrNoSource
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.current = r

	interval := time.Second / time.Duration(tickRateHz)
	ticker := s.newTicker(interval)

	s.logger.Info("scheduler started", "tick_rate_hz", tickRateHz, "interval", interval)
	go s.loop(runCtx, r, src, ticker)
	return nil
}

// Stop halts ticking and waits for the loop to exit. A pass already in
// flight finishes but its output is discarded. A publication already inside
// the sink completes before Stop returns; none starts afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	r := s.current
	s.current = nil
	s.mu.Unlock()

	if r == nil {
		return
	}
	s.markStopped(r)
	r.cancel()
	<-r.done
	s.logger.Info("scheduler stopped",
		"ticks", s.ticks.Load(),
		"skipped", s.skipped.Load(),
		"published", s.published.Load(),
	)
}

// Wait blocks until no pass is in flight.
func (s *Scheduler) Wait() {
	s.passes.Wait()
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Busy reports whether a pass is in flight.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Stats returns the counters.
func (s *Scheduler) Stats() Stats {
	s.pubMu.Lock()
	last := s.lastSeq
	s.pubMu.Unlock()

	return Stats{
		Ticks:         s.ticks.Load(),
		Skipped:       s.skipped.Load(),
		Dispatched:    s.dispatched.Load(),
		Published:     s.published.Load(),
		Dropped:       s.dropped.Load(),
		CaptureErrors: s.captureErrors.Load(),
		PassErrors:    s.passErrors.Load(),
		LastSeq:       last,
		Running:       s.Running(),
	}
}

func (s *Scheduler) loop(ctx context.Context, r *run, src frame.Source, ticker Ticker) {
	defer close(r.done)
	defer ticker.Stop()

	// In-flight passes outlive Stop; only their output is discarded.
	passCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			s.markStopped(r)
			return
		case <-ticker.C():
			s.ticks.Add(1)
			if !s.busy.CompareAndSwap(false, true) {
				s.skipped.Add(1)
				s.metrics.RecordTick(ctx, "skipped")
				continue
			}
			s.dispatched.Add(1)
			s.metrics.RecordTick(ctx, "dispatched")
			s.passes.Add(1)
			go s.runPass(passCtx, r, src)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, r *run, src frame.Source) {
	defer s.passes.Done()
	defer s.busy.Store(false)

	sample, err := src.Capture(ctx)
	if err != nil {
		if n := s.captureErrors.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("capture failed", "error", err, "count", n)
		}
		s.metrics.RecordTick(ctx, "capture_error")
		return
	}
	sample.Seq = s.seq.Add(1)
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now()
	}

	out, err := s.pass(ctx, sample)
	if err != nil {
		s.passErrors.Add(1)
		s.logger.Debug("pass failed", "seq", sample.Seq, "error", err)
		return
	}
	if out.Frame.Seq == 0 {
		out.Frame.Seq = sample.Seq
		out.Frame.CapturedAt = sample.CapturedAt
	}
	out.Pass = time.Since(sample.CapturedAt)

	s.publish(ctx, r, out)
}

// markStopped flags r under pubMu so no publish can pass its stopped check
// and reach the sink afterwards.
func (s *Scheduler) markStopped(r *run) {
	s.pubMu.Lock()
	r.stopped.Store(true)
	s.pubMu.Unlock()
}

// publish delivers out unless the run has stopped or a newer frame has
// already been published.
func (s *Scheduler) publish(ctx context.Context, r *run, out Output) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	if r.stopped.Load() {
		s.dropped.Add(1)
		return
	}
	if out.Frame.Seq <= s.lastSeq {
		s.dropped.Add(1)
		s.logger.Debug("dropped stale frame", "seq", out.Frame.Seq, "last", s.lastSeq)
		return
	}
	s.lastSeq = out.Frame.Seq
	s.published.Add(1)
	s.metrics.RecordPublish(ctx, out.Variant, out.Pass)
	s.sink.Publish(ctx, out)
}
