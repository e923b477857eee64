package stats

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/roopcam/pkg/inference"
	"github.com/teslashibe/roopcam/pkg/scheduler"
	"github.com/teslashibe/roopcam/pkg/session"
	"github.com/teslashibe/roopcam/pkg/voice"
)

// DefaultInterval is the session sampling period.
const DefaultInterval = time.Second

// fpsWindow is how many publish timestamps the FPS estimate spans.
const fpsWindow = 30

// SessionSource is the part of session.Manager the aggregator samples.
type SessionSource interface {
	Info() session.Info
	ConnectionStats(ctx context.Context) (session.ConnectionStats, error)
}

// Config configures an Aggregator. Every source is optional.
type Config struct {
	Interval time.Duration
	Session  SessionSource

	// Scheduler and Inference are read on each session sample.
	Scheduler func() scheduler.Stats
	Inference func() map[inference.Kind]inference.CallStats

	// MaxFPS caps the FPS estimate, normally the tick rate.
	MaxFPS float64

	Logger *slog.Logger
}

// Aggregator owns the current Snapshot. Writers serialize on a mutex and
// publish a fresh copy; Snapshot is a lock-free load.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex // serializes writers
	current   atomic.Pointer[Snapshot]
	publishes []time.Time
}

// NewAggregator creates an aggregator with an empty snapshot.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		cfg:       cfg,
		logger:    logger.With("component", "stats"),
		publishes: make([]time.Time, 0, fpsWindow),
	}
	a.current.Store(&Snapshot{Session: session.Info{State: session.StateNew}})
	return a
}

// Snapshot returns the current merged view without blocking.
func (a *Aggregator) Snapshot() Snapshot {
	return *a.current.Load()
}

// update copies the current snapshot, applies fn and publishes the result.
func (a *Aggregator) update(fn func(*Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := *a.current.Load()
	fn(&next)
	next.UpdatedAt = time.Now()
	a.current.Store(&next)
}

// RecordPass replaces the pipeline figures with one completed pass.
func (a *Aggregator) RecordPass(s PassSample) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	a.update(func(snap *Snapshot) {
		p := Pipeline{
			Seq:              s.Seq,
			Variant:          s.Variant,
			LatencyMs:        ms(s.Pass),
			SwapLatencyMs:    ms(s.Swap),
			Quality:          s.Quality,
			FacesDetected:    s.Faces,
			DetectConfidence: s.DetectConfidence,
			DetectLatencyMs:  ms(s.DetectLatency),
			FramesPublished:  snap.Pipeline.FramesPublished + 1,
			FramesSwapped:    snap.Pipeline.FramesSwapped,
			FramesFallback:   snap.Pipeline.FramesFallback,
			UpdatedAt:        s.At,
		}
		switch s.Variant {
		case "swapped":
			p.FramesSwapped++
		case "fallback":
			p.FramesFallback++
		}
		p.FPS = a.fps(s.At)
		snap.Pipeline = p
	})
}

// fps records t and returns the rate over the window. Caller holds mu.
func (a *Aggregator) fps(t time.Time) float64 {
	if len(a.publishes) == fpsWindow {
		copy(a.publishes, a.publishes[1:])
		a.publishes = a.publishes[:fpsWindow-1]
	}
	a.publishes = append(a.publishes, t)
	if len(a.publishes) < 2 {
		return 0
	}
	span := a.publishes[len(a.publishes)-1].Sub(a.publishes[0])
	if span <= 0 {
		return a.cfg.MaxFPS
	}
	fps := float64(len(a.publishes)-1) / span.Seconds()
	if a.cfg.MaxFPS > 0 && fps > a.cfg.MaxFPS {
		fps = a.cfg.MaxFPS
	}
	return fps
}

// RecordAudio replaces the audio analysis.
func (a *Aggregator) RecordAudio(r voice.Result) {
	a.update(func(snap *Snapshot) {
		snap.Audio = &r
	})
}

// RecordSessionState updates the session state immediately, without
// waiting for the next sample.
func (a *Aggregator) RecordSessionState(info session.Info) {
	a.update(func(snap *Snapshot) {
		snap.Session = info
	})
}

// ResetPipeline clears pass figures and the FPS window. Counters persist.
func (a *Aggregator) ResetPipeline() {
	a.update(func(snap *Snapshot) {
		a.publishes = a.publishes[:0]
		snap.Pipeline = Pipeline{
			FramesPublished: snap.Pipeline.FramesPublished,
			FramesSwapped:   snap.Pipeline.FramesSwapped,
			FramesFallback:  snap.Pipeline.FramesFallback,
		}
	})
}

// Sample reads the session, scheduler and inference sources once.
func (a *Aggregator) Sample(ctx context.Context) {
	var (
		info    session.Info
		conn    session.ConnectionStats
		connErr error
		haveSes = a.cfg.Session != nil
	)
	if haveSes {
		info = a.cfg.Session.Info()
		conn, connErr = a.cfg.Session.ConnectionStats(ctx)
		if connErr != nil && !errors.Is(connErr, session.ErrInvalidState) {
			a.logger.Debug("connection stats unavailable", "error", connErr)
		}
	}

	var sched scheduler.Stats
	if a.cfg.Scheduler != nil {
		sched = a.cfg.Scheduler()
	}
	var calls map[inference.Kind]inference.CallStats
	if a.cfg.Inference != nil {
		calls = maps.Clone(a.cfg.Inference())
	}

	a.update(func(snap *Snapshot) {
		if haveSes {
			// A state change recorded while stats were being read is newer
			// than info.
			if !snap.Session.Since.After(info.Since) {
				snap.Session = info
			}
			if connErr == nil {
				snap.Connection = conn
			} else {
				snap.Connection = session.ConnectionStats{SampledAt: time.Now()}
			}
		}
		if a.cfg.Scheduler != nil {
			snap.Scheduler = sched
		}
		if a.cfg.Inference != nil {
			snap.Inference = calls
		}
	})
}

// Run samples every Interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Sample(ctx)
		}
	}
}
