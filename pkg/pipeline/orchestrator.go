// Package pipeline wires capture, inference, voice analysis, the session
// and the stats aggregator into one controllable media pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/teslashibe/roopcam/internal/observe"
	"github.com/teslashibe/roopcam/pkg/audio"
	"github.com/teslashibe/roopcam/pkg/frame"
	"github.com/teslashibe/roopcam/pkg/inference"
	"github.com/teslashibe/roopcam/pkg/scheduler"
	"github.com/teslashibe/roopcam/pkg/session"
	"github.com/teslashibe/roopcam/pkg/stats"
	"github.com/teslashibe/roopcam/pkg/voice"
)

// DefaultTickRate is the frame tick rate when none is configured.
const DefaultTickRate = 30

// Session write failures repeat every tick while a peer is unhealthy, so
// they are logged at most once per interval.
const writeWarnInterval = 10 * time.Second

// VideoOpener opens the camera. It is called on every Start.
type VideoOpener func(ctx context.Context) (frame.Source, error)

// AudioOpener opens the microphone. It is called whenever voice processing
// starts.
type AudioOpener func(ctx context.Context) (audio.Source, error)

// Encoder packetizes captured audio for the outbound track.
type Encoder interface {
	Encode(c audio.Chunk) ([][]byte, error)
}

// Session is the part of session.Manager the pipeline drives.
type Session interface {
	stats.SessionSource
	Write(k session.TrackKind, data []byte, duration time.Duration) error
	OnStateChange(fn func(from, to session.State))
}

// EventLogger receives human-readable pipeline events for the dashboard.
type EventLogger interface {
	AddLog(kind, message string)
}

// Options wires an Orchestrator. Video and Inference are required.
type Options struct {
	Video     VideoOpener
	Audio     AudioOpener
	Inference inference.Provider
	Session   Session
	Encoder   Encoder

	// Sinks receive every published frame after the session track.
	Sinks []scheduler.Sink

	Events EventLogger

	TickRateHz    int
	StatsInterval time.Duration

	// TickerFactory replaces the wall-clock ticker in tests.
	TickerFactory scheduler.TickerFactory

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Orchestrator runs the video and audio loops under one Mode.
type Orchestrator struct {
	opts    Options
	logger  *slog.Logger
	client  *inference.Client
	sched   *scheduler.Scheduler
	stats   *stats.Aggregator
	voice   *voice.Processor
	ident   *identity
	mode    atomic.Pointer[Mode]
	started atomic.Bool
	events  atomic.Pointer[EventLogger]

	// sinks change only while stopped.
	sinks []scheduler.Sink

	// ctx outlives Start/Stop. It bounds identity extraction and the
	// stats sampler running in bg.
	ctx    context.Context
	cancel context.CancelFunc
	bg     *errgroup.Group

	mu     sync.Mutex // serializes Start, Stop, mode changes and Close
	run    *runState
	closed bool

	encMu sync.Mutex // Encoder is not safe for concurrent use

	frameWarn, audioWarn         rate.Sometimes
	frameFailures, audioFailures atomic.Int64
}

type runState struct {
	cancel context.CancelFunc
	video  frame.Source
	audio  *audioRun
}

type audioRun struct {
	src    audio.Source
	cancel context.CancelFunc
	done   chan error
}

// New creates an Orchestrator in the stopped state.
func New(opts Options, mode Mode) (*Orchestrator, error) {
	if opts.Video == nil {
		return nil, ErrNoVideo
	}
	if opts.Inference == nil {
		return nil, errors.New("pipeline: inference provider is required")
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if opts.TickRateHz <= 0 {
		opts.TickRateHz = DefaultTickRate
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		opts:      opts,
		logger:    logger.With("component", "pipeline"),
		frameWarn: rate.Sometimes{First: 1, Interval: writeWarnInterval},
		audioWarn: rate.Sometimes{First: 1, Interval: writeWarnInterval},
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.mode.Store(&mode)
	o.sinks = append(o.sinks, opts.Sinks...)
	if opts.Events != nil {
		o.SetEventLogger(opts.Events)
	}

	if c, ok := opts.Inference.(*inference.Client); ok {
		o.client = c
	} else {
		o.client = inference.NewClient(opts.Inference,
			inference.WithLogger(logger),
			inference.WithMetrics(opts.Metrics),
		)
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(opts.Metrics),
	}
	if opts.TickerFactory != nil {
		schedOpts = append(schedOpts, scheduler.WithTickerFactory(opts.TickerFactory))
	}
	o.sched = scheduler.New(o.pass, scheduler.SinkFunc(o.publish), schedOpts...)

	var sess stats.SessionSource
	if opts.Session != nil {
		sess = opts.Session
	}
	o.stats = stats.NewAggregator(stats.Config{
		Interval:  opts.StatsInterval,
		Session:   sess,
		Scheduler: o.sched.Stats,
		Inference: o.client.Stats,
		MaxFPS:    float64(opts.TickRateHz),
		Logger:    logger,
	})
	if opts.Session != nil {
		opts.Session.OnStateChange(func(from, to session.State) {
			o.stats.RecordSessionState(opts.Session.Info())
			o.event("session", fmt.Sprintf("%s -> %s", from, to))
		})
	}

	o.voice = voice.NewProcessor(voice.ProcessorConfig{
		Mode: func() (bool, voice.Profile) {
			m := o.mode.Load()
			return m.Voice, m.VoiceProfile
		},
		Metrics:  opts.Metrics,
		Logger:   logger,
		OnResult: o.stats.RecordAudio,
		Forward:  o.forwardAudio,
	})
	o.ident = newIdentity(o.client.ExtractEmbedding, o.logger)

	var bgCtx context.Context
	o.bg, bgCtx = errgroup.WithContext(o.ctx)
	o.bg.Go(func() error { return o.stats.Run(bgCtx) })

	return o, nil
}

// AddSink appends a render sink. Sinks can only be added while stopped.
func (o *Orchestrator) AddSink(s scheduler.Sink) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run != nil {
		return ErrAlreadyRunning
	}
	o.sinks = append(o.sinks, s)
	return nil
}

// SetEventLogger sets where pipeline events are reported.
func (o *Orchestrator) SetEventLogger(l EventLogger) {
	o.events.Store(&l)
}

// Start opens the camera and begins ticking. When voice mode is on the
// microphone is opened too. A denied device fails Start with the source's
// ErrMediaAccessDenied and leaves the pipeline stopped.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.run != nil {
		return ErrAlreadyRunning
	}

	video, err := o.opts.Video(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: open video: %w", err)
	}

	runCtx, cancel := context.WithCancel(o.ctx)
	r := &runState{cancel: cancel, video: video}

	if o.mode.Load().Voice {
		ar, err := o.startAudio(runCtx)
		if err != nil {
			cancel()
			video.Close()
			return err
		}
		r.audio = ar
	}

	if err := o.sched.Start(runCtx, video, o.opts.TickRateHz); err != nil {
		o.stopAudio(r)
		cancel()
		video.Close()
		return err
	}

	o.run = r
	o.started.Store(true)
	o.logger.Info("pipeline started", "tick_rate_hz", o.opts.TickRateHz, "voice", r.audio != nil)
	o.event("pipeline", "started")
	return nil
}

// Stop halts both loops and releases the devices. A pass in flight
// completes but is not published. Stop on a stopped pipeline is a no-op.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopLocked()
}

func (o *Orchestrator) stopLocked() error {
	r := o.run
	if r == nil {
		return nil
	}
	o.run = nil
	o.started.Store(false)

	o.sched.Stop()
	o.stopAudio(r)
	r.cancel()
	var err error
	if cerr := r.video.Close(); cerr != nil {
		err = fmt.Errorf("pipeline: close video: %w", cerr)
	}
	o.stats.ResetPipeline()

	o.logger.Info("pipeline stopped")
	o.event("pipeline", "stopped")
	return err
}

// Running reports whether the pipeline is started.
func (o *Orchestrator) Running() bool {
	return o.started.Load()
}

// Mode returns the current mode.
func (o *Orchestrator) Mode() Mode {
	return *o.mode.Load()
}

// SetMode replaces the mode. Frame passes see it from their next tick.
// Toggling voice while running opens or closes the microphone; if the
// microphone cannot be opened the voice flag stays off and the error is
// returned.
func (o *Orchestrator) SetMode(m Mode) error {
	if err := m.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.setModeLocked(m)
}

// UpdateMode applies a partial change on top of the current mode. The read
// and the swap happen under one lock so concurrent patches to different
// fields are all kept.
func (o *Orchestrator) UpdateMode(p ModePatch) (Mode, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	m := p.Apply(*o.mode.Load())
	if err := m.Validate(); err != nil {
		return *o.mode.Load(), err
	}
	if err := o.setModeLocked(m); err != nil {
		return *o.mode.Load(), err
	}
	return m, nil
}

// setModeLocked swaps in a validated mode. o.mu must be held.
func (o *Orchestrator) setModeLocked(m Mode) error {
	if o.closed {
		return ErrClosed
	}

	prev := o.mode.Swap(&m)
	o.logger.Info("mode changed",
		"real_time", m.RealTime,
		"voice", m.Voice,
		"profile", m.VoiceProfile,
		"quality", m.Quality,
		"full_body", m.FullBody,
	)

	r := o.run
	if r == nil || prev.Voice == m.Voice {
		return nil
	}
	if !m.Voice {
		o.stopAudio(r)
		return nil
	}

	runCtx, cancel := context.WithCancel(o.ctx)
	ar, err := o.startAudio(runCtx)
	if err != nil {
		cancel()
		off := m
		off.Voice = false
		o.mode.Store(&off)
		return err
	}
	prevCancel := r.cancel
	r.cancel = func() { cancel(); prevCancel() }
	r.audio = ar
	return nil
}

func (o *Orchestrator) startAudio(ctx context.Context) (*audioRun, error) {
	if o.opts.Audio == nil {
		return nil, ErrNoAudio
	}
	src, err := o.opts.Audio(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open audio: %w", err)
	}
	if err := src.Start(ctx); err != nil {
		src.Close()
		return nil, fmt.Errorf("pipeline: start audio: %w", err)
	}

	actx, cancel := context.WithCancel(ctx)
	ar := &audioRun{src: src, cancel: cancel, done: make(chan error, 1)}
	go func() { ar.done <- o.voice.Run(actx, src.Stream()) }()

	o.logger.Info("voice processing started", "backend", src.Name())
	o.event("voice", "started")
	return ar, nil
}

func (o *Orchestrator) stopAudio(r *runState) {
	ar := r.audio
	if ar == nil {
		return
	}
	r.audio = nil

	ar.cancel()
	ar.src.Stop()
	if err := <-ar.done; err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("voice processor exited", "error", err)
	}
	ar.src.Close()
	o.event("voice", "stopped")
}

// SetSourceIdentity submits a new source face image. Extraction runs in
// the background; until it resolves the previous embedding keeps being
// used. A failed extraction disables swapping until the next call or
// RetrySourceIdentity.
func (o *Orchestrator) SetSourceIdentity(img []byte) error {
	if len(img) == 0 {
		return inference.ErrInvalidFrame
	}
	if o.ctx.Err() != nil {
		return ErrClosed
	}
	o.ident.Set(o.ctx, append([]byte(nil), img...))
	o.event("identity", "extraction started")
	return nil
}

// RetrySourceIdentity resubmits the last source image.
func (o *Orchestrator) RetrySourceIdentity() error {
	img := o.ident.Last()
	if img == nil {
		return ErrNoIdentity
	}
	return o.SetSourceIdentity(img)
}

// Identity reports the source identity state.
func (o *Orchestrator) Identity() IdentityStatus {
	return o.ident.Status()
}

// AdvancedSwap runs an offline, full-fidelity swap.
func (o *Orchestrator) AdvancedSwap(ctx context.Context, req *inference.AdvancedSwapRequest) (*inference.AdvancedSwapResult, error) {
	return o.client.AdvancedSwap(ctx, req)
}

// ConvertVoice runs an offline voice conversion.
func (o *Orchestrator) ConvertVoice(ctx context.Context, req *inference.VoiceRequest) (*inference.VoiceResult, error) {
	return o.client.ConvertVoice(ctx, req)
}

// Health checks the inference backend.
func (o *Orchestrator) Health(ctx context.Context) error {
	return o.client.Health(ctx)
}

// Stats returns the aggregated snapshot.
func (o *Orchestrator) Stats() stats.Snapshot {
	return o.stats.Snapshot()
}

// Snapshot is the full pipeline view served to the dashboard.
type Snapshot struct {
	stats.Snapshot
	Mode     Mode           `json:"mode"`
	Identity IdentityStatus `json:"identity"`
	Running  bool           `json:"running"`
}

// Snapshot returns the current state without blocking on the loops.
func (o *Orchestrator) Snapshot() Snapshot {
	return Snapshot{
		Snapshot: o.stats.Snapshot(),
		Mode:     o.Mode(),
		Identity: o.ident.Status(),
		Running:  o.Running(),
	}
}

// Close stops the pipeline, waits for background work and closes the
// inference provider.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	err := o.stopLocked()
	o.mu.Unlock()

	o.cancel()
	o.sched.Wait()
	o.ident.Wait()
	if berr := o.bg.Wait(); berr != nil && err == nil {
		err = berr
	}
	if cerr := o.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// pass is one tick of the video pipeline. Detection failures count as no
// faces; a failed swap publishes the raw frame as a fallback.
func (o *Orchestrator) pass(ctx context.Context, in frame.Sample) (scheduler.Output, error) {
	m := o.mode.Load()
	out := scheduler.Output{Frame: in, Variant: VariantRaw}
	if !m.RealTime {
		return out, nil
	}

	det, err := o.client.Detect(ctx, in)
	if err != nil {
		if !errors.Is(err, inference.ErrBusy) {
			o.logger.Debug("detect failed", "seq", in.Seq, "error", err)
		}
		return out, nil
	}
	out.Detail.Faces = det.Count()
	out.Detail.DetectConfidence = det.MeanConfidence()
	out.Detail.DetectLatency = det.Latency
	if out.Detail.Faces == 0 {
		return out, nil
	}

	emb := o.ident.Current()
	if emb.Empty() {
		return out, nil
	}

	start := time.Now()
	res, err := o.client.Swap(ctx, in, emb, m.SwapOptions())
	out.Detail.SwapLatency = time.Since(start)
	if err != nil {
		o.logger.Debug("swap failed, publishing raw frame", "seq", in.Seq, "error", err)
		out.Variant = VariantFallback
		return out, nil
	}
	if res.Latency > 0 {
		out.Detail.SwapLatency = res.Latency
	}
	out.Frame = in.WithData(res.Frame.Data)
	out.Variant = VariantSwapped
	out.Quality = res.Quality
	return out, nil
}

// publish renders a completed pass. The scheduler never calls it
// concurrently.
func (o *Orchestrator) publish(ctx context.Context, out scheduler.Output) {
	o.stats.RecordPass(stats.PassSample{
		Seq:              out.Frame.Seq,
		Variant:          out.Variant,
		Pass:             out.Pass,
		Swap:             out.Detail.SwapLatency,
		Quality:          out.Quality,
		Faces:            out.Detail.Faces,
		DetectConfidence: out.Detail.DetectConfidence,
		DetectLatency:    out.Detail.DetectLatency,
	})

	if o.opts.Session != nil {
		if err := o.opts.Session.Write(session.TrackFrames, out.Frame.Data, 0); err != nil {
			n := o.frameFailures.Add(1)
			o.frameWarn.Do(func() {
				o.logger.Warn("frame write failed", "seq", out.Frame.Seq, "failures", n, "error", err)
			})
		}
	}
	for _, s := range o.sinks {
		s.Publish(ctx, out)
	}
}

// forwardAudio sends captured audio to the session's audio track.
func (o *Orchestrator) forwardAudio(c audio.Chunk) {
	if o.opts.Session == nil || o.opts.Encoder == nil {
		return
	}
	o.encMu.Lock()
	packets, err := o.opts.Encoder.Encode(c)
	o.encMu.Unlock()
	if err != nil {
		o.logger.Debug("audio encode failed", "error", err)
	}
	for _, p := range packets {
		if err := o.opts.Session.Write(session.TrackAudio, p, audio.OpusFrameDuration); err != nil {
			n := o.audioFailures.Add(1)
			o.audioWarn.Do(func() {
				o.logger.Warn("audio write failed", "failures", n, "error", err)
			})
			return
		}
	}
}

func (o *Orchestrator) event(kind, msg string) {
	if l := o.events.Load(); l != nil && *l != nil {
		(*l).AddLog(kind, msg)
	}
}
