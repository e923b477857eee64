// Package app builds the roopcam service from its configuration and runs
// it until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/roopcam/internal/config"
	"github.com/teslashibe/roopcam/internal/observe"
	"github.com/teslashibe/roopcam/pkg/audio"
	"github.com/teslashibe/roopcam/pkg/detection"
	"github.com/teslashibe/roopcam/pkg/frame"
	"github.com/teslashibe/roopcam/pkg/inference"
	"github.com/teslashibe/roopcam/pkg/pipeline"
	"github.com/teslashibe/roopcam/pkg/session"
	"github.com/teslashibe/roopcam/pkg/signaling"
	"github.com/teslashibe/roopcam/pkg/web"
)

// Outbound track IDs attached to every session.
var defaultTracks = []session.LocalTrack{
	{ID: "roopcam-audio", Kind: session.TrackAudio},
	{ID: "roopcam-frames", Kind: session.TrackFrames},
}

// Options are command-line settings that are not part of the config file.
type Options struct {
	Version   string
	Debug     bool
	Autostart bool
	StaticDir string
}

// App owns every long-lived component.
type App struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	provider *observe.Provider
	metrics  *observe.Metrics

	inference *inference.Client
	session   *session.Manager
	pipeline  *pipeline.Orchestrator
	web       *web.Server

	channel signaling.Channel
	relay   *signaling.Relay
}

// New validates cfg and returns an uninitialized App.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if _, err := frame.ApplyPreset(frame.CameraConfig{}, cfg.Capture.Preset); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, opts: opts, logger: logger}, nil
}

// Init builds all components. Call it once before Run.
func (a *App) Init(ctx context.Context) error {
	provider, err := observe.InitProvider()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	a.provider = provider
	a.metrics = observe.DefaultMetrics()

	if err := a.initInference(); err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	a.initSession()
	if err := a.initPipeline(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	a.web = web.NewServer(web.Config{
		Addr:          a.cfg.Server.Addr,
		Version:       a.opts.Version,
		StaticDir:     a.opts.StaticDir,
		StatsInterval: a.cfg.Session.StatsInterval,
		Metrics:       a.provider.Handler(),
		Debug:         a.opts.Debug,
		Logger:        a.logger,
	}, a.pipeline, a.session)
	if err := a.pipeline.AddSink(a.web.PreviewSink()); err != nil {
		return err
	}
	a.pipeline.SetEventLogger(a.web)
	a.session.OnRemoteTrack(func(t session.RemoteTrack) {
		a.web.AddLog("session", fmt.Sprintf("remote %s track %s (%s)", t.Kind, t.ID, t.Codec))
	})

	if url := a.cfg.Signaling.URL; url != "" {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ch, err := signaling.Dial(dctx, url, nil)
		if err != nil {
			return fmt.Errorf("signaling: %w", err)
		}
		a.channel = ch
		a.relay = signaling.NewRelay(a.session, ch, a.logger)
	}
	return nil
}

func (a *App) initInference() error {
	ic := a.cfg.Inference
	remote, err := inference.NewHTTPProvider(
		inference.WithBaseURL(ic.BaseURL),
		inference.WithAPIKey(ic.APIKey),
		inference.WithTimeout(ic.Timeout),
		inference.WithLogger(a.logger),
		inference.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	providers := []inference.Provider{remote}
	if ic.LocalModel != "" {
		dc := detection.DefaultConfig()
		dc.ModelPath = ic.LocalModel
		yunet, err := detection.NewYuNet(dc, a.logger)
		if err != nil {
			return fmt.Errorf("local detector: %w", err)
		}
		providers = append(providers, inference.NewLocalDetector(yunet, "yunet"))
	}
	chain, err := inference.NewChainWithLogger(a.logger, providers...)
	if err != nil {
		return err
	}
	a.inference = inference.NewClient(chain,
		inference.WithLogger(a.logger),
		inference.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) initSession() {
	sc := a.cfg.Session
	a.session = session.NewManager(session.Config{
		ICEServers:        sc.ICEServers,
		CandidatePoolSize: uint8(sc.CandidatePoolSize),
		Strict:            sc.Strict,
		Tracks:            defaultTracks,
		Logger:            a.logger,
		Metrics:           a.metrics,
	})
}

func (a *App) initPipeline() error {
	mode, err := pipeline.ModeFromConfig(a.cfg.Pipeline)
	if err != nil {
		return err
	}
	enc, err := audio.NewOpusEncoder()
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Options{
		Video:         a.openVideo,
		Audio:         a.openAudio,
		Inference:     a.inference,
		Session:       a.session,
		Encoder:       enc,
		TickRateHz:    a.cfg.Pipeline.TickRateHz,
		StatsInterval: a.cfg.Session.StatsInterval,
		Logger:        a.logger,
		Metrics:       a.metrics,
	}, mode)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

func (a *App) openVideo(ctx context.Context) (frame.Source, error) {
	cc := a.cfg.Capture
	cam, err := frame.ApplyPreset(frame.CameraConfig{
		Device:      cc.Device,
		Width:       cc.Width,
		Height:      cc.Height,
		JPEGQuality: cc.JPEGQuality,
	}, cc.Preset)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(cam.Device, "pattern") {
		return frame.NewPatternSource(cam.Width, cam.Height, cam.JPEGQuality), nil
	}
	src, err := frame.OpenCamera(cam)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (a *App) openAudio(ctx context.Context) (audio.Source, error) {
	ac := a.cfg.Audio
	cfg := audio.DefaultConfig()
	cfg.Device = ac.Device
	cfg.SampleRate = ac.SampleRate
	cfg.BufferDuration = time.Duration(ac.ChunkMs) * time.Millisecond
	if strings.EqualFold(ac.Device, "mock") {
		cfg.Backend = audio.BackendMock
	}
	return audio.NewSource(cfg, a.logger)
}

// Run serves until ctx is done. With Autostart the pipeline starts
// immediately; with a signaling URL a session is offered right away.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.web.Run(gctx) })

	if a.relay != nil {
		if err := a.session.Initialize(gctx); err != nil {
			return fmt.Errorf("session: %w", err)
		}
		if err := a.relay.Offer(gctx); err != nil {
			return fmt.Errorf("signaling offer: %w", err)
		}
		g.Go(func() error {
			err := a.relay.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.opts.Autostart {
		if err := a.pipeline.Start(gctx); err != nil {
			a.logger.Error("autostart failed", "error", err)
			a.web.AddLog("error", "autostart failed: "+err.Error())
		}
	}

	a.logger.Info("roopcam ready",
		"addr", a.cfg.Server.Addr,
		"inference", a.cfg.Inference.BaseURL,
		"signaling", a.cfg.Signaling.URL != "",
	)
	return g.Wait()
}

// Shutdown releases devices, closes the session and flushes metrics.
func (a *App) Shutdown(ctx context.Context) {
	if a.relay != nil {
		if err := a.relay.Bye(ctx); err != nil {
			a.logger.Debug("signaling bye failed", "error", err)
		}
	}
	if a.channel != nil {
		a.channel.Close()
	}
	if a.pipeline != nil {
		if err := a.pipeline.Close(); err != nil {
			a.logger.Warn("pipeline close", "error", err)
		}
	}
	if a.session != nil {
		a.session.Close()
	}
	if a.provider != nil {
		if err := a.provider.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics shutdown", "error", err)
		}
	}
	a.logger.Info("roopcam stopped")
}
