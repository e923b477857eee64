// Package web serves the control API, the live preview and stats streams,
// and the metrics endpoint.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/roopcam/pkg/hub"
	"github.com/teslashibe/roopcam/pkg/inference"
	"github.com/teslashibe/roopcam/pkg/pipeline"
	"github.com/teslashibe/roopcam/pkg/scheduler"
	"github.com/teslashibe/roopcam/pkg/session"
)

const (
	maxLogs     = 500
	maxBodySize = 16 * 1024 * 1024
)

// Pipeline is the control surface of *pipeline.Orchestrator.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
	Snapshot() pipeline.Snapshot
	Mode() pipeline.Mode
	UpdateMode(p pipeline.ModePatch) (pipeline.Mode, error)
	SetSourceIdentity(img []byte) error
	RetrySourceIdentity() error
	AdvancedSwap(ctx context.Context, req *inference.AdvancedSwapRequest) (*inference.AdvancedSwapResult, error)
	ConvertVoice(ctx context.Context, req *inference.VoiceRequest) (*inference.VoiceResult, error)
	Health(ctx context.Context) error
}

// Session is the signaling surface of *session.Manager.
type Session interface {
	Initialize(ctx context.Context) error
	CreateOffer(ctx context.Context) (session.Description, error)
	ApplyRemoteAnswer(ctx context.Context, answer session.Description) error
	AddRemoteCandidate(c session.Candidate) error
	Reconnect(ctx context.Context) (session.Description, error)
	Close() error
	Info() session.Info
	OnICECandidate(fn func(session.Candidate))
}

// Config configures a Server.
type Config struct {
	Addr    string
	Version string

	// StaticDir serves a dashboard from disk when set.
	StaticDir string

	// StatsInterval is how often /ws/stats receives a snapshot.
	StatsInterval time.Duration

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Debug  bool
	Logger *slog.Logger
}

// LogEntry is one dashboard event.
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Server is the HTTP and websocket front end.
type Server struct {
	cfg      Config
	app      *fiber.App
	logger   *slog.Logger
	pipeline Pipeline
	session  Session

	previewHub *hub.Hub
	statsHub   *hub.Hub
	logHub     *hub.Hub
	signalHub  *hub.Hub

	logsMu sync.RWMutex
	logs   []LogEntry
}

// NewServer builds the app. sess may be nil when signaling is external.
func NewServer(cfg Config, p Pipeline, sess Session) *Server {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.With("component", "web"),
		pipeline: p,
		session:  sess,
		logs:     make([]LogEntry, 0, maxLogs),
	}

	s.previewHub = hub.New("preview", hub.WithLogger(logger), hub.WithQueueSize(2))
	s.statsHub = hub.New("stats", hub.WithLogger(logger), hub.WithOnConnect(s.snapshotGreeting))
	s.logHub = hub.New("logs", hub.WithLogger(logger), hub.WithPolicy(hub.DropClient), hub.WithOnConnect(s.logsGreeting))
	s.signalHub = hub.New("signal", hub.WithLogger(logger), hub.WithPolicy(hub.DropClient))

	if sess != nil {
		sess.OnICECandidate(func(c session.Candidate) {
			s.signalHub.BroadcastJSON(candidateMessage{Type: "candidate", SessionID: sess.Info().ID, Candidate: c})
		})
	}

	app := fiber.New(fiber.Config{
		AppName:               "roopcam",
		DisableStartupMessage: true,
		BodyLimit:             maxBodySize,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		app.Use(fiberlog.New())
	}

	app.Get("/healthz", s.handleHealthz)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/snapshot", s.handleSnapshot)
	api.Get("/mode", s.handleGetMode)
	api.Put("/mode", s.handleSetMode)
	api.Post("/start", s.handleStart)
	api.Post("/stop", s.handleStop)
	api.Post("/identity", s.handleSetIdentity)
	api.Post("/identity/retry", s.handleRetryIdentity)
	api.Post("/swap", s.handleAdvancedSwap)
	api.Post("/voice/convert", s.handleConvertVoice)
	api.Get("/logs", s.handleGetLogs)

	if sess != nil {
		sg := api.Group("/session")
		sg.Get("/", s.handleSessionInfo)
		sg.Post("/offer", s.handleOffer)
		sg.Post("/answer", s.handleAnswer)
		sg.Post("/candidate", s.handleCandidate)
		sg.Post("/reconnect", s.handleReconnect)
		sg.Post("/close", s.handleSessionClose)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/preview", websocket.New(s.serveHub(s.previewHub)))
	app.Get("/ws/stats", websocket.New(s.serveHub(s.statsHub)))
	app.Get("/ws/logs", websocket.New(s.serveHub(s.logHub)))
	app.Get("/ws/signal", websocket.New(s.serveHub(s.signalHub)))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hubs, the stats stream and the listener, and shuts all
// of them down when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.goHubs(gctx, g)
	g.Go(func() error {
		s.logger.Info("web server listening", "addr", s.cfg.Addr)
		if err := s.app.Listen(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	})
	return g.Wait()
}

// RunHubs starts only the hubs and the stats stream, for embedding the
// app in another listener or tests.
func (s *Server) RunHubs(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.goHubs(gctx, g)
	return g.Wait()
}

func (s *Server) goHubs(ctx context.Context, g *errgroup.Group) {
	for _, h := range []*hub.Hub{s.previewHub, s.statsHub, s.logHub, s.signalHub} {
		g.Go(func() error { return h.Run(ctx) })
	}
	g.Go(func() error { return s.streamStats(ctx) })
}

func (s *Server) streamStats(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.statsHub.ClientCount() == 0 {
				continue
			}
			if err := s.statsHub.BroadcastJSON(s.pipeline.Snapshot()); err != nil {
				s.logger.Warn("encode snapshot", "error", err)
			}
		}
	}
}

// PreviewSink returns a sink that broadcasts published frames as binary
// JPEG messages.
func (s *Server) PreviewSink() scheduler.Sink {
	return scheduler.SinkFunc(func(_ context.Context, out scheduler.Output) {
		if s.previewHub.ClientCount() == 0 {
			return
		}
		s.previewHub.BroadcastBinary(out.Frame.Data)
	})
}

// AddLog records a dashboard event and broadcasts it.
func (s *Server) AddLog(kind, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    kind,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.logHub.BroadcastJSON(entry)
}

// Logs returns a copy of recent events.
func (s *Server) Logs() []LogEntry {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		hub.NewClient(h, c).Run()
	}
}

func (s *Server) snapshotGreeting() []hub.Message {
	return []hub.Message{jsonMessage(s.pipeline.Snapshot())}
}

func (s *Server) logsGreeting() []hub.Message {
	logs := s.Logs()
	out := make([]hub.Message, 0, len(logs))
	for _, e := range logs {
		out = append(out, jsonMessage(e))
	}
	return out
}
