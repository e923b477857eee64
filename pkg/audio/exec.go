package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ExecSource captures raw PCM16 from an arecord subprocess.
type ExecSource struct {
	cfg    Config
	logger *slog.Logger

	// Command is the capture binary. Default: arecord.
	Command string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	streamCh chan Chunk
	done     chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewExecSource creates an arecord-backed source.
func NewExecSource(cfg Config, logger *slog.Logger) *ExecSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSource{
		cfg:      cfg,
		logger:   logger,
		Command:  "arecord",
		streamCh: make(chan Chunk, 10),
	}
}

func (s *ExecSource) args() []string {
	device := s.cfg.Device
	if device == "" {
		device = "default"
	}
	return []string{
		"-q",
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	}
}

// Start launches the capture process. A process that cannot be started
// yields ErrMediaAccessDenied.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.Command, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("audio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: %s: %v", ErrMediaAccessDenied, s.Command, err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.running = true
	s.streamCh = make(chan Chunk, 10)
	s.done = make(chan struct{})

	go s.readLoop(stdout, s.streamCh, s.done)

	s.logger.Info("audio capture started",
		"command", s.Command,
		"device", s.cfg.Device,
		"sample_rate", s.cfg.SampleRate,
	)
	return nil
}

func (s *ExecSource) readLoop(r io.Reader, out chan<- Chunk, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	channels := max(s.cfg.Channels, 1)
	buf := make([]byte, s.cfg.BufferSize()*channels*2)
	br := bufio.NewReaderSize(r, len(buf)*4)

	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("audio capture read failed", "error", err)
			}
			return
		}

		chunk := Chunk{
			Samples:    BytesToSamples(buf),
			SampleRate: s.cfg.SampleRate,
			Channels:   channels,
			CapturedAt: time.Now(),
		}
		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop terminates the capture process and waits for the reader to drain.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, cmd, done := s.cancel, s.cmd, s.done
	s.mu.Unlock()

	cancel()
	<-done
	_ = cmd.Wait()

	s.logger.Info("audio capture stopped", "chunks", s.chunksRead.Load())
	return nil
}

// Stream returns the chunk channel.
func (s *ExecSource) Stream() <-chan Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the configuration.
func (s *ExecSource) Config() Config {
	return s.cfg
}

// Name returns "exec".
func (s *ExecSource) Name() string {
	return string(BackendExec)
}

// Stats returns capture statistics.
func (s *ExecSource) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return Stats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     s.Name(),
	}
}

// Close stops capture permanently.
func (s *ExecSource) Close() error {
	err := s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}
