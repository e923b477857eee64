package web

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/roopcam/pkg/audio"
	"github.com/teslashibe/roopcam/pkg/frame"
	"github.com/teslashibe/roopcam/pkg/hub"
	"github.com/teslashibe/roopcam/pkg/inference"
	"github.com/teslashibe/roopcam/pkg/pipeline"
	"github.com/teslashibe/roopcam/pkg/session"
)

const healthTimeout = 3 * time.Second

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidMode),
		errors.Is(err, inference.ErrInvalidFrame),
		errors.Is(err, inference.ErrNoEmbedding):
		return fiber.StatusBadRequest
	case errors.Is(err, frame.ErrMediaAccessDenied),
		errors.Is(err, audio.ErrMediaAccessDenied):
		return fiber.StatusForbidden
	case errors.Is(err, pipeline.ErrNoIdentity):
		return fiber.StatusNotFound
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, pipeline.ErrAlreadyRunning),
		errors.Is(err, pipeline.ErrClosed):
		return fiber.StatusConflict
	case errors.Is(err, inference.ErrBusy):
		return fiber.StatusTooManyRequests
	case errors.Is(err, inference.ErrInferenceUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": s.cfg.Version,
		"running": s.pipeline.Running(),
	})
}

// handleHealth also checks the inference backend.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()
	if err := s.pipeline.Health(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	return c.JSON(s.pipeline.Snapshot())
}

func (s *Server) handleGetMode(c *fiber.Ctx) error {
	return c.JSON(s.pipeline.Mode())
}

func (s *Server) handleSetMode(c *fiber.Ctx) error {
	var patch pipeline.ModePatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid mode: " + err.Error()})
	}
	m, err := s.pipeline.UpdateMode(patch)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(m)
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.pipeline.Start(context.Background()); err != nil {
		if statusOf(err) == fiber.StatusForbidden {
			s.AddLog("error", "media access denied")
		}
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"running": true})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.pipeline.Stop(); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"running": false})
}

// handleSetIdentity accepts the image as a multipart "image" field or as
// the raw request body.
func (s *Server) handleSetIdentity(c *fiber.Ctx) error {
	img, err := upload(c, "image")
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.pipeline.SetSourceIdentity(img); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(s.pipeline.Snapshot().Identity)
}

func (s *Server) handleRetryIdentity(c *fiber.Ctx) error {
	if err := s.pipeline.RetrySourceIdentity(); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(s.pipeline.Snapshot().Identity)
}

// handleAdvancedSwap takes multipart "source" and "target" files plus
// optional quality, full_body and cloud_processing fields.
func (s *Server) handleAdvancedSwap(c *fiber.Ctx) error {
	src, err := formFile(c, "source")
	if err != nil {
		return s.fail(c, err)
	}
	dst, err := formFile(c, "target")
	if err != nil {
		return s.fail(c, err)
	}

	opts := s.pipeline.Mode().SwapOptions()
	if q := c.FormValue("quality"); q != "" {
		quality, err := inference.ParseQuality(q)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		opts.Quality = quality
	}
	if v := c.FormValue("full_body"); v != "" {
		opts.FullBody, _ = strconv.ParseBool(v)
	}
	if v := c.FormValue("cloud_processing"); v != "" {
		opts.CloudProcessing, _ = strconv.ParseBool(v)
	}

	res, err := s.pipeline.AdvancedSwap(c.UserContext(), &inference.AdvancedSwapRequest{
		Source:  src,
		Target:  dst,
		Options: opts,
	})
	if err != nil {
		return s.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, res.ContentType)
	c.Set("X-Latency-Ms", strconv.FormatInt(res.Latency.Milliseconds(), 10))
	return c.Send(res.Data)
}

// handleConvertVoice takes a multipart "audio" WAV and a "voice" field.
func (s *Server) handleConvertVoice(c *fiber.Ctx) error {
	clip, err := formFile(c, "audio")
	if err != nil {
		return s.fail(c, err)
	}
	res, err := s.pipeline.ConvertVoice(c.UserContext(), &inference.VoiceRequest{
		Audio:       clip,
		TargetVoice: c.FormValue("voice"),
	})
	if err != nil {
		return s.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "audio/wav")
	c.Set("X-Latency-Ms", strconv.FormatInt(res.Latency.Milliseconds(), 10))
	return c.Send(res.Audio)
}

func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.Logs())
}

func upload(c *fiber.Ctx, field string) ([]byte, error) {
	if data, err := formFile(c, field); err == nil {
		return data, nil
	}
	body := c.Body()
	if len(body) == 0 {
		return nil, inference.ErrInvalidFrame
	}
	return append([]byte(nil), body...), nil
}

func formFile(c *fiber.Ctx, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, errors.Join(inference.ErrInvalidFrame, err)
	}
	return readFile(fh)
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, inference.ErrInvalidFrame
	}
	return data, nil
}

func jsonMessage(v any) hub.Message {
	m, _ := hub.EncodeJSON(v)
	return m
}
