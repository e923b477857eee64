package web

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/roopcam/pkg/session"
)

// candidateMessage is pushed on /ws/signal for each local ICE candidate.
type candidateMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id"`
	Candidate session.Candidate `json:"candidate"`
}

type offerResponse struct {
	SessionID string              `json:"session_id"`
	Offer     session.Description `json:"offer"`
}

func (s *Server) handleSessionInfo(c *fiber.Ctx) error {
	return c.JSON(s.session.Info())
}

// handleOffer starts a fresh session when none is live and returns its
// offer. Local candidates follow on /ws/signal.
func (s *Server) handleOffer(c *fiber.Ctx) error {
	ctx := context.Background()
	info := s.session.Info()
	if info.ID == "" || info.State == session.StateClosed || info.State == session.StateFailed {
		if err := s.session.Initialize(ctx); err != nil {
			return s.fail(c, err)
		}
	}
	offer, err := s.session.CreateOffer(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(offerResponse{SessionID: s.session.Info().ID, Offer: offer})
}

func (s *Server) handleAnswer(c *fiber.Ctx) error {
	var answer session.Description
	if err := c.BodyParser(&answer); err != nil || answer.SDP == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "answer requires sdp"})
	}
	if answer.Type == "" {
		answer.Type = "answer"
	}
	if err := s.session.ApplyRemoteAnswer(context.Background(), answer); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.session.Info())
}

func (s *Server) handleCandidate(c *fiber.Ctx) error {
	var cand session.Candidate
	if err := c.BodyParser(&cand); err != nil || cand.Candidate == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "candidate required"})
	}
	if err := s.session.AddRemoteCandidate(cand); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleReconnect(c *fiber.Ctx) error {
	offer, err := s.session.Reconnect(context.Background())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(offerResponse{SessionID: s.session.Info().ID, Offer: offer})
}

func (s *Server) handleSessionClose(c *fiber.Ctx) error {
	if err := s.session.Close(); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.session.Info())
}
