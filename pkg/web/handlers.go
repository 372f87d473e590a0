package web

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/linguakit/go-linguakit/pkg/hub"
	"github.com/linguakit/go-linguakit/pkg/session"
)

// handleState returns the current session snapshot.
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.controller.Snapshot())
}

// handleTimeline returns the conversation timeline with attached feedback
// and progress.
func (s *Server) handleTimeline(c *fiber.Ctx) error {
	snap := s.controller.Snapshot()
	return c.JSON(fiber.Map{
		"messages": snap.Messages,
		"feedback": snap.Feedback,
		"progress": snap.Progress,
	})
}

// handleRecord starts streaming captured audio.
func (s *Server) handleRecord(c *fiber.Ctx) error {
	return s.intent(c, s.controller.StartRecording())
}

// handleMute suspends streaming without releasing the microphone.
func (s *Server) handleMute(c *fiber.Ctx) error {
	return s.intent(c, s.controller.Mute())
}

// handleUnmute resumes streaming.
func (s *Server) handleUnmute(c *fiber.Ctx) error {
	return s.intent(c, s.controller.Unmute())
}

// handleSave ends the conversation and marks it complete.
func (s *Server) handleSave(c *fiber.Ctx) error {
	return s.intent(c, s.controller.Save(c.Context()))
}

// handleReconnect retries the backend connection after a loss.
func (s *Server) handleReconnect(c *fiber.Ctx) error {
	return s.intent(c, s.controller.Reconnect(c.Context()))
}

// intent maps a session operation result to an HTTP response and pushes the
// resulting state to stream subscribers.
func (s *Server) intent(c *fiber.Ctx, err error) error {
	snap := s.controller.Snapshot()
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, session.ErrInvalidState) ||
			errors.Is(err, session.ErrNotConnected) ||
			errors.Is(err, session.ErrSessionEnded) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
			"state": snap.State,
		})
	}
	s.PublishState(snap)
	return c.JSON(fiber.Map{"state": snap.State})
}

// handleStateWS streams session snapshots.
func (s *Server) handleStateWS(c *websocket.Conn) {
	// Send the current snapshot immediately so the client does not wait
	// for the next transition.
	if data, err := json.Marshal(s.controller.Snapshot()); err == nil {
		c.WriteMessage(websocket.TextMessage, data)
	}
	client := hub.NewClient(s.stateHub, c)
	client.Run()
}

// handleNotifyWS streams transient notifications.
func (s *Server) handleNotifyWS(c *websocket.Conn) {
	client := hub.NewClient(s.notifyHub, c)
	client.Run()
}
