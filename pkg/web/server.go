// Package web provides the local dashboard for a tutoring session: REST
// endpoints for state and timeline, intent endpoints driving the session,
// and websocket streams pushing live updates.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/linguakit/go-linguakit/pkg/hub"
	"github.com/linguakit/go-linguakit/pkg/session"
)

// Controller is the slice of the session the dashboard drives.
type Controller interface {
	StartRecording() error
	Mute() error
	Unmute() error
	Save(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Snapshot() session.Snapshot
}

// Server is the dashboard HTTP server.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	controller Controller

	stateHub  *hub.Hub
	notifyHub *hub.Hub
}

// NewServer creates the dashboard server for one session controller.
func NewServer(port string, controller Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		port:       port,
		logger:     logger.With("component", "web"),
		controller: controller,
		stateHub:   hub.New("state", logger),
		notifyHub:  hub.New("notify", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "LinguaKit Tutor",
		DisableStartupMessage: true,
	})

	// CORS for local development.
	app.Use(cors.New())

	app.Static("/", "./web")

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/timeline", s.handleTimeline)

	sess := api.Group("/session")
	sess.Post("/record", s.handleRecord)
	sess.Post("/mute", s.handleMute)
	sess.Post("/unmute", s.handleUnmute)
	sess.Post("/save", s.handleSave)
	sess.Post("/reconnect", s.handleReconnect)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))
	app.Get("/ws/notifications", websocket.New(s.handleNotifyWS))

	s.app = app
	return s
}

// Start runs the hubs and listens. Blocks.
func (s *Server) Start() error {
	go s.stateHub.Run()
	go s.notifyHub.Run()
	s.logger.Info("dashboard listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// StartAsync runs the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server error", "error", err)
		}
	}()
}

// PublishState broadcasts a session snapshot to state stream subscribers.
func (s *Server) PublishState(snap session.Snapshot) {
	if err := s.stateHub.BroadcastJSON(snap); err != nil {
		s.logger.Warn("state broadcast failed", "error", err)
	}
}

// PublishNotification broadcasts a transient notification.
func (s *Server) PublishNotification(n session.Notification) {
	if err := s.notifyHub.BroadcastJSON(n); err != nil {
		s.logger.Warn("notification broadcast failed", "error", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
