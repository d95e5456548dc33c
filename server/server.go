// Package server exposes the streaming chat adapter: a WebSocket endpoint in
// front of the orchestrator plus health and metrics routes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/opspilot/opspilot/ai/agents/orchestrator"
	"github.com/opspilot/opspilot/ai/metrics"
	"github.com/opspilot/opspilot/ai/workflow"
	"github.com/opspilot/opspilot/internal/profile"
)

// sessionIdleTimeout is how long a disconnected session stays resumable.
const sessionIdleTimeout = 30 * time.Minute

// Server hosts the HTTP surface.
type Server struct {
	echo     *echo.Echo
	profile  *profile.Profile
	orch     *orchestrator.Orchestrator
	contexts *workflow.ContextManager
	sessions *SessionManager
	exporter *metrics.PrometheusExporter
}

// New wires the routes. The orchestrator and context manager are shared with
// the AI layer; the exporter is optional.
func New(p *profile.Profile, orch *orchestrator.Orchestrator, contexts *workflow.ContextManager, exporter *metrics.PrometheusExporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		profile:  p,
		orch:     orch,
		contexts: contexts,
		sessions: NewSessionManager(),
		exporter: exporter,
	}

	e.GET("/health", s.handleHealth)
	e.GET("/ws", s.handleWebSocket)
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	return s
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)

	go s.pruneLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("server: listening", "addr", addr, "mode", s.profile.Mode)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	slog.Info("server: stopped")
	return nil
}

// pruneLoop drops idle sessions and their incident contexts.
func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, incidentID := range s.sessions.Prune(sessionIdleTimeout) {
				s.contexts.Drop(incidentID)
			}
			if s.exporter != nil {
				s.exporter.SetActiveChats(s.sessions.Count())
			}
		}
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.profile.Version,
		"mode":    s.profile.Mode,
	})
}
