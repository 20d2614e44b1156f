// Package api exposes the chain session, enrichment, chat and status over
// HTTP with a websocket view stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/config"
)

// Server wraps the Echo HTTP server
type Server struct {
	echo    *echo.Echo
	handler *Handler
	config  config.ServerConfig
	logger  zerolog.Logger
}

// NewServer builds the router over a
func NewServer(a *app.App) *Server {
	cfg := a.Config.Server
	logger := a.Logger.With().Str("component", "http").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(recoverer(logger))
	e.Use(requestLogging(logger))

	h := NewHandler(a)
	h.RegisterRoutes(e)

	if !cfg.DisableMetrics {
		e.GET("/metrics", echo.WrapHandler(a.Metrics.Handler()))
	}

	return &Server{echo: e, handler: h, config: cfg, logger: logger}
}

// Start listens in the background
func (s *Server) Start() error {
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Msg("http server listening")
		if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server error")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully and ends the session
func (s *Server) Stop(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	defer s.handler.Close()

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

// Echo returns the underlying Echo instance
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// ServeHTTP lets tests drive the router directly
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

