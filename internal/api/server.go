// Package api is the HTTP control plane: health and status introspection
// plus the whale-transaction webhook intake.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sentrycoin/internal/config"
)

// Server runs the HTTP control plane.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates the control-plane server.
func NewServer(cfg config.ServerConfig, engine EngineProvider, webhookToken string, logger *slog.Logger) *Server {
	handlers := NewHandlers(engine, webhookToken, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/status", handlers.HandleStatus)
	mux.HandleFunc("/performance", handlers.HandlePerformance)
	mux.HandleFunc("/webhook/whale-transactions", handlers.HandleWhaleWebhook)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("control plane starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping control plane")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
