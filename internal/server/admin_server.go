package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/taskhive/chatcache/internal/handler"
	"go.uber.org/zap"
)

// AdminServer hosts the admin HTTP API
type AdminServer struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
}

// AdminServerConfig holds configuration for the admin server
type AdminServerConfig struct {
	Port int
}

// NewAdminServer creates a new admin server and wires the admin routes
func NewAdminServer(cfg *AdminServerConfig, adminHandler *handler.AdminHandler, logger *zap.Logger) *AdminServer {
	router := mux.NewRouter()
	adminHandler.RegisterRoutes(router)

	return &AdminServer{
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the admin server
func (s *AdminServer) Start() error {
	s.logger.Info("Starting admin server", zap.String("addr", s.httpServer.Addr))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the admin server
func (s *AdminServer) Stop() error {
	s.logger.Info("Stopping admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}

	return nil
}

// Router returns the router for testing purposes
func (s *AdminServer) Router() *mux.Router {
	return s.router
}
