// Package web serves run progress and the loaded-table report over HTTP
// while a load is running.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/property-etl/internal/db"
	"github.com/property-etl/internal/etl"
	"github.com/property-etl/internal/logger"
	"github.com/property-etl/internal/web/handlers"
	"github.com/property-etl/internal/web/middleware"
)

// Server represents the status server
type Server struct {
	config     *Config
	conn       *db.Connection
	tracker    *etl.Tracker
	httpServer *http.Server
	router     *mux.Router
}

// NewServer creates a status server. conn may be nil, in which case the
// table report is not served.
func NewServer(cfg *Config, conn *db.Connection, tracker *etl.Tracker) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	server := &Server{
		config:  cfg,
		conn:    conn,
		tracker: tracker,
	}
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return server
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	progressHandler := &handlers.ProgressHandler{Tracker: s.tracker, Interval: s.config.StreamInterval}

	s.router.HandleFunc("/health", progressHandler.Health).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/progress", progressHandler.GetProgress).Methods("GET")
	api.HandleFunc("/progress/stream", progressHandler.StreamProgress).Methods("GET")

	if s.conn != nil {
		tablesHandler := &handlers.TablesHandler{Conn: s.conn}
		api.HandleFunc("/tables", tablesHandler.GetTables).Methods("GET")
	}

	s.router.Use(middleware.CORS())
	s.router.Use(middleware.RequestLogging())
	api.Use(middleware.Authentication(s.config.APIKey))
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. Request contexts derive from ctx,
// so open progress streams end when it is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "status server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down status server: %w", err)
	}
	logger.Info(ctx, "status server stopped")
	return nil
}
