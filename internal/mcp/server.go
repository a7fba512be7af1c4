// File: internal/mcp/server.go

// Package mcp exposes the browser session as a Model Context Protocol
// server, over stdio or HTTP/SSE depending on configuration.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/shadowfox-mcp/internal/browser"
	"github.com/xkilldash9x/shadowfox-mcp/internal/config"
	"github.com/xkilldash9x/shadowfox-mcp/internal/observability"
)

const (
	// ServerName identifies this implementation to MCP clients.
	ServerName = "shadowfox"
	// Version is reported by get_server_version and the initialize handshake.
	Version = "1.2.0"
)

// Server hosts the MCP tool surface around a single browser session.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	session *browser.Session
}

// NewServer wires the tool surface to the given session.
func NewServer(cfg *config.Config, session *browser.Session, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger.Named("mcp"),
		session: session,
	}
}

// newToolServer builds a fresh SDK server with all tools registered. SSE
// serves one per client connection; stdio uses a single instance.
func (s *Server) newToolServer() *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: Version,
	}, nil)
	s.registerTools(srv)
	return srv
}

// Run serves MCP until the context is cancelled or a shutdown signal
// arrives. Port 0 selects the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	defer observability.Sync()

	if s.cfg.Server.Port == 0 {
		return s.runStdio(ctx)
	}
	return s.runHTTP(ctx)
}

// runStdio speaks JSON-RPC over stdin/stdout. The browser is torn down when
// the client disconnects.
func (s *Server) runStdio(ctx context.Context) error {
	s.logger.Info("Serving MCP over stdio", zap.String("version", Version))

	err := s.newToolServer().Run(ctx, mcpsdk.NewStdioTransport())

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cerr := s.session.Close(closeCtx); cerr != nil {
		s.logger.Error("Browser close on shutdown failed", zap.Error(cerr))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio transport failed: %w", err)
	}
	return nil
}

// runHTTP serves MCP over SSE plus a health endpoint, with graceful
// shutdown on SIGINT/SIGTERM.
func (s *Server) runHTTP(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	sseHandler := mcpsdk.NewSSEHandler(func(r *http.Request) *mcpsdk.Server {
		return s.newToolServer()
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","state":%q}`, s.session.State())
	})
	r.Mount("/", sseHandler)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	s.logger.Info("Serving MCP over HTTP/SSE",
		zap.String("address", addr),
		zap.String("version", Version),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server ListenAndServe error", zap.Error(err))
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigint)

		select {
		case <-sigint:
			s.logger.Info("Received shutdown signal, shutting down gracefully...")
		case <-gctx.Done():
			s.logger.Info("Context cancelled, shutting down gracefully...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := s.session.Close(shutdownCtx); err != nil {
			s.logger.Error("Browser close on shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
