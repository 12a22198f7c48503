package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"go.uber.org/atomic"
)

// ServerConfig configures the local API listener
type ServerConfig struct {
	ListenAddr string
	Log        *slog.Logger

	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Server is the loopback HTTP server
type Server struct {
	cfg     *ServerConfig
	log     *slog.Logger
	handler *Handler
	running atomic.Bool

	srv *http.Server
}

// NewServer refuses any listen address that is not a loopback address
func NewServer(cfg *ServerConfig, handler *Handler) (*Server, error) {
	if err := checkLoopback(cfg.ListenAddr); err != nil {
		return nil, err
	}
	if cfg.GracefulShutdownDuration == 0 {
		cfg.GracefulShutdownDuration = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	srv := &Server{
		cfg:     cfg,
		log:     cfg.Log,
		handler: handler,
	}
	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv, nil
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("listen address %q is not a loopback address", addr)
	}
	return nil
}

// Router returns the route table
func (srv *Server) Router() http.Handler {
	mux := chi.NewRouter()

	mux.With(srv.httpLogger).Get("/api/credentials", srv.handler.HandleCredentials)
	mux.With(srv.httpLogger).Get("/api/status", srv.handler.HandleStatus)
	mux.Get("/livez", srv.handleLivenessCheck)
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

// Run listens until ctx is cancelled, then shuts down gracefully
func (srv *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", srv.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.cfg.ListenAddr, err)
	}
	return srv.Serve(ctx, ln)
}

// Serve runs on an existing listener
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !srv.running.CompareAndSwap(false, true) {
		ln.Close()
		return errors.New("api server already running")
	}
	defer srv.running.Store(false)

	errCh := make(chan error, 1)
	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", ln.Addr().String())
		errCh <- srv.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	srv.Shutdown()
	<-errCh
	return nil
}

// Shutdown stops the server, waiting up to the configured grace period for open requests
func (srv *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}
}
