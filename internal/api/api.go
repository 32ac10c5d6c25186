// Package api provides the bot's status HTTP server.
//
// It exposes a liveness probe, a health report with the transport connection
// state, and the pairing QR code (as an HTML page and a PNG) while the device
// is not yet linked.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Default server settings.
const (
	DefaultAddr              = ":8080"
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
)

// StatusSource reports the transport state. *whatsapp.Client implements it.
type StatusSource interface {
	IsConnected() bool
	IsLoggedIn() bool
	LatestQR() string
}

// Opts holds configuration options for the status server.
type Opts struct {
	Addr  string // listen address; empty disables the server
	Token string // required ?token= for the QR routes when non-empty
}

// Option defines a function for configuring Opts.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithToken guards the QR routes with a shared token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// Server is the status HTTP server.
type Server struct {
	source StatusSource
	opts   Opts
	http   *http.Server
}

// NewServer creates a status server over source.
func NewServer(source StatusSource, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{source: source, opts: cfg}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.rootHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("GET /qr", s.requireToken(s.qrPageHandler))
	mux.HandleFunc("GET /qr.png", s.requireToken(s.qrImageHandler))
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully. It returns
// nil immediately when no address is configured.
func (s *Server) Run(ctx context.Context) error {
	if s.opts.Addr == "" {
		slog.Info("Server.Run: status server disabled")
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: status server listening", "addr", s.opts.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: graceful shutdown failed", "error", err)
		return err
	}
	slog.Info("Server.Run: status server stopped")
	return nil
}
