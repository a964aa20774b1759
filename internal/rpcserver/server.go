package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server wraps a Handler in an http.Server bound to localhost only: this
// surface is the desktop shell's private IPC channel, never meant to be
// reachable off the machine.
//
// Grounded on internal/platform/observability.Server's Start/graceful
// shutdown shape.
type Server struct {
	handler *Handler
	port    int
	logger  *zerolog.Logger
}

// NewServer constructs a Server.
func NewServer(handler *Handler, port int, logger *zerolog.Logger) *Server {
	return &Server{handler: handler, port: port, logger: logger}
}

// Start runs the RPC endpoint until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		//nolint:errcheck,contextcheck // shutdown in signal handler is best-effort, non-inherited context intentional
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.port).Msg("rpc server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("rpc server error: %w", err)
	}

	return nil
}
