package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"fieldsync/internal/logging"
)

// httpServer runs one optional local listener. A blank bind disables it and
// every method becomes a no-op.
type httpServer struct {
	name   string
	bind   string
	logger  *slog.Logger
	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func newHTTPServer(name, bind string, handler http.Handler, logger *slog.Logger) *httpServer {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil
	}
	return &httpServer{
		name:    name,
		bind:    bind,
		logger:  logger.With(logging.String("server", name)),
		handler: handler,
	}
}

func (s *httpServer) start() error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("%s listen: %w", s.name, err)
	}
	// http.Server cannot be reused after Shutdown, so each start gets a new one.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", logging.Error(err))
		}
	}()

	s.logger.Info("http server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *httpServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *httpServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
