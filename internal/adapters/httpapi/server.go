// Package httpapi exposes a running sync engine over a local HTTP control
// API and streams batch progress to websocket clients.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

const (
	// DefaultAddr is the loopback address the control API listens on.
	DefaultAddr = "127.0.0.1:7878"

	shutdownTimeout = 5 * time.Second
)

// Engine is the part of the sync engine the control API drives.
type Engine interface {
	EnqueueOperation(op domain.Operation) (string, error)
	Status() domain.OfflineStatus
	ConnectionQuality() domain.ConnectionQualitySnapshot
	Strategy() domain.AdaptiveStrategy
	RetryStats() domain.RetryStats
	FailedOperations(ctx context.Context) []domain.FailedOperationRecord
	Retry(ctx context.Context, id string) domain.RetryResult
	RetryAll(ctx context.Context) []domain.RetryResult
	ForceProcess(ctx context.Context) error
	EnableManualOffline()
	DisableManualOffline()
	CurrentBatch() (domain.BatchExecution, bool)
	SubscribeToProgress(fn func(domain.BatchExecution)) func()
}

// Server serves the control API.
type Server struct {
	engine Engine
	logger ports.Logger
	addr   string

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	clients  map[*websocket.Conn]context.CancelFunc
}

// NewServer creates a Server listening on addr once served. An empty addr
// uses DefaultAddr.
func NewServer(engine Engine, logger ports.Logger, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		engine:  engine,
		logger:  logger,
		addr:    addr,
		clients: make(map[*websocket.Conn]context.CancelFunc),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/operations", s.handleEnqueue)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/failed", s.handleFailed)
	mux.HandleFunc("POST /v1/failed/retry-all", s.handleRetryAll)
	mux.HandleFunc("POST /v1/failed/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /v1/process", s.handleProcess)
	mux.HandleFunc("POST /v1/offline", s.handleOffline(true))
	mux.HandleFunc("DELETE /v1/offline", s.handleOffline(false))
	mux.HandleFunc("GET /v1/progress", s.handleProgress)
	return mux
}

// ListenAndServe serves until ctx is done, then closes websocket clients and
// shuts the HTTP server down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", ports.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control API: %w", err)
	case <-ctx.Done():
	}

	s.closeClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control API shutdown: %w", err)
	}
	s.logger.Info("control API stopped")
	return nil
}

// Addr returns the listening address, or the configured one before serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected progress clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*websocket.Conn]context.CancelFunc)
	s.mu.Unlock()

	for conn, cancel := range clients {
		cancel()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
