package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

const (
	progressBuffer = 32
	writeTimeout   = 5 * time.Second
)

// handleProgress upgrades the connection and streams every batch snapshot
// as a JSON text message. The batch in flight, if any, is sent first.
// Snapshots are dropped for clients that fall behind.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", ports.Err(err))
		return
	}

	// Clients never send; CloseRead handles control frames and cancels ctx
	// once the peer goes away.
	ctx, cancel := context.WithCancel(conn.CloseRead(context.Background()))
	defer cancel()

	s.mu.Lock()
	s.clients[conn] = cancel
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("progress client connected", ports.Int("clients", count))

	updates := make(chan domain.BatchExecution, progressBuffer)
	unsubscribe := s.engine.SubscribeToProgress(func(b domain.BatchExecution) {
		select {
		case updates <- b:
		default:
			s.logger.Warn("progress client too slow, dropping snapshot", ports.String("batch", b.ID))
		}
	})
	defer func() {
		unsubscribe()
		s.removeClient(conn)
	}()

	if current, ok := s.engine.CurrentBatch(); ok {
		if err := writeBatch(ctx, conn, current); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case b := <-updates:
			if err := writeBatch(ctx, conn, b); err != nil {
				s.logger.Debug("progress write failed", ports.Err(err))
				return
			}
		}
	}
}

func writeBatch(ctx context.Context, conn *websocket.Conn, b domain.BatchExecution) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	count := len(s.clients)
	s.mu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug("progress client disconnected", ports.Int("clients", count))
	}
}
