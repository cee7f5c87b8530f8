// Package webmirror serves a read-only live view of a chat: a JSON snapshot
// of the conversation log and a websocket stream of its router events.
package webmirror

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicebot/pkg/conversation"
	"github.com/go-go-golems/voicebot/pkg/events"
)

// Snapshot is the first frame sent on /ws and the body of GET /messages.
type Snapshot struct {
	Type           string                 `json:"type"`
	ConversationID string                 `json:"conversation_id"`
	Messages       []conversation.Message `json:"messages"`
}

type Server struct {
	convID   string
	messages func() []conversation.Message
	pool     *ConnectionPool
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer mirrors the conversation whose current log is returned by
// messages. addr may be empty when only Handler is used.
func NewServer(addr string, convID string, messages func() []conversation.Message) *Server {
	s := &Server{
		convID:   convID,
		messages: messages,
		pool:     NewConnectionPool(convID),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Pool() *ConnectionPool {
	return s.pool
}

func (s *Server) snapshot() ([]byte, error) {
	msgs := s.messages()
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	b, err := json.Marshal(Snapshot{Type: "snapshot", ConversationID: s.convID, Messages: msgs})
	return b, errors.Wrap(err, "failed to encode snapshot")
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.handleMessages)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	b, err := s.snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	b, err := s.snapshot()
	if err != nil {
		_ = conn.Close()
		return
	}
	if !s.pool.AddWithSnapshot(conn, b) {
		return
	}
	log.Debug().Str("remote", r.RemoteAddr).Int("clients", s.pool.Count()).Msg("mirror client connected")

	// the stream is read-only; reading only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.pool.Remove(conn)
			log.Debug().Str("remote", r.RemoteAddr).Msg("mirror client disconnected")
			return
		}
	}
}

// StepBroadcastFunc relays router events of the mirrored conversation to
// every connected client.
func (s *Server) StepBroadcastFunc() func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()
		e, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "webmirror").Msg("failed to decode event payload")
			return nil
		}
		if e.ConversationID != s.convID {
			return nil
		}
		s.pool.Broadcast(msg.Payload)
		return nil
	}
}

// Run serves until ctx is done and then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting mirror server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "mirror server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.pool.CloseAll()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mirror server shutdown error")
		return err
	}
	return <-errCh
}
