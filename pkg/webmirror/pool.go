package webmirror

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 5 * time.Second

// wsConn is the part of *websocket.Conn the pool writes to.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionPool holds the websocket clients watching one conversation.
// A client whose write fails is dropped.
type ConnectionPool struct {
	convID string
	mu     sync.Mutex
	conns  map[wsConn]struct{}
}

func NewConnectionPool(convID string) *ConnectionPool {
	return &ConnectionPool{
		convID: convID,
		conns:  map[wsConn]struct{}{},
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if conn == nil {
		return
	}
	cp.mu.Lock()
	cp.conns[conn] = struct{}{}
	cp.mu.Unlock()
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if conn == nil {
		return
	}
	cp.mu.Lock()
	delete(cp.conns, conn)
	cp.mu.Unlock()
	_ = conn.Close()
}

func (cp *ConnectionPool) writeLocked(conn wsConn, data []byte) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Str("component", "webmirror").Str("conv_id", cp.convID).Msg("ws write failed, dropping connection")
		delete(cp.conns, conn)
		_ = conn.Close()
		return false
	}
	return true
}

func (cp *ConnectionPool) Broadcast(data []byte) {
	if len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		cp.writeLocked(conn, data)
	}
}

// AddWithSnapshot sends data to conn and registers it under the same lock,
// so no broadcast can slip in between the snapshot and the first event.
func (cp *ConnectionPool) AddWithSnapshot(conn wsConn, data []byte) bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.conns[conn] = struct{}{}
	return cp.writeLocked(conn, data)
}

func (cp *ConnectionPool) Count() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) CloseAll() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		_ = conn.Close()
		delete(cp.conns, conn)
	}
}
