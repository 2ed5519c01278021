package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket wraps a websocket connection with a write lock so the receive loop
// and a background speech task can share one connection. Reads stay with the
// single owning session goroutine.
type Socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewSocket wraps an upgraded connection
func NewSocket(conn *websocket.Conn) *Socket {
	return &Socket{conn: conn}
}

// WriteJSON writes one JSON frame to the client
func (s *Socket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// ReadMessage reads the next frame from the client
func (s *Socket) ReadMessage() ([]byte, error) {
	_, payload, err := s.conn.ReadMessage()
	return payload, err
}

// CloseWithCode sends a close frame carrying code and reason, then closes the
// connection. Both steps are best-effort.
func (s *Socket) CloseWithCode(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = s.conn.Close()
}

// Close closes the underlying connection
func (s *Socket) Close() error {
	return s.conn.Close()
}
