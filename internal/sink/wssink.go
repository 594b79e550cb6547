package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shortontech/gotriage/internal/alert"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsClientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient owns one connection. Only its writer goroutine writes data frames.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// WSSink pushes every alert to connected websocket clients. It doubles as
// the HTTP handler clients connect to. Enqueue never waits on a client: each
// client has a bounded queue and alerts for a full queue are dropped.
type WSSink struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
	logger  *zap.Logger
}

func NewWSSink(logger *zap.Logger) *WSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSSink{clients: make(map[*wsClient]struct{}), logger: logger}
}

func (s *WSSink) Name() string { return "ws" }

func (s *WSSink) Start(ctx context.Context) error { return nil }

// ServeHTTP upgrades the connection and keeps it registered until the
// client goes away. Client messages are read and discarded.
func (s *WSSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, wsClientBuffer),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))

	go s.writeLoop(c)

	defer s.remove(c)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WSSink) writeLoop(c *wsClient) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("dropping websocket client", zap.Error(err))
				s.remove(c)
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (s *WSSink) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Enqueue queues the alert for every connected client.
func (s *WSSink) Enqueue(a alert.Alert) error {
	msg, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to serialize alert: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.logger.Warn("dropped alert for slow websocket client", zap.String("alert_id", a.AlertID))
		}
	}
	return nil
}

func (s *WSSink) remove(c *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		c.stop()
		c.conn.Close()
	}
}

func (s *WSSink) Close() error {
	s.mu.Lock()
	s.closed = true
	clients := s.clients
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()

	for c := range clients {
		c.stop()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
	return nil
}
