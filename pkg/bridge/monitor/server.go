package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"oplstream/pkg/engine"
)

// Server pushes link status to websocket clients.
type Server struct {
	cfg     Config
	hub     *engine.Hub
	clients map[*client]struct{}
	mu      sync.RWMutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	paused bool
	mu     sync.RWMutex
	once   sync.Once
}

func NewServer(cfg Config, hub *engine.Hub) *Server {
	defaults := DefaultConfig()
	if cfg.WSAddr == "" {
		cfg.WSAddr = defaults.WSAddr
	}
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaults.SendBuf
	}
	return &Server{
		cfg:     cfg,
		hub:     hub,
		clients: make(map[*client]struct{}),
	}
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	httpServer := &http.Server{
		Addr:    s.cfg.WSAddr,
		Handler: mux,
	}

	sub := s.hub.Subscribe()
	go s.broadcastLoop(ctx, sub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		s.closeClients()
		return nil
	case err := <-errCh:
		s.hub.Unsubscribe(sub)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("monitor listen: %w", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	if err := conn.WriteJSON(s.hello()); err != nil {
		c.close()
		return
	}
	s.addClient(c)

	go c.writeLoop()
	c.readLoop()

	c.close()
	s.removeClient(c)
}

func (s *Server) hello() HelloMsg {
	return HelloMsg{
		Op:        OpHello,
		Name:      s.cfg.Name,
		SessionID: fmt.Sprintf("%d", time.Now().UTC().UnixNano()),
		Interval:  s.cfg.Interval.String(),
	}
}

// broadcastLoop forwards at most one snapshot per interval, always the
// newest one received.
func (s *Server) broadcastLoop(ctx context.Context, sub <-chan engine.Snapshot) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var latest engine.Snapshot
	pending := false
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub:
			if !ok {
				if pending {
					s.broadcast(latest)
				}
				return
			}
			latest = snap
			pending = true
		case <-ticker.C:
			if pending {
				s.broadcast(latest)
				pending = false
			}
		}
	}
}

func (s *Server) broadcast(snap engine.Snapshot) {
	payload, err := json.Marshal(statusFromSnapshot(snap))
	if err != nil {
		return
	}
	for _, c := range s.snapshotClients() {
		if !c.isPaused() {
			c.trySend(payload)
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func (s *Server) closeClients() {
	for _, c := range s.snapshotClients() {
		c.close()
	}
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuf),
	}
}

func (c *client) readLoop() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var header struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			continue
		}

		switch header.Op {
		case OpPause:
			c.setPaused(true)
		case OpResume:
			c.setPaused(false)
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

func (c *client) trySend(msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) setPaused(p bool) {
	c.mu.Lock()
	c.paused = p
	c.mu.Unlock()
}

func (c *client) isPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
