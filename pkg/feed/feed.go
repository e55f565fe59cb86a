// Package feed serves a read-only view of a running conversation over HTTP.
//
// Clients connect to /ws and receive a Frame with the full transcript after
// every change. A slow client only sees the latest snapshot; intermediate
// frames are dropped. /turns returns the current transcript once and
// /images/{name} serves archived images when an ImageStore is configured.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/gizchat/pkg/chat"
	"github.com/haivivi/gizchat/pkg/gallery"
)

const writeTimeout = 5 * time.Second

// Source is the conversation being observed. *chat.Engine implements it.
type Source interface {
	Turns() []chat.Turn
	Watch(fn func([]chat.Turn)) (cancel func())
}

// ImageStore resolves archived image names. *gallery.Gallery implements it.
type ImageStore interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// Frame is one message on the WebSocket.
type Frame struct {
	Seq   uint64      `json:"seq"`
	Turns []chat.Turn `json:"turns"`
}

// Server broadcasts transcript snapshots to WebSocket clients.
type Server struct {
	src    Source
	images ImageStore

	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu      sync.Mutex
	seq     uint64
	last    []byte
	clients map[*client]struct{}
	closed  bool
	cancel  func()
}

// New creates a Server watching src. images may be nil.
func New(src Source, images ImageStore) *Server {
	s := &Server{
		src:     src,
		images:  images,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.last = s.encode(src.Turns())
	s.cancel = src.Watch(s.broadcast)

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /turns", s.handleTurns)
	s.mux.HandleFunc("GET /images/{name...}", s.handleImage)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops watching the source and disconnects all clients.
func (s *Server) Close() error {
	s.cancel()
	s.mu.Lock()
	s.closed = true
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()
	for c := range clients {
		c.close()
	}
	return nil
}

// encode must be called with s.mu held or before the server is shared.
func (s *Server) encode(turns []chat.Turn) []byte {
	s.seq++
	if turns == nil {
		turns = []chat.Turn{}
	}
	data, err := json.Marshal(Frame{Seq: s.seq, Turns: turns})
	if err != nil {
		slog.Error("feed: encode frame", "error", err)
		return nil
	}
	return data
}

func (s *Server) broadcast(turns []chat.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.encode(turns)
	if data == nil {
		return
	}
	s.last = data
	for c := range s.clients {
		c.offer(data)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("feed: upgrade", "error", err)
		return
	}
	c := &client{
		ws:      ws,
		pending: make(chan []byte, 1),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.clients[c] = struct{}{}
	c.offer(s.last)
	s.mu.Unlock()

	slog.Debug("feed: client connected", "remote", r.RemoteAddr)
	go c.writeLoop()
	c.readLoop()

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	slog.Debug("feed: client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	turns := s.src.Turns()
	if turns == nil {
		turns = []chat.Turn{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(turns); err != nil {
		slog.Debug("feed: write turns", "error", err)
	}
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		http.NotFound(w, r)
		return
	}
	name := r.PathValue("name")
	data, err := s.images.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, gallery.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		slog.Warn("feed: get image", "name", name, "error", err)
		http.Error(w, "image unavailable", http.StatusBadGateway)
		return
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Write(data)
}

// client is one WebSocket connection. pending holds at most the newest
// undelivered frame.
type client struct {
	ws      *websocket.Conn
	pending chan []byte
	done    chan struct{}
	once    sync.Once
}

func (c *client) offer(data []byte) {
	for {
		select {
		case c.pending <- data:
			return
		default:
		}
		select {
		case <-c.pending:
		default:
		}
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.pending:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("feed: write", "error", err)
				c.close()
				return
			}
		}
	}
}

// readLoop discards client messages until the connection fails.
func (c *client) readLoop() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
