// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package webmap serves a browser map that follows the shared position stream.
package webmap

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wneessen/geoflow/internal/consumer"
	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/share"
	"github.com/wneessen/geoflow/internal/vartype"
)

const (
	writeTimeout    = time.Second * 10
	shutdownTimeout = time.Second * 5
	readLimit       = 512
)

//go:embed static/index.html
var static embed.FS

// Locations is the shared position stream the map observes.
type Locations interface {
	Subscribe(ctx context.Context) *share.Subscription[location.Position]
	Latest() vartype.Variable[location.Position]
}

// Message is a single websocket frame sent to the browser.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// PositionPayload is the JSON representation of a position.
type PositionPayload struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Alt      float64   `json:"alt"`
	Accuracy float64   `json:"accuracy"`
	Source   string    `json:"source"`
	Time     time.Time `json:"time"`
}

// Server is the HTTP frontend of the map. Every websocket client runs its own consumer loop
// on the shared stream, so all browser tabs share one provider registration.
type Server struct {
	locations Locations
	logger    *logger.Logger
	router    *mux.Router
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[uuid.UUID]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// New returns a Server observing locations.
func New(locations Locations, log *logger.Logger) (*Server, error) {
	if locations == nil {
		return nil, errors.New("location stream is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	s := &Server{
		locations: locations,
		logger:    log.With(slog.String("component", "webmap")),
		clients:   make(map[uuid.UUID]context.CancelFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameOrigin,
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	router.HandleFunc("/api/position", s.handlePosition).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router = router

	return s, nil
}

// Handler returns the HTTP handler of the map.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ListenAndServe serves the map on addr until ctx is cancelled. Open websocket clients are
// disconnected before it returns.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: writeTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web map listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web map server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeClients()
	if err != nil {
		return fmt.Errorf("failed to shut down web map server: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data, err := static.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handlePosition(w http.ResponseWriter, _ *http.Request) {
	pos, ok := s.locations.Latest().Get()
	if !ok {
		http.Error(w, "no position available yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload(pos)); err != nil {
		s.logger.Error("failed to encode position", logger.Err(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logger.Err(err))
		return
	}
	conn.SetReadLimit(readLimit)

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	client := &client{id: id, conn: conn, cancel: cancel, logger: s.logger.With(slog.String("client", id.String()))}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		client.close()
		_ = conn.Close()
		return
	}
	s.clients[id] = cancel
	s.wg.Add(2)
	s.mu.Unlock()
	client.logger.Debug("websocket client connected")

	// The browser never sends anything meaningful, reading only detects the disconnect.
	go func() {
		defer s.wg.Done()
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer s.wg.Done()
		defer s.removeClient(id)
		defer func() { _ = conn.Close() }()

		loop, err := consumer.New(s.locations, client, client.logger)
		if err != nil {
			client.logger.Error("failed to create consumer loop", logger.Err(err))
			return
		}
		if err = loop.Run(ctx); err != nil {
			client.logger.Error("location stream failed", logger.Err(err))
			client.send(Message{Type: "error", Payload: err.Error()})
		}
		client.close()
	}()
}

func (s *Server) removeClient(id uuid.UUID) {
	s.mu.Lock()
	cancel, ok := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	s.logger.Debug("websocket client disconnected", slog.String("client", id.String()))
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// closeClients refuses new websocket clients, stops the connected ones and waits for them.
func (s *Server) closeClients() {
	s.mu.Lock()
	s.closed = true
	for _, cancel := range s.clients {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// client is the reaction sink of one browser tab: it moves the marker on that page.
type client struct {
	id     uuid.UUID
	conn   *websocket.Conn
	cancel context.CancelFunc
	logger *logger.Logger
}

func (c *client) Name() string {
	return "webmap"
}

func (c *client) OnDistinctPosition(pos location.Position) {
	if !c.send(Message{Type: "position", Payload: payload(pos)}) {
		c.cancel()
	}
}

// send writes msg to the browser. Only the consumer goroutine of the client writes.
func (c *client) send(msg Message) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("failed to write to websocket client", logger.Err(err))
		return false
	}
	return true
}

func (c *client) close() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func payload(pos location.Position) PositionPayload {
	return PositionPayload{
		Lat:      pos.Lat,
		Lon:      pos.Lon,
		Alt:      pos.Alt,
		Accuracy: pos.Accuracy,
		Source:   pos.Source,
		Time:     pos.Time,
	}
}

// sameOrigin accepts requests without Origin header and requests whose origin matches the
// requested host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
