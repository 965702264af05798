// Package web serves a live WebSocket feed of decoded frames plus a
// small JSON status API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"wpan-sniffer/internal/capture"
	"wpan-sniffer/internal/mac"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// Server exposes the frame feed. It is also a pipeline sink: every
// consumed record is counted and broadcast to connected clients.
type Server struct {
	hub            *Hub
	logger         *slog.Logger
	mux            *http.ServeMux
	httpSrv        *http.Server
	allowedOrigins []string
	wg             sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// Stats summarizes what the server has seen since start.
type Stats struct {
	Frames    uint64            `json:"frames"`
	FCSErrors uint64            `json:"fcs_errors"`
	ByType    map[string]uint64 `json:"by_type"`
}

// NewServer creates the feed server and starts its hub.
func NewServer(logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		hub:    NewHub(logger.With("component", "web")),
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
		stats:  Stats{ByType: make(map[string]uint64)},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/api/stats", s.handleStats)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()
	return s
}

// Consume implements capture.Sink.
func (s *Server) Consume(rec *capture.Record) error {
	s.mu.Lock()
	s.stats.Frames++
	s.stats.ByType[rec.Result.Frame.Type.String()]++
	if rec.Result.FCS.Status == mac.FCSBad {
		s.stats.FCSErrors++
	}
	s.mu.Unlock()

	s.hub.Broadcast(rec)
	return nil
}

// Start serves HTTP on addr until Stop is called.
func (s *Server) Start(addr string) {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.mux}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("web server listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server", "err", err)
		}
	}()
}

// Stop shuts down the HTTP server and the hub.
func (s *Server) Stop() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.httpSrv.Shutdown(ctx)
		cancel()
	}
	s.hub.Stop()
	s.wg.Wait()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := Stats{
		Frames:    s.stats.Frames,
		FCSErrors: s.stats.FCSErrors,
		ByType:    make(map[string]uint64, len(s.stats.ByType)),
	}
	for k, v := range s.stats.ByType {
		out.ByType[k] = v
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	conn.SetReadLimit(4096)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	// Channel closed by hub; close connection.
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.hub.unregister <- client:
		case <-s.hub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.hub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Clients only listen; drain until they hang up.
	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
