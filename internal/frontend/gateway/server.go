// Package gateway accepts WebSocket connections, decodes their frames into
// session requests and delivers session events back to them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/cory-johannsen/gambit/internal/config"
	"github.com/cory-johannsen/gambit/internal/game/session"
	"github.com/cory-johannsen/gambit/internal/observability"
	"github.com/cory-johannsen/gambit/internal/protocol"
)

// Handler consumes the requests of every connection. Requests from one
// connection are delivered serially and end with a DisconnectRequest.
type Handler interface {
	Handle(conn session.ConnID, req session.Request)
}

// Server listens for WebSocket upgrades on an HTTP port and pumps each
// connection's frames into a Handler.
type Server struct {
	cfg     config.WebSocketConfig
	hub     *Hub
	handler Handler
	logger  *zap.Logger

	listener net.Listener
	http     *http.Server
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewServer creates a WebSocket server.
//
// Precondition: cfg must have a valid path; hub, handler, and logger must be non-nil.
// Postcondition: Returns a Server ready to be started with ListenAndServe.
func NewServer(cfg config.WebSocketConfig, hub *Hub, handler Handler, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		handler: handler,
		logger:  logger,
		quit:    make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.serveWS)
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          observability.StdLogger(logger),
	}
	return s
}

// ListenAndServe starts the HTTP listener and serves connections until Stop
// is called. This method blocks until the server is stopped.
//
// Precondition: The server must not already be running.
// Postcondition: The listener is closed when this method returns.
func (s *Server) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("websocket gateway listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", s.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket gateway: %w", err)
	}
	return nil
}

// Start satisfies server.Service.
func (s *Server) Start() error {
	return s.ListenAndServe()
}

// serveWS upgrades the request and runs the connection until either side
// closes it.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		s.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	s.handleConn(ws, r.RemoteAddr)
}

// handleConn runs one upgraded connection.
func (s *Server) handleConn(ws *websocket.Conn, addr string) {
	start := time.Now()
	id := session.ConnID(uuid.NewString())
	c := newClient(id, s.cfg.OutboxSize)
	s.hub.register(c)

	s.logger.Info("client connected",
		zap.String("conn", string(id)),
		zap.String("remote_addr", addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel context when quit signal received
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, ws, c)
	}()

	err := s.readLoop(ctx, ws, id)

	s.handler.Handle(id, session.DisconnectRequest{})
	s.hub.unregister(id)
	<-writerDone

	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		s.logger.Info("client disconnected",
			zap.String("conn", string(id)),
			zap.Duration("duration", time.Since(start)),
		)
	default:
		s.logger.Debug("connection ended",
			zap.String("conn", string(id)),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	}
	ws.Close(websocket.StatusNormalClosure, "")
}

// readLoop decodes frames until the connection fails. Malformed frames are
// answered on the connection and never reach the handler.
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, id session.ConnID) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			s.hub.Send(id, session.InvalidMove{Reason: "invalid argument: binary frames are not supported"})
			continue
		}
		req, err := protocol.Decode(data)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				s.hub.Send(id, de.Reply())
			}
			s.logger.Debug("rejected frame",
				zap.String("conn", string(id)),
				zap.Error(err),
			)
			continue
		}
		s.handler.Handle(id, req)
	}
}

// writeLoop drains the client's outbox to the socket. It returns when the
// outbox is closed or a write fails; a failed write cancels the connection.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, c *client) {
	for frame := range c.Frames() {
		wctx, wcancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		err := ws.Write(wctx, websocket.MessageText, frame)
		wcancel()
		if err != nil {
			s.logger.Debug("write failed",
				zap.String("conn", string(c.id)),
				zap.Error(err),
			)
			cancel()
			// Discard frames until the hub closes the outbox.
			for range c.Frames() {
			}
			return
		}
	}
	// Outbox closed by the hub while the reader is still running, e.g. after
	// an overflow; end the connection.
	cancel()
}

// Stop gracefully stops the server, closing the listener and every open
// connection and waiting for their goroutines to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	s.wg.Wait()

	s.logger.Info("websocket gateway stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
