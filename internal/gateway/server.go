// Package gateway is the HTTP + WebSocket front of the relay: message
// submission and the live event stream for browser and API clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/relay/internal/channel"
	"github.com/soyeahso/relay/internal/config"
	"github.com/soyeahso/relay/internal/conversation"
	"github.com/soyeahso/relay/internal/logging"
	"github.com/soyeahso/relay/internal/stream"
)

// Dispatcher starts a run for a user message. Implemented by the
// router.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID, text string) error
}

// Server serves the relay HTTP API and the websocket event stream.
type Server struct {
	cfg           config.ServerConfig
	agentID       string
	dispatcher    Dispatcher
	conversations *conversation.Manager
	mux           *stream.Mux
	channels      *channel.Registry
	log           *logging.Logger

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader

	// baseCtx outlives individual requests; dispatched runs are bound
	// to it, not to the triggering POST.
	baseCtx context.Context
}

// New creates a gateway server.
func New(cfg config.ServerConfig, agentID string, dispatcher Dispatcher, conversations *conversation.Manager, mux *stream.Mux, channels *channel.Registry, log *logging.Logger) *Server {
	return &Server{
		cfg:           cfg,
		agentID:       agentID,
		dispatcher:    dispatcher,
		conversations: conversations,
		mux:           mux,
		channels:      channels,
		log:           log.Sub("gateway"),
		baseCtx:       context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin or non-browser clients
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Handler builds the full HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return withMiddleware(mux, s.cfg.AuthToken, s.log)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket streams stay open indefinitely
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("agent", s.agentID).
		Msg("gateway server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}
