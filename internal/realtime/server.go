package realtime

import (
	"context"
	"net/http"
	"slices"
	"sync/atomic"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Authenticator resolves the identity behind an upgrade request. No token means anonymous.
type Authenticator interface {
	FromRequest(r *http.Request) (identity.Identity, error)
}

// JoinChecker decides whether an identity may join a topic.
type JoinChecker interface {
	CanJoin(ctx context.Context, who identity.Identity, topic Topic) error
}

// Options tunes the live transport.
type Options struct {
	MaxConnections int
	SendBuffer     int
	ControlRate    float64 // control messages per second per connection
	ControlBurst   int
	AllowedOrigins []string // empty allows any origin
}

// Server upgrades GET /ws requests and runs one session per connection.
type Server struct {
	appCtx       context.Context
	registry     *Registry
	entitlements JoinChecker
	auth         Authenticator
	logger       *logger.Logger
	opts         Options
	upgrader     websocket.Upgrader

	active atomic.Int64
}

// NewServer constructs the websocket endpoint. Sessions end when appCtx is cancelled.
func NewServer(appCtx context.Context, registry *Registry, entitlements JoinChecker, auth Authenticator, opts Options, logger *logger.Logger) *Server {
	srv := &Server{
		appCtx:       appCtx,
		registry:     registry,
		entitlements: entitlements,
		auth:         auth,
		logger:       logger,
		opts:         opts,
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     srv.checkOrigin,
	}
	return srv
}

// ServeHTTP handles GET /ws.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	who, err := srv.auth.FromRequest(r)
	if err != nil {
		http.Error(w, "Invalid session token", http.StatusUnauthorized)
		return
	}

	if n := srv.active.Add(1); srv.opts.MaxConnections > 0 && n > int64(srv.opts.MaxConnections) {
		srv.active.Add(-1)
		srv.logger.Warn(r.Context(), "ws_rejected", "Max live connections reached", map[string]any{"max": srv.opts.MaxConnections})
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.active.Add(-1)
		srv.logger.Warn(r.Context(), "ws_upgrade_failed", "Failed to upgrade websocket connection", map[string]any{"error": err.Error()})
		return
	}

	id := ConnID(uuid.NewString())
	s := &session{
		id:      id,
		who:     who,
		conn:    conn,
		send:    make(chan []byte, srv.sendBuffer()),
		limiter: srv.newLimiter(),
		server:  srv,
		ctx:     srv.logger.WithRequestID(srv.appCtx, string(id)),
	}

	if err := srv.registry.Register(id, who, s); err != nil {
		srv.active.Add(-1)
		srv.logger.Error(s.ctx, "ws_register_failed", "Failed to register live connection", err)
		_ = conn.Close()
		return
	}

	srv.logger.Info(s.ctx, "ws_connected", "Live connection registered", map[string]any{
		"identity":    who.String(),
		"remote_addr": conn.RemoteAddr().String(),
	})

	go s.writePump()
	go s.readPump()
}

// Active returns the number of open sessions.
func (srv *Server) Active() int { return int(srv.active.Load()) }

func (srv *Server) sendBuffer() int {
	if srv.opts.SendBuffer > 0 {
		return srv.opts.SendBuffer
	}
	return 256
}

func (srv *Server) newLimiter() *rate.Limiter {
	if srv.opts.ControlRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(srv.opts.ControlRate), srv.opts.ControlBurst)
}

func (srv *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(srv.opts.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	return slices.Contains(srv.opts.AllowedOrigins, origin)
}
