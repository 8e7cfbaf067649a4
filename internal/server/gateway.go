package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/config"
)

// Gateway upgrades HTTP requests to WebSocket connections and exposes them
// through the net.Listener interface, so the relay serves them next to its
// TCP listener.
type Gateway struct {
	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once

	addr      gatewayAddr
	origins   *originPolicy
	readLimit int64
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

var _ net.Listener = (*Gateway)(nil)

type gatewayAddr string

func (a gatewayAddr) Network() string { return "websocket" }
func (a gatewayAddr) String() string  { return string(a) }

// NewGateway creates a gateway for cfg. Messages larger than
// cfg.MaxMessageSize close the offending connection.
func NewGateway(cfg config.Config, logger *slog.Logger) *Gateway {
	cfg = cfg.Sanitize()
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		conns:     make(chan net.Conn),
		done:      make(chan struct{}),
		addr:      gatewayAddr(cfg.HTTPAddr),
		origins:   newOriginPolicy(cfg.AllowedOrigins, logger),
		readLimit: int64(cfg.MaxMessageSize),
		logger:    logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.MaxMessageSize,
		WriteBufferSize: cfg.OutboundBufferSize,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Accept waits for the next upgraded connection.
func (g *Gateway) Accept() (net.Conn, error) {
	select {
	case conn := <-g.conns:
		return conn, nil
	case <-g.done:
		return nil, net.ErrClosed
	}
}

// Close stops handing out connections. Pending upgrades are closed.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		close(g.done)
	})
	return nil
}

// Addr returns the HTTP address the gateway is mounted on.
func (g *Gateway) Addr() net.Addr {
	return g.addr
}

// WebSocketHandler upgrades the request and hands the connection to whoever
// is accepting from the gateway.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.done:
		http.Error(w, "Relay is shutting down.", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(g.readLimit)
	// the hijacked conn keeps the http.Server request deadline
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		g.logger.Warn("clearing websocket deadline", "remote", r.RemoteAddr, "err", err)
		_ = ws.Close()
		return
	}
	conn := newWSConn(ws)

	select {
	case g.conns <- conn:
		g.logger.Debug("websocket handed to relay", "remote", r.RemoteAddr)
	case <-g.done:
		if err := conn.Close(); !isExpectedCloseError(err) {
			g.logger.Warn("closing websocket", "remote", r.RemoteAddr, "err", err)
		}
	}
}
