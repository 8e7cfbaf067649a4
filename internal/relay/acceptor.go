package relay

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// noDelayer is implemented by transports supporting Nagle control, such as *net.TCPConn.
type noDelayer interface {
	SetNoDelay(noDelay bool) error
}

// Acceptor performs the handshake of freshly accepted connections and
// registers them.
type Acceptor struct {
	registry     *Registry
	poller       *Poller
	opts         ClientOptions
	welcome      []byte
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewAcceptor creates an acceptor registering clients in registry and
// watching them with poller.
func NewAcceptor(registry *Registry, poller *Poller, opts ClientOptions, welcome string, writeTimeout time.Duration, logger *slog.Logger) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acceptor{
		registry:     registry,
		poller:       poller,
		opts:         opts,
		welcome:      []byte(welcome),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Accept admits conn. A connection arriving at capacity is closed without
// any message and ErrRegistryFull is returned; existing clients are untouched.
func (a *Acceptor) Accept(conn net.Conn) (*Client, error) {
	if a.registry.Full() {
		_ = conn.Close()
		a.logger.Warn("client limit reached; connection rejected",
			"addr", remoteAddr(conn), "clients", a.registry.Len())
		return nil, ErrRegistryFull
	}

	if nd, ok := conn.(noDelayer); ok {
		if err := nd.SetNoDelay(true); err != nil {
			a.logger.Debug("cannot disable Nagle", "addr", remoteAddr(conn), "err", err)
		}
	}

	if len(a.welcome) > 0 {
		if err := writeFull(conn, a.welcome, a.writeTimeout); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("relay: welcome to %s: %w", remoteAddr(conn), err)
		}
	}

	c, err := a.registry.Add(conn, a.opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	a.poller.Watch(c)

	a.logger.Info("client connected",
		"handle", c.handle, "session", c.session, "addr", c.addr, "clients", a.registry.Len())
	return c, nil
}

// writeFull performs one write under a deadline; anything short of the full
// payload counts as a failed delivery.
func writeFull(conn net.Conn, p []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	n, err := conn.Write(p)
	if err != nil {
		return err
	}
	if n < len(p) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	return nil
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
