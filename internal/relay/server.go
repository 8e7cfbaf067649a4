package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/relaychat/internal/config"
)

// ReadableHandler reacts to a client connection becoming readable.
type ReadableHandler interface {
	OnReadable(h Handle)
}

// Server runs the event loop. Everything it owns is touched from the loop
// goroutine only; ActiveClients is the one exception.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	console io.Writer

	registry *Registry
	poller   *Poller
	acceptor *Acceptor
	handler  *Handler
	fanout   *Fanout

	started   atomic.Bool
	serving   chan struct{}
	active    atomic.Int64
	lastSweep time.Time
}

var (
	_ ReadableHandler = (*Server)(nil)
	_ Dropper         = (*Server)(nil)
)

// Option customizes a Server.
type Option func(s *Server) error

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return errors.New("relay.WithLogger: logger is nil")
		}
		s.logger = logger
		return nil
	}
}

// WithConsole sets where chat lines are echoed for the operator. Defaults to stdout.
func WithConsole(w io.Writer) Option {
	return func(s *Server) error {
		if w == nil {
			return errors.New("relay.WithConsole: writer is nil")
		}
		s.console = w
		return nil
	}
}

// New builds a server for cfg. The configuration is sanitized first.
func New(cfg config.Config, options ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg.Sanitize(),
		logger:  slog.Default(),
		console: os.Stdout,
		serving: make(chan struct{}),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(s); err != nil {
			return nil, err
		}
	}

	s.registry = NewRegistry(s.cfg.MaxClients)
	s.poller = NewPoller(s.cfg.PollTimeout, s.logger)
	s.acceptor = NewAcceptor(s.registry, s.poller, ClientOptionsFromConfig(s.cfg),
		s.cfg.WelcomeMessage, s.cfg.WriteTimeout, s.logger)
	s.handler = NewHandler(s.cfg.MaxMessageSize, s.cfg.LineFraming, s.cfg.WriteTimeout, s.console, s.logger)
	s.fanout = NewFanout(s.registry, s, s.cfg.WriteTimeout, s.logger)
	return s, nil
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() config.Config {
	return s.cfg
}

// ActiveClients returns the number of registered clients. Safe for concurrent use.
func (s *Server) ActiveClients() int {
	return int(s.active.Load())
}

// Serving is closed once Serve has taken ownership of the loop and its
// listeners are being accepted from.
func (s *Server) Serving() <-chan struct{} {
	return s.serving
}

// ListenAndServe listens on the configured TCP address and serves it,
// together with any extra listeners, until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, extra ...net.Listener) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		for _, l := range extra {
			_ = l.Close()
		}
		return fmt.Errorf("relay: listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("relay listening", "addr", ln.Addr().String())
	return s.Serve(ctx, append([]net.Listener{ln}, extra...)...)
}

// Serve runs the event loop over listeners until ctx is done. The listeners
// are closed when Serve returns. A cancelled ctx yields a nil error.
func (s *Server) Serve(ctx context.Context, listeners ...net.Listener) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}
	for _, ln := range listeners {
		s.poller.Listen(ln)
	}
	defer s.shutdown(listeners)
	close(s.serving)

	s.lastSweep = time.Now()
	for {
		ready, err := s.poller.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: wait: %w", err)
		}

		if ready.Conn != nil {
			if _, err := s.acceptor.Accept(ready.Conn); err != nil {
				if !errors.Is(err, ErrRegistryFull) {
					s.logger.Warn("accept failed", "err", err)
				}
			}
			s.syncActive()
		}

		for _, h := range ready.Readable {
			s.OnReadable(h)
			s.poller.Rearm(h)
		}

		s.housekeeping(time.Now())
	}
}

// OnReadable performs one read on h and acts on what was read.
func (s *Server) OnReadable(h Handle) {
	c, ok := s.registry.Get(h)
	if !ok {
		return
	}

	chunk, status, err := s.handler.Read(c)
	switch status {
	case StatusIdle:
		return
	case StatusClosed:
		s.Drop(h, err)
		return
	}

	for _, msg := range s.handler.Messages(c, chunk) {
		out := s.handler.Handle(c, msg)
		switch out.Action {
		case ActionDisconnect:
			s.Drop(h, out.Err)
			return
		case ActionBroadcast:
			s.fanout.Broadcast(h, out.Payload)
		}
	}
}

// Drop tears h down: stops watching it, removes it and closes its connection.
// Dropping an unknown handle is a no-op.
func (s *Server) Drop(h Handle, reason error) {
	c, ok := s.registry.Get(h)
	if !ok {
		return
	}
	s.poller.Unwatch(h)
	s.registry.Remove(h)
	s.syncActive()

	attrs := []any{"handle", h, "session", c.session, "nick", c.nick, "clients", s.registry.Len()}
	if reason != nil && !isExpectedCloseError(reason) {
		attrs = append(attrs, "err", reason)
	}
	s.logger.Info("client disconnected", attrs...)
}

func (s *Server) housekeeping(now time.Time) {
	if s.cfg.IdleTimeout <= 0 || now.Sub(s.lastSweep) < s.cfg.PollTimeout {
		return
	}
	s.lastSweep = now

	var idle []Handle
	s.registry.Each(func(c *Client) bool {
		if now.Sub(c.lastActive) > s.cfg.IdleTimeout {
			idle = append(idle, c.handle)
		}
		return true
	})
	for _, h := range idle {
		s.Drop(h, fmt.Errorf("idle for more than %s", s.cfg.IdleTimeout))
	}
}

func (s *Server) syncActive() {
	s.active.Store(int64(s.registry.Len()))
}

func (s *Server) shutdown(listeners []net.Listener) {
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Warn("closing listener", "addr", ln.Addr().String(), "err", err)
		}
	}

	var all []Handle
	s.registry.Each(func(c *Client) bool {
		all = append(all, c.handle)
		return true
	})
	for _, h := range all {
		s.poller.Unwatch(h)
		s.registry.Remove(h)
	}
	s.syncActive()

	s.poller.Close()
	s.logger.Info("relay stopped", "closed", len(all))
}
