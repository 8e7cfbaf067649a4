package relay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"
)

// inbound is the read side of a client connection. The watcher goroutine
// blocks in wait until bytes or an error are available; the event loop then
// reads without ever blocking.
type inbound struct {
	br  *bufio.Reader
	err error
}

func newInbound(r io.Reader, size int) *inbound {
	if r == nil {
		return &inbound{err: io.EOF}
	}
	return &inbound{br: bufio.NewReaderSize(r, size)}
}

// wait blocks until the connection is readable. Watcher goroutine only.
func (in *inbound) wait() error {
	if in.br == nil {
		return in.err
	}
	_, err := in.br.Peek(1)
	if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
		in.err = err
	}
	return in.err
}

// Read returns buffered bytes, the pending read error, or (0, nil) when
// nothing is available yet.
func (in *inbound) Read(p []byte) (int, error) {
	if in.br != nil && in.br.Buffered() > 0 {
		return in.br.Read(p[:min(len(p), in.br.Buffered())])
	}
	if in.err != nil {
		return 0, in.err
	}
	return 0, nil
}

// Ready is the result of one Poller.Wait call.
type Ready struct {
	// Conn is a freshly accepted connection, or nil.
	Conn net.Conn
	// Readable lists the handles with pending input in ascending order.
	Readable []Handle
}

// Empty reports a wake-up without readiness, i.e. a timeout.
func (r Ready) Empty() bool {
	return r.Conn == nil && len(r.Readable) == 0
}

type watcher struct {
	handle Handle
	in     *inbound
	rearm  chan struct{}
	done   chan struct{}
}

type signal struct {
	w *watcher
}

// Poller multiplexes the listeners and all watched clients into one blocking
// Wait call. Watch, Unwatch, Rearm and Wait must be called from the event
// loop goroutine; Listen and Close may be called from anywhere.
type Poller struct {
	accepts  chan net.Conn
	signals  chan signal
	watchers map[Handle]*watcher
	timeout  time.Duration
	logger   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPoller creates a poller. A positive timeout makes Wait return empty
// readiness when nothing happened for that long.
func NewPoller(timeout time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		accepts:  make(chan net.Conn),
		signals:  make(chan signal),
		watchers: make(map[Handle]*watcher),
		timeout:  timeout,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Listen starts accepting connections from ln. Each accepted connection is
// reported by exactly one Wait call. The accept loop ends when ln is closed.
func (p *Poller) Listen(ln net.Listener) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.acceptLoop(ln)
	}()
}

func (p *Poller) acceptLoop(ln net.Listener) {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || p.closed() {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, time.Second)
			}
			p.logger.Warn("accept failed; retrying", "addr", ln.Addr().String(), "err", err, "delay", delay)
			select {
			case <-time.After(delay):
			case <-p.done:
				return
			}
			continue
		}
		delay = 0

		select {
		case p.accepts <- conn:
		case <-p.done:
			_ = conn.Close()
			return
		}
	}
}

// Watch starts reporting readiness of c.
func (p *Poller) Watch(c *Client) {
	if old, ok := p.watchers[c.handle]; ok {
		close(old.done)
	}
	w := &watcher{
		handle: c.handle,
		in:     c.in,
		rearm:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.watchers[c.handle] = w

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watch(w)
	}()
}

func (p *Poller) watch(w *watcher) {
	for {
		err := w.in.wait()
		select {
		case p.signals <- signal{w}:
		case <-w.done:
			return
		case <-p.done:
			return
		}
		if err != nil {
			// the loop reads the error and tears the client down
			return
		}
		select {
		case <-w.rearm:
		case <-w.done:
			return
		case <-p.done:
			return
		}
	}
}

// Unwatch stops reporting readiness of h. Signals already in flight are dropped.
func (p *Poller) Unwatch(h Handle) {
	w, ok := p.watchers[h]
	if !ok {
		return
	}
	delete(p.watchers, h)
	close(w.done)
}

// Rearm re-enables readiness reporting for h after the loop consumed it.
func (p *Poller) Rearm(h Handle) {
	w, ok := p.watchers[h]
	if !ok {
		return
	}
	select {
	case w.rearm <- struct{}{}:
	default:
	}
}

// Watching returns the number of watched clients.
func (p *Poller) Watching() int {
	return len(p.watchers)
}

// Wait blocks until a listener has a connection, a client is readable, the
// timeout elapses, or ctx is done. Within one call at most one connection is
// reported.
func (p *Poller) Wait(ctx context.Context) (Ready, error) {
	var ready Ready

	var timeout <-chan time.Time
	if p.timeout > 0 {
		t := time.NewTimer(p.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-ctx.Done():
		return ready, ctx.Err()
	case <-p.done:
		return ready, ErrPollerClosed
	case <-timeout:
		return ready, nil
	case conn := <-p.accepts:
		ready.Conn = conn
	case s := <-p.signals:
		p.collect(&ready, s)
	}

	// pick up everything else that is ready right now
	for drained := false; !drained; {
		select {
		case s := <-p.signals:
			p.collect(&ready, s)
		default:
			drained = true
		}
	}
	if ready.Conn == nil {
		select {
		case conn := <-p.accepts:
			ready.Conn = conn
		default:
		}
	}

	slices.Sort(ready.Readable)
	return ready, nil
}

func (p *Poller) collect(ready *Ready, s signal) {
	if p.watchers[s.w.handle] != s.w {
		return // released handle, possibly reused since
	}
	ready.Readable = append(ready.Readable, s.w.handle)
}

// Close stops every watcher and accept loop and waits for them to exit.
// Listeners must be closed by their owner for accept loops blocked in Accept.
func (p *Poller) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

func (p *Poller) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
