package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"testing"
	"time"
)

func newTestPoller(t *testing.T, timeout time.Duration) *Poller {
	t.Helper()
	p := NewPoller(timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(p.Close)
	return p
}

// pipeClient registers one end of a net.Pipe and returns the other end.
func pipeClient(t *testing.T, r *Registry) (*Client, net.Conn) {
	t.Helper()
	server, peer := net.Pipe()
	t.Cleanup(func() {
		_ = peer.Close()
		_ = server.Close()
	})
	c, err := r.Add(server, ClientOptions{ReadBufferSize: 64, OutboundBufferSize: 64})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return c, peer
}

func waitReady(t *testing.T, p *Poller) Ready {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ready, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return ready
}

func writeAsync(conn net.Conn, s string) {
	go func() {
		_, _ = conn.Write([]byte(s))
	}()
}

// TestPollerTimeout tests that Wait reports empty readiness after the timeout.
func TestPollerTimeout(t *testing.T) {
	p := newTestPoller(t, 20*time.Millisecond)

	start := time.Now()
	ready := waitReady(t, p)
	if !ready.Empty() {
		t.Errorf("Wait returned %+v, want empty readiness", ready)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Wait returned after %s, before the timeout", elapsed)
	}
}

// TestPollerContextCancel tests that a cancelled context ends Wait.
func TestPollerContextCancel(t *testing.T) {
	p := newTestPoller(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait returned %v, want context.Canceled", err)
	}
}

// TestPollerClosed tests Wait after Close.
func TestPollerClosed(t *testing.T) {
	p := newTestPoller(t, 0)
	p.Close()
	if _, err := p.Wait(context.Background()); !errors.Is(err, ErrPollerClosed) {
		t.Errorf("Wait returned %v, want ErrPollerClosed", err)
	}
}

// TestPollerReadable tests readiness reporting and rearming.
func TestPollerReadable(t *testing.T) {
	r := NewRegistry(4)
	p := newTestPoller(t, 0)
	c, peer := pipeClient(t, r)
	p.Watch(c)

	writeAsync(peer, "hello")
	ready := waitReady(t, p)
	if !slices.Equal(ready.Readable, []Handle{c.handle}) {
		t.Fatalf("Readable = %v, want [%d]", ready.Readable, c.handle)
	}

	buf := make([]byte, 64)
	n, err := c.in.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	if n, err := c.in.Read(buf); n != 0 || err != nil {
		t.Errorf("drained Read = %d, %v, want would-block", n, err)
	}

	p.Rearm(c.handle)
	writeAsync(peer, "again")
	ready = waitReady(t, p)
	if !slices.Equal(ready.Readable, []Handle{c.handle}) {
		t.Fatalf("Readable after rearm = %v", ready.Readable)
	}
}

// TestPollerReportsClose tests that a peer closing is reported as readiness
// and surfaces as an error on read.
func TestPollerReportsClose(t *testing.T) {
	r := NewRegistry(4)
	p := newTestPoller(t, 0)
	c, peer := pipeClient(t, r)
	p.Watch(c)

	_ = peer.Close()
	ready := waitReady(t, p)
	if !slices.Equal(ready.Readable, []Handle{c.handle}) {
		t.Fatalf("Readable = %v, want [%d]", ready.Readable, c.handle)
	}
	if _, err := c.in.Read(make([]byte, 8)); !errors.Is(err, io.EOF) {
		t.Errorf("Read error = %v, want EOF", err)
	}
}

// TestPollerSortsReadable tests that handles become ready in ascending order.
func TestPollerSortsReadable(t *testing.T) {
	r := NewRegistry(4)
	p := newTestPoller(t, 0)
	c1, peer1 := pipeClient(t, r)
	c2, peer2 := pipeClient(t, r)
	c3, peer3 := pipeClient(t, r)
	for _, c := range []*Client{c1, c2, c3} {
		p.Watch(c)
	}
	if p.Watching() != 3 {
		t.Fatalf("Watching() = %d, want 3", p.Watching())
	}

	for _, peer := range []net.Conn{peer3, peer1, peer2} {
		writeAsync(peer, "x")
	}

	var seen []Handle
	deadline := time.Now().Add(2 * time.Second)
	for len(seen) < 3 && time.Now().Before(deadline) {
		ready := waitReady(t, p)
		if !slices.IsSorted(ready.Readable) {
			t.Fatalf("Readable not sorted: %v", ready.Readable)
		}
		seen = append(seen, ready.Readable...)
	}
	slices.Sort(seen)
	if !slices.Equal(seen, []Handle{1, 2, 3}) {
		t.Errorf("saw %v, want [1 2 3]", seen)
	}
}

// TestPollerIgnoresStaleSignal tests that readiness of a released handle is
// not reported for the client that reuses it.
func TestPollerIgnoresStaleSignal(t *testing.T) {
	r := NewRegistry(4)
	p := newTestPoller(t, 50*time.Millisecond)
	old, peer := pipeClient(t, r)
	p.Watch(old)

	writeAsync(peer, "late")
	time.Sleep(20 * time.Millisecond)
	p.Unwatch(old.handle)
	r.Remove(old.handle)

	fresh, _ := pipeClient(t, r)
	if fresh.handle != old.handle {
		t.Fatalf("handle %d not reused, got %d", old.handle, fresh.handle)
	}
	p.Watch(fresh)

	ready := waitReady(t, p)
	if len(ready.Readable) != 0 {
		t.Errorf("Readable = %v, want none", ready.Readable)
	}
}

// TestPollerAccept tests that connections from a listener are reported one
// per Wait call.
func TestPollerAccept(t *testing.T) {
	p := newTestPoller(t, 0)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	p.Listen(ln)

	for n := 0; n < 2; n++ {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		t.Cleanup(func() { _ = conn.Close() })
	}

	accepted := 0
	for accepted < 2 {
		ready := waitReady(t, p)
		if ready.Conn == nil {
			t.Fatal("Wait returned without a connection")
		}
		_ = ready.Conn.Close()
		accepted++
	}
}
