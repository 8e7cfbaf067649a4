// Package testhelpers provides common utilities shared by the relay and
// gateway tests: starting a relay on a loopback port, dialing it, and reading
// with deadlines so that a broken server fails a test instead of hanging it.
package testhelpers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/relay"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 2 * time.Second

// TestOrigin is the origin sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// SyncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Relay is a relay server running for the duration of one test.
type Relay struct {
	Server  *relay.Server
	Addr    string
	Console *SyncBuffer
}

// NewTestConfig returns a relay configuration bound to an ephemeral loopback port.
func NewTestConfig() config.Config {
	cfg := *config.NewConfig()
	cfg.Addr = "127.0.0.1:0"
	return cfg
}

// NewTestLogger returns a logger that writes through t.Log.
func NewTestLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// StartRelay starts a relay with the test configuration, modified by
// customize, and serves it together with extra until the test ends.
func StartRelay(t *testing.T, customize func(cfg *config.Config), extra ...net.Listener) *Relay {
	t.Helper()

	cfg := NewTestConfig()
	if customize != nil {
		customize(&cfg)
	}

	console := &SyncBuffer{}
	srv, err := relay.New(cfg, relay.WithLogger(NewTestLogger(t)), relay.WithConsole(console))
	if err != nil {
		t.Fatalf("Failed to create relay: %v", err)
	}

	ln, err := net.Listen("tcp", srv.Config().Addr)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, append([]net.Listener{ln}, extra...)...)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Relay did not stop within 5s")
		}
	})

	select {
	case <-srv.Serving():
	case err := <-done:
		t.Fatalf("Serve returned before serving: %v", err)
	case <-time.After(DefaultTimeout):
		t.Fatalf("Relay did not start within %s", DefaultTimeout)
	}

	return &Relay{Server: srv, Addr: ln.Addr().String(), Console: console}
}

// Dial connects to the relay and consumes the welcome message.
func (r *Relay) Dial(t *testing.T) net.Conn {
	t.Helper()
	conn := Dial(t, r.Addr)
	if welcome := r.Server.Config().WelcomeMessage; welcome != "" {
		ExpectData(t, conn, welcome)
	}
	return conn
}

// WaitForClients waits until the relay reports n active clients.
func (r *Relay) WaitForClients(t *testing.T, n int) {
	t.Helper()
	WaitFor(t, func() bool { return r.Server.ActiveClients() == n },
		"Expected %d active clients", n)
}

// Dial opens a TCP connection to addr that is closed when the test ends.
func Dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes s to conn or fails the test.
func Send(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	if err := conn.SetWriteDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set write deadline: %v", err)
	}
	if _, err := io.WriteString(conn, s); err != nil {
		t.Fatalf("Failed to send %q: %v", s, err)
	}
}

// ReadWithTimeout reads exactly n bytes from conn.
func ReadWithTimeout(conn net.Conn, n int, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(conn, buf)
	return buf[:read], err
}

// ExpectData fails the test unless the next bytes on conn are exactly want.
func ExpectData(t *testing.T, conn net.Conn, want string) {
	t.Helper()
	got, err := ReadWithTimeout(conn, len(want), DefaultTimeout)
	if err != nil {
		t.Fatalf("Expected %q, read %q: %v", want, got, err)
	}
	if string(got) != want {
		t.Fatalf("Expected %q, got %q", want, got)
	}
}

// ExpectNoData fails the test if conn delivers anything within d.
func ExpectNoData(t *testing.T, conn net.Conn, d time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if n > 0 {
		t.Fatalf("Expected no data, got %q", buf[:n])
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("Expected read timeout, got %v", err)
}

// ExpectClosed fails the test unless conn is closed by the peer without
// sending anything.
func ExpectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if n > 0 {
		t.Fatalf("Expected connection to be closed, got %q", buf[:n])
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatalf("Connection still open after %s", DefaultTimeout)
	}
	if err == nil {
		t.Fatalf("Expected an error from a closed connection")
	}
}

// WaitFor polls cond until it holds or DefaultTimeout passes.
func WaitFor(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf(format, args...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ConnectWebSocket dials a WebSocket URL presenting TestOrigin.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ReadWebSocket reads one text message with a deadline.
func ReadWebSocket(conn *websocket.Conn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	_, msg, err := conn.ReadMessage()
	return string(msg), err
}
