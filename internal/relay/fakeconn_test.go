package relay

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

var errFakeWrite = errors.New("fake write failure")

// fakeConn records writes and closes. Reads report EOF.
type fakeConn struct {
	mu       sync.Mutex
	written  bytes.Buffer
	writes   int
	failing  bool
	short    bool
	closed   bool
	order    *[]string
	name     string
	deadline time.Time
}

func (c *fakeConn) Read([]byte) (int, error) { return 0, io.EOF }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.order != nil {
		*c.order = append(*c.order, c.name)
	}
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.failing {
		return 0, errFakeWrite
	}
	c.writes++
	if c.short && len(p) > 1 {
		c.written.Write(p[:len(p)/2])
		return len(p) / 2, nil
	}
	c.written.Write(p)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.String()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) LocalAddr() net.Addr  { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr { return fakeAddr("remote") }

func (c *fakeConn) SetDeadline(t time.Time) error     { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// recordingDropper removes dropped handles from the registry and remembers them.
type recordingDropper struct {
	registry *Registry
	dropped  []Handle
}

func (d *recordingDropper) Drop(h Handle, _ error) {
	d.dropped = append(d.dropped, h)
	d.registry.Remove(h)
}
