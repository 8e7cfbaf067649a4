package relay

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/relaychat/internal/config"
)

// Handle identifies one active connection. Handles are unique among active
// clients and are reused once released.
type Handle int

// NoHandle is the registry bound when no client is connected.
const NoHandle Handle = -1

// ClientOptions sizes the per-client buffers.
type ClientOptions struct {
	ReadBufferSize     int
	OutboundBufferSize int
	RateLimit          config.RateLimitConfig
}

// ClientOptionsFromConfig extracts the per-client settings from cfg.
func ClientOptionsFromConfig(cfg config.Config) ClientOptions {
	return ClientOptions{
		ReadBufferSize:     cfg.MaxMessageSize,
		OutboundBufferSize: cfg.OutboundBufferSize,
		RateLimit:          cfg.RateLimit,
	}
}

// Client represents one connected peer. All fields except the inbound peek
// state are touched only by the event loop goroutine.
type Client struct {
	handle  Handle
	conn    net.Conn
	session string
	addr    string
	nick    string

	in      *inbound
	pending []byte // holds at most one in-flight broadcast
	partial []byte // unterminated line, line framing only

	limiter    *rateLimiter
	lastActive time.Time
}

func newClient(h Handle, conn net.Conn, opts ClientOptions) *Client {
	c := &Client{
		handle:     h,
		conn:       conn,
		session:    uuid.NewString(),
		nick:       DefaultNick(h),
		in:         newInbound(conn, opts.ReadBufferSize),
		pending:    make([]byte, 0, max(opts.OutboundBufferSize, 1)),
		lastActive: time.Now(),
	}
	if conn != nil && conn.RemoteAddr() != nil {
		c.addr = conn.RemoteAddr().String()
	}
	if opts.RateLimit.Enabled() {
		c.limiter = newRateLimiter(opts.RateLimit.Burst, opts.RateLimit.RefillInterval)
	}
	return c
}

// DefaultNick is the nickname a client carries until it sends /nick.
func DefaultNick(h Handle) string {
	return "client " + strconv.Itoa(int(h))
}

// Handle returns the client's connection handle.
func (c *Client) Handle() Handle { return c.handle }

// Nick returns the current nickname.
func (c *Client) Nick() string { return c.nick }

// Session returns the random id used to correlate log lines of one connection.
func (c *Client) Session() string { return c.session }

// Addr returns the remote address recorded at accept time.
func (c *Client) Addr() string { return c.addr }

// Pending returns the last formatted broadcast of this client.
func (c *Client) Pending() []byte { return c.pending }
