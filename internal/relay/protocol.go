package relay

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Protocol replies sent to the issuing client only.
const (
	ReplyNickChanged = "change nick success!\n"
	ReplyUnsupported = "unsupported cmd\n"
)

// Status classifies the outcome of one bounded read.
type Status int

const (
	// StatusIdle means nothing could be read without blocking; no event this cycle.
	StatusIdle Status = iota
	// StatusData means bytes were read.
	StatusData
	// StatusClosed means the peer is gone or the connection failed.
	StatusClosed
)

// Action is what the event loop must do after a message was handled.
type Action int

const (
	// ActionHandled needs nothing further.
	ActionHandled Action = iota
	// ActionBroadcast asks for Payload to be fanned out to everybody but the sender.
	ActionBroadcast
	// ActionDisconnect asks for the client to be torn down.
	ActionDisconnect
)

func (a Action) String() string {
	switch a {
	case ActionHandled:
		return "handled"
	case ActionBroadcast:
		return "broadcast"
	case ActionDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Outcome is the result of handling one message.
type Outcome struct {
	Action  Action
	Payload []byte
	Err     error
}

// Handler implements the command/chat protocol.
type Handler struct {
	readSize     int
	lineFraming  bool
	writeTimeout time.Duration
	console      io.Writer
	logger       *slog.Logger
	buf          []byte
}

// NewHandler creates a protocol handler reading at most readSize bytes per
// call and echoing chat lines to console.
func NewHandler(readSize int, lineFraming bool, writeTimeout time.Duration, console io.Writer, logger *slog.Logger) *Handler {
	if readSize <= 0 {
		readSize = 1024
	}
	if console == nil {
		console = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		readSize:     readSize,
		lineFraming:  lineFraming,
		writeTimeout: writeTimeout,
		console:      console,
		logger:       logger,
		buf:          make([]byte, readSize),
	}
}

// Read performs exactly one bounded, non-blocking read from c. The returned
// slice is only valid until the next call.
func (h *Handler) Read(c *Client) ([]byte, Status, error) {
	n, err := c.in.Read(h.buf)
	if n > 0 {
		c.lastActive = time.Now()
		return h.buf[:n], StatusData, nil
	}
	if err != nil {
		return nil, StatusClosed, err
	}
	return nil, StatusIdle, nil
}

// Messages splits a chunk into protocol messages. Without line framing every
// chunk is one message. With line framing only complete lines are returned and
// the remainder is kept on the client; a remainder growing to the read size is
// released as a message of its own.
func (h *Handler) Messages(c *Client, chunk []byte) [][]byte {
	if !h.lineFraming {
		return [][]byte{chunk}
	}

	c.partial = append(c.partial, chunk...)
	var msgs [][]byte
	for {
		i := bytes.IndexByte(c.partial, '\n')
		if i < 0 {
			break
		}
		msgs = append(msgs, bytes.Clone(c.partial[:i+1]))
		c.partial = c.partial[i+1:]
	}
	for len(c.partial) >= h.readSize {
		msgs = append(msgs, bytes.Clone(c.partial[:h.readSize]))
		c.partial = c.partial[h.readSize:]
	}
	if len(c.partial) == 0 {
		c.partial = nil
	}
	return msgs
}

// Handle interprets one message from c.
func (h *Handler) Handle(c *Client, msg []byte) Outcome {
	if len(msg) == 0 {
		return Outcome{Action: ActionHandled}
	}
	if msg[0] == '/' {
		return h.command(c, msg)
	}
	return h.chat(c, msg)
}

func (h *Handler) command(c *Client, msg []byte) Outcome {
	line := string(msg)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	name, arg, hasArg := strings.Cut(line, " ")

	var reply string
	switch {
	case strings.EqualFold(name, "/nick") && hasArg && arg != "":
		old := c.nick
		c.nick = arg
		reply = ReplyNickChanged
		h.logger.Info("nick changed", "handle", c.handle, "session", c.session, "from", old, "to", arg)
	default:
		reply = ReplyUnsupported
		h.logger.Debug("unsupported command", "handle", c.handle, "command", name)
	}

	if err := writeFull(c.conn, []byte(reply), h.writeTimeout); err != nil {
		return Outcome{Action: ActionDisconnect, Err: fmt.Errorf("reply: %w", err)}
	}
	return Outcome{Action: ActionHandled}
}

func (h *Handler) chat(c *Client, msg []byte) Outcome {
	if c.limiter != nil && !c.limiter.allow() {
		h.logger.Warn("rate limit exceeded; discarding message",
			"handle", c.handle, "session", c.session, "nick", c.nick)
		return Outcome{Action: ActionHandled}
	}

	// "<nick>><text>", cut at the capacity of the outbound block
	buf := c.pending[:cap(c.pending)]
	n := copy(buf, c.nick)
	if n < len(buf) {
		buf[n] = '>'
		n++
	}
	n += copy(buf[n:], msg)
	c.pending = buf[:n]

	fmt.Fprintf(h.console, "%s\n", bytes.TrimRight(c.pending, "\r\n"))
	return Outcome{Action: ActionBroadcast, Payload: c.pending}
}
