package relay

import (
	"log/slog"
	"time"
)

// Dropper tears a client down.
type Dropper interface {
	Drop(h Handle, reason error)
}

// Fanout delivers a payload to every registered client but the sender.
type Fanout struct {
	registry     *Registry
	dropper      Dropper
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewFanout creates a fan-out over registry. Recipients whose send fails are
// handed to dropper.
func NewFanout(registry *Registry, dropper Dropper, writeTimeout time.Duration, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		registry:     registry,
		dropper:      dropper,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Broadcast sends payload once to each active client except sender, in
// ascending handle order. A failed send drops that recipient only and the
// walk continues. It returns the number of successful deliveries.
// Each send may block the loop for up to the write timeout.
func (f *Fanout) Broadcast(sender Handle, payload []byte) int {
	delivered, failed := 0, 0
	f.registry.Each(func(c *Client) bool {
		if c.handle == sender {
			return true
		}
		if err := writeFull(c.conn, payload, f.writeTimeout); err != nil {
			failed++
			f.logger.Info("send failed", "handle", c.handle, "session", c.session, "err", err)
			f.dropper.Drop(c.handle, err)
			return true
		}
		delivered++
		return true
	})
	f.logger.Debug("broadcast", "sender", sender, "bytes", len(payload), "delivered", delivered, "failed", failed)
	return delivered
}
