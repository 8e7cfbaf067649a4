package relay

import "errors"

var (
	// ErrRegistryFull is returned when a connection arrives while the registry is at capacity.
	// The connection has already been closed when this error is returned.
	ErrRegistryFull = errors.New("relay: client limit reached")

	// ErrPollerClosed is returned by Poller.Wait once the poller has been closed.
	ErrPollerClosed = errors.New("relay: poller closed")

	// ErrServerStarted is returned when Serve is called more than once.
	ErrServerStarted = errors.New("relay: server already started")
)
