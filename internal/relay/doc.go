// Package relay implements the text relay core: a single goroutine owns the
// client registry and runs the event loop, while the runtime netpoller only
// signals readiness.
//
// The implementation is organized into files for the registry, the acceptor,
// the poller, the protocol handler, the broadcast fan-out and the loop itself,
// so that each piece can be tested in isolation.
package relay
