// Package server implements the HTTP side of the relay: a WebSocket gateway
// that hands browser connections to the relay event loop, a health check and
// a built-in test page.
//
// The implementation is organized into specialized files for the gateway
// listener, the connection adapter, origin checks, routing and HTTP handlers.
package server
