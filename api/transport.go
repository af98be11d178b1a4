// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the outbound half of a connection as seen by the protocol engine.
// The event loop owns the socket; the engine only enqueues bytes and asks
// for teardown.

package api

// Transport is implemented by the I/O layer that owns a connection.
type Transport interface {
	// Send enqueues buffers for transmission, in order, without blocking.
	Send(bufs [][]byte) error

	// Close requests teardown once queued bytes have been flushed.
	Close() error

	// RemoteAddr describes the peer for diagnostics.
	RemoteAddr() string
}
