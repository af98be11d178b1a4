// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the core interfaces.

package fake

import (
	"sync"

	"github.com/momentics/wsengine/api"
)

// Transport is a fake implementation of api.Transport for testing. It
// records every Send call and counts Close calls.
type Transport struct {
	mu         sync.Mutex
	sends      [][][]byte
	closed     bool
	closeCalls int
	sendError  error
	closeError error
	remote     string
}

// NewTransport creates a new fake transport with default settings.
func NewTransport() *Transport {
	return &Transport{remote: "fake:0"}
}

// Send implements api.Transport.Send.
func (t *Transport) Send(buffers [][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return api.ErrTransportClosed
	}
	if t.sendError != nil {
		return t.sendError
	}

	call := make([][]byte, 0, len(buffers))
	for _, buf := range buffers {
		call = append(call, append([]byte(nil), buf...))
	}
	t.sends = append(t.sends, call)
	return nil
}

// Close implements api.Transport.Close.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeCalls++
	if t.closeError != nil {
		return t.closeError
	}
	t.closed = true
	return nil
}

// RemoteAddr implements api.Transport.RemoteAddr.
func (t *Transport) RemoteAddr() string {
	return t.remote
}

// SetRemoteAddr changes the reported peer address.
func (t *Transport) SetRemoteAddr(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = addr
}

// SetSendError configures the transport to return an error on Send.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendError = err
}

// SetCloseError configures the transport to return an error on Close.
func (t *Transport) SetCloseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeError = err
}

// SendCalls returns the buffers of every Send call, in order.
func (t *Transport) SendCalls() [][][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][][]byte, len(t.sends))
	copy(out, t.sends)
	return out
}

// GetSentData returns all buffers sent, flattened across calls.
func (t *Transport) GetSentData() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out [][]byte
	for _, call := range t.sends {
		out = append(out, call...)
	}
	return out
}

// Written returns all sent bytes concatenated.
func (t *Transport) Written() []byte {
	var out []byte
	for _, b := range t.GetSentData() {
		out = append(out, b...)
	}
	return out
}

// ClearSentData clears the recorded sends.
func (t *Transport) ClearSentData() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sends = nil
}

// Closed reports whether Close succeeded at least once.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CloseCalls returns how many times Close was called.
func (t *Transport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}
