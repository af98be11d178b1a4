// File: protocol/handler.go
// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Application callback contract invoked by Conn and Upgrader.

package protocol

import (
	"net/http"

	"github.com/momentics/wsengine/api"
)

// Handler receives connection events. Callbacks run on the goroutine that
// drives the connection and must not block.
type Handler interface {
	// OnUpgrade may customize or replace the 101 response. Returning a
	// response with any other status rejects the upgrade; nil keeps resp.
	OnUpgrade(t api.Transport, req *http.Request, resp *HandshakeResponse) *HandshakeResponse

	// OnAfterUpgrade runs once the 101 response has been queued.
	OnAfterUpgrade(c *Conn)

	// OnMessage receives every completed message exactly once.
	OnMessage(c *Conn, m *Message)

	// OnPong runs when a pong matching the pending ping arrives.
	OnPong(c *Conn, ping *Frame)

	// OnException reports the close code of a failed connection.
	OnException(c *Conn, code CloseCode)

	// OnClose runs exactly once per connection.
	OnClose(c *Conn)
}

// BaseHandler implements Handler with no-ops; embed it and override what
// you need.
type BaseHandler struct{}

func (BaseHandler) OnUpgrade(_ api.Transport, _ *http.Request, resp *HandshakeResponse) *HandshakeResponse {
	return resp
}
func (BaseHandler) OnAfterUpgrade(*Conn) {}
func (BaseHandler) OnMessage(*Conn, *Message) {}
func (BaseHandler) OnPong(*Conn, *Frame) {}
func (BaseHandler) OnException(*Conn, CloseCode) {}
func (BaseHandler) OnClose(*Conn) {}
