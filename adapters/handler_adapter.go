// File: adapters/handler_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
//
// MessageHandlerFunc glue and handler middleware.

package adapters

import (
	"log"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/protocol"
)

// MessageHandlerFunc converts a function into a protocol.Handler that only
// cares about messages.
type MessageHandlerFunc func(c *protocol.Conn, m *protocol.Message)

type funcHandler struct {
	protocol.BaseHandler
	fn MessageHandlerFunc
}

func (h funcHandler) OnMessage(c *protocol.Conn, m *protocol.Message) { h.fn(c, m) }

// Handler returns the protocol.Handler for f.
func (f MessageHandlerFunc) Handler() protocol.Handler {
	return funcHandler{fn: f}
}

// Middleware decorates a protocol.Handler.
type Middleware func(protocol.Handler) protocol.Handler

// Chain applies middleware so that the first one is outermost.
func Chain(h protocol.Handler, mws ...Middleware) protocol.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type loggingHandler struct {
	protocol.Handler
}

func (h loggingHandler) OnAfterUpgrade(c *protocol.Conn) {
	log.Printf("[handler] conn %d opened from %s", c.ID(), c.Transport().RemoteAddr())
	h.Handler.OnAfterUpgrade(c)
}

func (h loggingHandler) OnException(c *protocol.Conn, code protocol.CloseCode) {
	log.Printf("[handler] conn %d failed with close code %d", c.ID(), code)
	h.Handler.OnException(c, code)
}

func (h loggingHandler) OnClose(c *protocol.Conn) {
	log.Printf("[handler] conn %d closed", c.ID())
	h.Handler.OnClose(c)
}

// LoggingMiddleware logs connection lifecycle events.
func LoggingMiddleware(next protocol.Handler) protocol.Handler {
	return loggingHandler{next}
}

type recoveryHandler struct {
	protocol.Handler
}

func (h recoveryHandler) OnMessage(c *protocol.Conn, m *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[handler] panic recovered on conn %d: %v", c.ID(), r)
			_ = c.Close(protocol.CloseInternalServerErr, "internal error")
		}
	}()
	h.Handler.OnMessage(c, m)
}

// RecoveryMiddleware turns a panic in OnMessage into a 1011 close of the
// offending connection.
func RecoveryMiddleware(next protocol.Handler) protocol.Handler {
	return recoveryHandler{next}
}

type metricsHandler struct {
	protocol.Handler
	control api.Control
}

func (h metricsHandler) OnMessage(c *protocol.Conn, m *protocol.Message) {
	h.control.IncMetric("handler.messages", 1)
	h.control.IncMetric("handler.message_bytes", int64(m.Len()))
	h.Handler.OnMessage(c, m)
}

func (h metricsHandler) OnException(c *protocol.Conn, code protocol.CloseCode) {
	h.control.IncMetric("handler.exceptions", 1)
	h.Handler.OnException(c, code)
}

// MetricsMiddleware counts messages and failures into control.
func MetricsMiddleware(control api.Control) Middleware {
	return func(next protocol.Handler) protocol.Handler {
		return metricsHandler{Handler: next, control: control}
	}
}
