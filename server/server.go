// File: server/server.go
// Package server runs WebSocket endpoints on a single epoll event loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One goroutine owns the listener, every socket and every protocol.Conn.
// Handler callbacks therefore run on the loop goroutine and must not block.

package server

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/wsengine/adapters"
	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/protocol"
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrServerClosed   = errors.New("server closed")
)

// Control config keys applied to new connections on reload.
const (
	KeyMaxFramePayload = "protocol.max_frame_payload"
	KeyMaxMessageSize  = "protocol.max_message_size"
	KeyFragmentSize    = "protocol.fragment_size"
	KeyPingInterval    = "server.ping_interval"
)

// Server accepts TCP connections, performs the upgrade handshake and drives
// each upgraded connection.
type Server struct {
	cfg      *Config
	handler  protocol.Handler
	observer api.Observer
	control  api.Control

	proto        atomic.Pointer[protocol.Config]
	pingInterval atomic.Int64

	running  atomic.Bool
	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}

	accepted atomic.Int64
	sessions atomic.Int64
	conns    atomic.Int64
	messages atomic.Int64
	inbound  atomic.Uint64
	outbound atomic.Uint64
	started  atomic.Int64 // unix nanoseconds

	loop loopState // platform specific
}

var _ api.GracefulShutdown = (*Server)(nil)

// New builds a Server. A nil cfg means DefaultConfig; a nil handler echoes.
func New(cfg *Config, handler protocol.Handler, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if handler == nil {
		handler = EchoHandler{}
	}
	s := &Server{
		cfg:      cfg.clone(),
		handler:  handler,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if s.control == nil {
		s.control = adapters.NewControlAdapter(nil)
	}

	s.proto.Store(s.cfg.Protocol)
	s.pingInterval.Store(int64(s.cfg.PingInterval))
	s.bindControl()
	return s, nil
}

// bindControl publishes the tunable limits and registers the reload hook
// and debug probes.
func (s *Server) bindControl() {
	p := s.proto.Load()
	_ = s.control.SetConfig(map[string]any{
		KeyMaxFramePayload: p.MaxFramePayload,
		KeyMaxMessageSize:  p.MaxMessageSize,
		KeyFragmentSize:    p.FragmentSize,
		KeyPingInterval:    s.cfg.PingInterval.String(),
	})
	s.control.OnReload(s.reload)
	s.control.RegisterDebugProbe("server.connections", func() any { return s.conns.Load() })
	s.control.RegisterDebugProbe("server.sessions", func() any { return s.sessions.Load() })
}

// reload rebuilds the protocol limits from the control config. Invalid
// values are logged and ignored; existing connections keep their limits.
func (s *Server) reload() {
	snap := s.control.GetConfig()
	next := *s.proto.Load()

	if v, ok := asInt64(snap[KeyMaxFramePayload]); ok && v > 0 {
		next.MaxFramePayload = uint64(v)
	}
	if v, ok := asInt64(snap[KeyMaxMessageSize]); ok {
		next.MaxMessageSize = int(v)
	}
	if v, ok := asInt64(snap[KeyFragmentSize]); ok {
		next.FragmentSize = int(v)
	}
	if err := next.Validate(); err != nil {
		log.Printf("[server] reload rejected: %v", err)
		return
	}
	s.proto.Store(&next)

	if raw, ok := snap[KeyPingInterval]; ok {
		d, err := asDuration(raw)
		if err != nil || d < 0 {
			log.Printf("[server] reload: bad %s %v", KeyPingInterval, raw)
			return
		}
		s.pingInterval.Store(int64(d))
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), n <= 1<<63-1
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func asDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	}
	if n, ok := asInt64(v); ok {
		return time.Duration(n), nil
	}
	return 0, fmt.Errorf("unsupported duration %T", v)
}

// ProtocolConfig returns the limits applied to newly upgraded connections.
func (s *Server) ProtocolConfig() protocol.Config { return *s.proto.Load() }

// Control exposes runtime config, counters and debug probes.
func (s *Server) Control() api.Control { return s.control }

// Stats returns server-wide counters.
func (s *Server) Stats() api.APIMetrics {
	return api.APIMetrics{
		NumSessions:     s.sessions.Load(),
		NumAccepted:     s.accepted.Load(),
		NumMessages:     s.messages.Load(),
		InboundTraffic:  s.inbound.Load(),
		OutboundTraffic: s.outbound.Load(),
		StartedAt:       s.startedAt(),
	}
}

func (s *Server) startedAt() time.Time {
	if ns := s.started.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// Observe counts server-relevant events and forwards everything to the
// configured observer.
func (s *Server) Observe(event string, fields map[string]any) {
	switch event {
	case "message.received":
		s.messages.Add(1)
	case "handshake.accepted":
		s.control.IncMetric("server.upgraded", 1)
	case "handshake.rejected", "handshake.refused":
		s.control.IncMetric("server.rejected", 1)
	case "protocol.error":
		s.control.IncMetric("server.protocol_errors", 1)
	}
	if s.observer != nil {
		s.observer.Observe(event, fields)
	}
}

func (s *Server) upgrader() *protocol.Upgrader {
	return &protocol.Upgrader{Handler: s.handler, Config: s.proto.Load(), Observer: s}
}

// Shutdown stops the event loop: every connection receives a 1001 Close
// frame, queued data is flushed best-effort and the listener is closed.
// It waits for the loop to exit or for timeout to elapse. A loop that has
// not started yet exits as soon as it does.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.stopOnce.Do(func() { close(s.shutdown) })
	if !s.running.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return api.ErrOperationTimeout
	}
}

// EchoHandler sends every received message back unchanged.
type EchoHandler struct {
	protocol.BaseHandler
}

func (EchoHandler) OnMessage(c *protocol.Conn, m *protocol.Message) {
	_ = c.SendMessage(m)
}
