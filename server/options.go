// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/momentics/wsengine/api"
)

// Option customizes server initialization.
type Option func(*Server)

// WithObserver receives protocol and server events.
func WithObserver(o api.Observer) Option {
	return func(s *Server) {
		s.observer = o
	}
}

// WithPingInterval overrides Config.PingInterval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		s.cfg.PingInterval = d
	}
}

// WithControl uses ctrl for runtime config, counters and probes instead
// of a private control instance.
func WithControl(ctrl api.Control) Option {
	return func(s *Server) {
		s.control = ctrl
	}
}

// WithPaths overrides Config.Paths.
func WithPaths(paths ...string) Option {
	return func(s *Server) {
		s.cfg.Paths = append([]string(nil), paths...)
	}
}
