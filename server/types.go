// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"strings"
	"time"

	"github.com/momentics/wsengine/protocol"
)

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr string `json:"listen_addr" validate:"required"` // TCP bind address, e.g. ":9000"
	// Paths lists the request paths served. "*" accepts any path.
	Paths            []string      `json:"paths" validate:"min=1,dive,required"`
	ReadBufferSize   int           `json:"read_buffer_size" validate:"gte=512"`
	MaxHandshakeSize int           `json:"max_handshake_size" validate:"gte=256"`
	MaxEvents        int           `json:"max_events" validate:"gt=0"`
	PingInterval     time.Duration `json:"ping_interval" validate:"gte=0"` // 0 disables keepalive pings
	PollTimeout      time.Duration `json:"poll_timeout" validate:"gt=0"`

	Protocol *protocol.Config `json:"protocol" validate:"required"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	proto := protocol.DefaultConfig()
	proto.MaxFramePayload = protocol.RecommendedMaxFramePayload
	return &Config{
		ListenAddr:       ":9000",
		Paths:            []string{"*"},
		ReadBufferSize:   64 * 1024,
		MaxHandshakeSize: 8192,
		MaxEvents:        256,
		PingInterval:     0,
		PollTimeout:      100 * time.Millisecond,
		Protocol:         proto,
	}
}

// Validate checks field constraints and path syntax.
func (c *Config) Validate() error {
	if err := protocol.ValidateStruct(c); err != nil {
		return err
	}
	for _, p := range c.Paths {
		if p != "*" && !strings.HasPrefix(p, "/") {
			return &protocol.ConfigError{Field: "paths", Reason: "path " + p + ` must be "*" or start with "/"`}
		}
	}
	return nil
}

// clone deep-copies the config so callers may keep mutating theirs.
func (c *Config) clone() *Config {
	out := *c
	out.Paths = append([]string(nil), c.Paths...)
	if c.Protocol != nil {
		p := *c.Protocol
		out.Protocol = &p
	}
	return &out
}

// matchPath reports whether path is served.
func (c *Config) matchPath(path string) bool {
	for _, p := range c.Paths {
		if p == "*" || p == path {
			return true
		}
	}
	return false
}
