// File: config/config.go
// Package config loads server settings from a JSON file.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/momentics/wsengine/server"
)

// File is the on-disk form of server.Config. Durations use
// time.ParseDuration syntax ("30s").
type File struct {
	ListenAddr       string   `json:"listen_addr,omitempty"`
	Paths            []string `json:"paths,omitempty"`
	ReadBufferSize   int      `json:"read_buffer_size,omitempty"`
	MaxHandshakeSize int      `json:"max_handshake_size,omitempty"`
	MaxEvents        int      `json:"max_events,omitempty"`
	PingInterval     string   `json:"ping_interval,omitempty"`
	PollTimeout      string   `json:"poll_timeout,omitempty"`

	MaxFramePayload uint64 `json:"max_frame_payload,omitempty"`
	MaxMessageSize  int    `json:"max_message_size,omitempty"`
	FragmentSize    int    `json:"fragment_size,omitempty"`
}

// FromServerConfig renders cfg in file form.
func FromServerConfig(cfg *server.Config) File {
	return File{
		ListenAddr:       cfg.ListenAddr,
		Paths:            append([]string(nil), cfg.Paths...),
		ReadBufferSize:   cfg.ReadBufferSize,
		MaxHandshakeSize: cfg.MaxHandshakeSize,
		MaxEvents:        cfg.MaxEvents,
		PingInterval:     cfg.PingInterval.String(),
		PollTimeout:      cfg.PollTimeout.String(),
		MaxFramePayload:  cfg.Protocol.MaxFramePayload,
		MaxMessageSize:   cfg.Protocol.MaxMessageSize,
		FragmentSize:     cfg.Protocol.FragmentSize,
	}
}

// DefaultFile returns server.DefaultConfig in file form.
func DefaultFile() File {
	return FromServerConfig(server.DefaultConfig())
}

// ServerConfig converts and validates f.
func (f File) ServerConfig() (*server.Config, error) {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = f.ListenAddr
	cfg.Paths = append([]string(nil), f.Paths...)
	cfg.ReadBufferSize = f.ReadBufferSize
	cfg.MaxHandshakeSize = f.MaxHandshakeSize
	cfg.MaxEvents = f.MaxEvents
	cfg.Protocol.MaxFramePayload = f.MaxFramePayload
	cfg.Protocol.MaxMessageSize = f.MaxMessageSize
	cfg.Protocol.FragmentSize = f.FragmentSize

	var err error
	if cfg.PingInterval, err = parseDuration("ping_interval", f.PingInterval); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = parseDuration("poll_timeout", f.PollTimeout); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}

// Load reads the config file at path over the defaults. A missing file or
// an empty path yields the defaults.
func Load(path string) (*server.Config, error) {
	f := DefaultFile()
	if path == "" {
		return f.ServerConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f.ServerConfig()
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return f.ServerConfig()
}

// Save writes f as indented JSON with 0644 permissions.
func Save(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
