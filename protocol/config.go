// File: protocol/config.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection protocol limits and role.

package protocol

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/go-playground/validator.v9"
)

// Role selects the masking convention of a connection.
type Role uint8

const (
	// RoleServer requires masked inbound frames and sends unmasked frames.
	RoleServer Role = iota
	// RoleClient masks outbound frames and rejects masked inbound frames.
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Config holds protocol limits applied to a single connection.
type Config struct {
	MaxFramePayload uint64 `json:"max_frame_payload" validate:"gt=0"`
	MaxMessageSize  int    `json:"max_message_size" validate:"gt=0"`
	// FragmentSize > 0 splits outgoing messages into frames of that size.
	FragmentSize int  `json:"fragment_size" validate:"gte=0"`
	Role         Role `json:"role" validate:"oneof=0 1"`
}

// DefaultConfig returns unbounded frames, 32 MiB messages, no fragmentation
// and the server role.
func DefaultConfig() *Config {
	return &Config{
		MaxFramePayload: DefaultMaxFramePayload,
		MaxMessageSize:  DefaultMaxMessageSize,
		FragmentSize:    0,
		Role:            RoleServer,
	}
}

var validate = validator.New()

// Validate checks the struct tags and reports the first violation as *ConfigError.
func (c *Config) Validate() error {
	return ValidateStruct(c)
}

// ValidateStruct runs tag validation on any config struct and converts the
// first failure into *ConfigError.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		return &ConfigError{
			Field:  strings.ToLower(fe.Field()),
			Reason: fmt.Sprintf("value %v violates %q", fe.Value(), rule),
		}
	}
	return &ConfigError{Field: "config", Reason: err.Error()}
}
