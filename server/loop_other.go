//go:build !linux
// +build !linux

// File: server/loop_other.go
// Author: momentics <momentics@gmail.com>

package server

import (
	"context"
	"net"

	"github.com/momentics/wsengine/api"
)

type loopState struct{}

// Listen is only supported on Linux.
func (s *Server) Listen() error { return api.ErrNotSupported }

// Addr returns nil outside Linux.
func (s *Server) Addr() net.Addr { return nil }

// Serve is only supported on Linux.
func (s *Server) Serve(ctx context.Context) error { return api.ErrNotSupported }
