//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "errors"

// ErrUnsupported is returned by NewReactor outside Linux.
var ErrUnsupported = errors.New("reactor: this platform is not supported")

// NewReactor returns an error for unsupported platforms.
func NewReactor() (EventReactor, error) {
	return nil, ErrUnsupported
}
