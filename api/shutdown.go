// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// GracefulShutdown is implemented by components that drain their peers
// before releasing resources.
type GracefulShutdown interface {
	// Shutdown stops accepting work, closes peers and waits at most
	// timeout for the component to stop. It returns ErrOperationTimeout
	// when the wait expires.
	Shutdown(timeout time.Duration) error
}
