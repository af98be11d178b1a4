// File: api/control.go
// Package api defines Control interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control manages runtime configuration, counters and debug probes of a
// running server.
type Control interface {
	// GetConfig returns a snapshot of the runtime configuration.
	GetConfig() map[string]any

	// SetConfig merges cfg into the runtime configuration and runs reload hooks.
	SetConfig(cfg map[string]any) error

	// OnReload registers a hook invoked after every SetConfig.
	OnReload(fn func())

	// IncMetric adds delta to a named counter.
	IncMetric(key string, delta int64)

	// Stats merges counters and probe outputs ("debug." prefixed).
	Stats() map[string]any

	RegisterDebugProbe(name string, fn func() any)
}
