// Package api
// Author: momentics
//
// Live debug introspection of a running server.

package api

// Debug exposes named probes sampled on demand.
type Debug interface {
	// DumpState runs every probe and returns their outputs by name.
	DumpState() map[string]any

	// RegisterProbe adds or replaces a named probe.
	RegisterProbe(name string, fn func() any)
}
