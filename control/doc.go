// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, metrics and debug introspection for the server.
//
// Provides concurrent-safe primitives:
//   - Snapshot config reads with synchronous reload hooks
//   - Named int64 counters and gauges
//   - Debug probe registration
package control
