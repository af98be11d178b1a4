// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface for readiness-driven IO.

package reactor

// EventType is a bit set of readiness conditions.
type EventType uint32

const (
	EventRead EventType = 1 << iota
	EventWrite
	// EventError covers hangup and socket errors; it is always reported
	// and never needs to be requested.
	EventError
)

// Has reports whether all bits of t are set in e.
func (e EventType) Has(t EventType) bool { return e&t == t }

// EventReactor defines basic reactor operations. Registrations are
// level-triggered.
type EventReactor interface {
	// Register starts watching fd for events.
	Register(fd uintptr, events EventType) error

	// Modify replaces the watched event set of fd.
	Modify(fd uintptr, events EventType) error

	// Unregister stops watching fd.
	Unregister(fd uintptr) error

	// Wait blocks for at most timeoutMs milliseconds (-1 blocks forever)
	// and writes ready events into events. An interrupted wait returns 0, nil.
	Wait(events []Event, timeoutMs int) (n int, err error)

	// Close releases the reactor.
	Close() error
}

// Event contains event information returned by Wait call.
type Event struct {
	Fd     uintptr
	Events EventType
}
