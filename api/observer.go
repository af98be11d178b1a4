// File: api/observer.go
// Author: momentics <momentics@gmail.com>
//
// Structured event reporting contract. The protocol engine reports what it
// does through an Observer; correctness never depends on one being set.

package api

// Observer receives named events with structured fields.
type Observer interface {
	Observe(event string, fields map[string]any)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(event string, fields map[string]any)

// Observe calls f.
func (f ObserverFunc) Observe(event string, fields map[string]any) {
	f(event, fields)
}
