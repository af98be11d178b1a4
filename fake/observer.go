// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import "sync"

// Event is one recorded observation.
type Event struct {
	Name   string
	Fields map[string]any
}

// Observer records every event it receives.
type Observer struct {
	mu     sync.Mutex
	events []Event
}

func (o *Observer) Observe(event string, fields map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, Event{Name: event, Fields: fields})
}

// Events returns the recorded events.
func (o *Observer) Events() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...)
}

// Count returns how many events named name were recorded.
func (o *Observer) Count(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.events {
		if e.Name == name {
			n++
		}
	}
	return n
}
