// File: adapters/observer_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
//
// api.Observer sinks: log output, metric counters and fan-out.

package adapters

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/momentics/wsengine/api"
)

// LogObserver prints every event as "[ws] event k=v ..." with sorted keys.
type LogObserver struct {
	Logger *log.Logger
	// Skip drops events for which it returns true.
	Skip func(event string) bool
}

// NewLogObserver logs through l, or to stderr when l is nil.
func NewLogObserver(l *log.Logger) *LogObserver {
	if l == nil {
		l = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &LogObserver{Logger: l}
}

func (o *LogObserver) Observe(event string, fields map[string]any) {
	if o.Skip != nil && o.Skip(event) {
		return
	}
	o.Logger.Print(formatEvent(event, fields))
}

func formatEvent(event string, fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("[ws] ")
	b.WriteString(event)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// MetricsObserver counts events into Control as "events.<name>".
type MetricsObserver struct {
	Control api.Control
}

func (o MetricsObserver) Observe(event string, _ map[string]any) {
	o.Control.IncMetric("events."+event, 1)
}

// MultiObserver fans an event out to every non-nil observer.
type MultiObserver []api.Observer

func (m MultiObserver) Observe(event string, fields map[string]any) {
	for _, o := range m {
		if o != nil {
			o.Observe(event, fields)
		}
	}
}

// Observers combines observers, dropping nils. It returns nil when none remain.
func Observers(obs ...api.Observer) api.Observer {
	out := make(MultiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
