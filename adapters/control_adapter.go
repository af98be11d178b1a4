// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control interface using control package primitives.

package adapters

import (
	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/control"
)

type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

// NewControlAdapter builds a Control seeded with initial config values and
// the platform debug probes.
func NewControlAdapter(initial map[string]any) *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(initial),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

var _ api.Control = (*ControlAdapter)(nil)

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	if cfg == nil {
		return api.ErrInvalidArgument
	}
	c.config.SetConfig(cfg)
	return nil
}

// Stats merges counters with probe output under the "debug." prefix.
func (c *ControlAdapter) Stats() map[string]any {
	stats := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats))
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
}

func (c *ControlAdapter) IncMetric(key string, delta int64) {
	c.metrics.Add(key, delta)
}

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

// Debug exposes the probe registry.
func (c *ControlAdapter) Debug() api.Debug { return c.debug }

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}
