// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe runtime configuration store with reload propagation.

package control

import (
	"sync"
)

// ConfigStore is a dynamic key/value map with snapshot reads and reload hooks.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store, optionally seeded.
func NewConfigStore(initial map[string]any) *ConfigStore {
	cs := &ConfigStore{config: make(map[string]any, len(initial))}
	for k, v := range initial {
		cs.config[k] = v
	}
	return cs
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Get returns a single value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// SetConfig merges new values and runs the reload hooks synchronously, in
// registration order, after the store is unlocked.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	hooks := append([]func(){}, cs.listeners...)
	cs.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
