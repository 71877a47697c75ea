package shadercomp

import (
	"fmt"
	"sync"
)

// unitKey identifies one shader variant within a data block's cache.
type unitKey struct {
	world   bool
	variant uint64
}

// unitCache is the per-data-block cache of compilation units. It is
// embedded by Material and World.
type unitCache struct {
	mu    sync.Mutex
	units map[unitKey]*Unit
}

// lookup returns the cached unit for key, or nil.
func (c *unitCache) lookup(key unitKey) *Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.units[key]
}

// getOrCreate returns the cached unit for key, creating it via create
// if none exists. create runs under the cache lock so concurrent
// requests for the same variant invoke codegen exactly once. The
// second result reports whether the unit was created by this call.
func (c *unitCache) getOrCreate(key unitKey, create func() *Unit) (*Unit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.units[key]; ok {
		return u, false
	}
	if c.units == nil {
		c.units = make(map[unitKey]*Unit)
	}
	u := create()
	c.units[key] = u
	return u, true
}

// drain empties the cache and returns the removed units.
func (c *unitCache) drain() []*Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Unit, 0, len(c.units))
	for _, u := range c.units {
		out = append(out, u)
	}
	c.units = nil
	return out
}

// clearCache removes every cached unit: each is withdrawn from the
// manager's compilers first, then its shader is destroyed. Blocks while
// a unit is mid-compile, like Manager.Remove.
func (c *unitCache) clearCache(m *Manager) {
	for _, u := range c.drain() {
		if m != nil {
			m.Remove(u)
		}
		u.destroy()
	}
}

// Material is a data block whose node graph compiles into shaders.
// The zero value is not usable; create instances with NewMaterial.
type Material struct {
	name string
	unitCache
}

// NewMaterial creates a material data block.
func NewMaterial(name string) *Material {
	return &Material{name: name}
}

// Name returns the material's name.
func (m *Material) Name() string { return m.name }

// ClearCache drops every cached compilation unit, withdrawing each from
// the manager's compile queues and destroying compiled shaders. Call it
// when the material's node graph changes.
func (m *Material) ClearCache(mgr *Manager) {
	m.clearCache(mgr)
}

// World is a data block describing the environment shading.
// The zero value is not usable; create instances with NewWorld.
type World struct {
	name string
	unitCache
}

// NewWorld creates a world data block.
func NewWorld(name string) *World {
	return &World{name: name}
}

// Name returns the world's name.
func (w *World) Name() string { return w.name }

// ClearCache drops every cached compilation unit, like
// Material.ClearCache.
func (w *World) ClearCache(mgr *Manager) {
	w.clearCache(mgr)
}

// unitName builds the label a unit's shader object carries.
func unitName(block, kind string, variant uint64) string {
	return fmt.Sprintf("%s_%s_%x", kind, block, variant)
}
