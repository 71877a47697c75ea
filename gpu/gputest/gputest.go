// Package gputest provides a controllable fake gpu.Backend for tests.
//
// The fake records every context and compile, can fail or park specific
// compiles, and can block a compile on a Gate so tests can observe the
// exact moment a unit is mid-compile.
package gputest

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/shadercomp/gpu"
)

// Compile records one Compile call.
type Compile struct {
	Name   string
	Source string
}

// Backend is a fake gpu.Backend.
//
// The zero value is not usable; create instances with New. All methods are
// safe for concurrent use.
type Backend struct {
	mu       sync.Mutex
	contexts []*Context
	compiles []Compile
	fail     map[string]error
	conclude map[string]int
	gates    map[string]*Gate

	requiresFlush bool
	flushes       atomic.Int64
}

// New creates a fake backend.
func New() *Backend {
	return &Backend{
		fail:     make(map[string]error),
		conclude: make(map[string]int),
		gates:    make(map[string]*Gate),
	}
}

// Name implements gpu.Backend.
func (b *Backend) Name() string { return "fake" }

// CreateContext implements gpu.Backend.
func (b *Backend) CreateContext() (gpu.Context, error) {
	ctx := &Context{}
	b.mu.Lock()
	b.contexts = append(b.contexts, ctx)
	b.mu.Unlock()
	return ctx, nil
}

// Compile implements gpu.Backend. It honors, in order: a Gate registered
// for name (blocks until released), a failure registered via FailWith,
// and a deferred-conclusion count registered via ConcludeLater.
func (b *Backend) Compile(ctx gpu.Context, name, source string) (gpu.Shader, error) {
	c := ctx.(*Context)
	if c.destroyed.Load() {
		panic("gputest: compile on destroyed context")
	}
	if !c.active.Load() {
		panic("gputest: compile on inactive context")
	}

	b.mu.Lock()
	gate := b.gates[name]
	b.mu.Unlock()
	if gate != nil {
		gate.enter()
	}

	b.mu.Lock()
	b.compiles = append(b.compiles, Compile{Name: name, Source: source})
	if err := b.fail[name]; err != nil {
		b.mu.Unlock()
		return nil, err
	}
	if n := b.conclude[name]; n > 0 {
		b.conclude[name] = n - 1
		b.mu.Unlock()
		return nil, nil
	}
	b.mu.Unlock()

	return &Shader{name: name}, nil
}

// RequiresFlush implements gpu.Backend.
func (b *Backend) RequiresFlush() bool { return b.requiresFlush }

// Flush implements gpu.Backend.
func (b *Backend) Flush(gpu.Context) { b.flushes.Add(1) }

// SetRequiresFlush makes the fake demand a flush after every compile.
func (b *Backend) SetRequiresFlush(v bool) { b.requiresFlush = v }

// FailWith makes every compile of name return err.
func (b *Backend) FailWith(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[name] = err
}

// ConcludeLater makes the next n compiles of name return (nil, nil),
// signalling that the shader object must be created at context teardown.
func (b *Backend) ConcludeLater(name string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conclude[name] = n
}

// Gate registers and returns a gate that blocks the next compile of name
// until released.
func (b *Backend) Gate(name string) *Gate {
	g := &Gate{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	b.mu.Lock()
	b.gates[name] = g
	b.mu.Unlock()
	return g
}

// Compiles returns a copy of all recorded compile calls, in order.
func (b *Backend) Compiles() []Compile {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Compile, len(b.compiles))
	copy(out, b.compiles)
	return out
}

// CompileCount returns how many times name was compiled.
func (b *Backend) CompileCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.compiles {
		if c.Name == name {
			n++
		}
	}
	return n
}

// TotalCompiles returns the total number of Compile calls.
func (b *Backend) TotalCompiles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.compiles)
}

// Flushes returns the number of Flush calls.
func (b *Backend) Flushes() int { return int(b.flushes.Load()) }

// ContextCount returns how many contexts were ever created.
func (b *Backend) ContextCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contexts)
}

// LiveContexts returns how many created contexts are not yet destroyed.
func (b *Backend) LiveContexts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.contexts {
		if !c.destroyed.Load() {
			n++
		}
	}
	return n
}

// Context is a fake gpu.Context.
type Context struct {
	active    atomic.Bool
	destroyed atomic.Bool
}

// Activate implements gpu.Context.
func (c *Context) Activate() {
	if c.destroyed.Load() {
		panic("gputest: activate on destroyed context")
	}
	c.active.Store(true)
}

// Release implements gpu.Context.
func (c *Context) Release() { c.active.Store(false) }

// Destroy implements gpu.Context. Destroying twice panics, mirroring how
// a double context teardown would blow up a real driver.
func (c *Context) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		panic("gputest: context destroyed twice")
	}
	c.active.Store(false)
}

// Destroyed reports whether Destroy was called.
func (c *Context) Destroyed() bool { return c.destroyed.Load() }

// Shader is a fake gpu.Shader.
type Shader struct {
	name      string
	destroyed atomic.Bool
}

// Name returns the name the shader was compiled under.
func (s *Shader) Name() string { return s.name }

// Destroy implements gpu.Shader.
func (s *Shader) Destroy() { s.destroyed.Store(true) }

// Destroyed reports whether Destroy was called.
func (s *Shader) Destroyed() bool { return s.destroyed.Load() }

// Gate blocks one compile until released.
type Gate struct {
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

// enter is called by Backend.Compile.
func (g *Gate) enter() {
	g.startOnce.Do(func() { close(g.started) })
	<-g.release
}

// Started is closed once the gated compile has begun.
func (g *Gate) Started() <-chan struct{} { return g.started }

// Release lets the gated compile proceed. Safe to call once.
func (g *Gate) Release() { close(g.release) }
