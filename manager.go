package shadercomp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/shadercomp/gpu"
	"github.com/gogpu/shadercomp/jobs"
	"github.com/gogpu/shadercomp/library"
)

// Manager errors.
var (
	// ErrNoBackend is returned by NewManager when no GPU backend is
	// registered and none was supplied.
	ErrNoBackend = errors.New("shadercomp: no GPU backend available")

	// ErrClosed is recorded on units submitted after Close.
	ErrClosed = errors.New("shadercomp: manager closed")
)

// compileJobKind keys the per-session compile jobs inside the job
// manager.
const compileJobKind jobs.Kind = "shader-compile"

// Session identifies where compile requests come from. Requests from
// the same window and scene share one background job, one queue and one
// dedicated GPU context. The field values must be comparable.
type Session struct {
	Window any
	Scene  any
}

// ProgressFunc receives compile progress for a session, in [0, 1].
// Called from worker goroutines.
type ProgressFunc func(sess Session, progress float64)

// Manager is the entry point for shader compilation. It owns the GPU
// backend, the fragment library and the background jobs; create one per
// application. All methods are safe for concurrent use.
type Manager struct {
	backend gpu.Backend
	lib     *library.Library
	jobs    *jobs.Manager

	mu          sync.Mutex
	closed      bool
	imageRender bool

	// submitMu serializes deferred submissions so queue migration and
	// context handover happen against a settled previous compiler.
	submitMu sync.Mutex

	// ctxMu guards the lazily created context used for immediate
	// compiles, and serializes GPU work on it.
	ctxMu sync.Mutex
	ctx   gpu.Context
}

// NewManager creates a manager. Without WithBackend the gpu registry's
// default backend is used; ErrNoBackend is returned when none is
// available.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.backend
	if backend == nil && o.backendName != "" {
		backend = gpu.Get(o.backendName)
		if backend == nil {
			return nil, fmt.Errorf("%w: %s", gpu.ErrBackendNotAvailable, o.backendName)
		}
	}
	if backend == nil {
		backend = gpu.Default()
	}
	if backend == nil {
		return nil, ErrNoBackend
	}
	propagateLogger(backend, Logger())

	lib := o.library
	if lib == nil {
		lib = library.New()
	}

	m := &Manager{
		backend: backend,
		lib:     lib,
		jobs:    jobs.NewManager(),
	}
	if o.progress != nil {
		fn := o.progress
		m.jobs.SetNotify(func(owner any, p float64) {
			if sess, ok := owner.(Session); ok {
				fn(sess, p)
			}
		})
	}

	Logger().Info("shadercomp: manager created", "backend", backend.Name())
	return m, nil
}

// Backend returns the GPU backend the manager compiles with.
func (m *Manager) Backend() gpu.Backend { return m.backend }

// Library returns the fragment library sources are expanded against.
func (m *Manager) Library() *library.Library { return m.lib }

// SetImageRender switches image-render mode. While enabled every
// compile runs synchronously, regardless of the deferred argument: a
// render that waits on its shaders anyway gains nothing from deferral.
func (m *Manager) SetImageRender(on bool) {
	m.mu.Lock()
	m.imageRender = on
	m.mu.Unlock()
}

// CompileForMaterial returns the material's compilation unit for
// variant, creating and submitting it if the cache has none. gen is
// invoked once, on this goroutine, when the unit is first created.
//
// With deferred true the unit is queued on the session's background
// job and returned in StatusQueued; poll Status. With deferred false
// the call compiles synchronously before returning, withdrawing the
// unit from any queue it is already on.
func (m *Manager) CompileForMaterial(sess Session, mat *Material, variant uint64, deferred bool, gen CodegenFunc) *Unit {
	label := unitName(mat.Name(), "material", variant)
	return m.compileFor(sess, &mat.unitCache, label, false, variant, deferred, gen)
}

// CompileForWorld is CompileForMaterial for world data blocks.
func (m *Manager) CompileForWorld(sess Session, w *World, variant uint64, deferred bool, gen CodegenFunc) *Unit {
	label := unitName(w.Name(), "world", variant)
	return m.compileFor(sess, &w.unitCache, label, true, variant, deferred, gen)
}

func (m *Manager) compileFor(sess Session, cache *unitCache, label string, world bool, variant uint64, deferred bool, gen CodegenFunc) *Unit {
	key := unitKey{world: world, variant: variant}
	u, created := cache.getOrCreate(key, func() *Unit {
		u := &Unit{name: label, world: world, variant: variant}
		src, err := gen()
		if err != nil {
			u.finish(nil, fmt.Errorf("shadercomp: codegen for %s: %w", label, err))
			return u
		}
		u.source = src
		return u
	})

	if created && u.Status() == StatusError {
		// Codegen failed; nothing to compile.
		return u
	}

	switch u.Status() {
	case StatusSuccess, StatusError:
		return u
	case StatusQueued:
		if m.deferAllowed(deferred) {
			// Already pending on some session's queue.
			return u
		}
		// Forced immediate on a queued unit: withdraw it first so the
		// result cannot race a worker compile.
		m.Remove(u)
		m.compileImmediate(u)
		return u
	default:
		// Created, either fresh or abandoned at a job teardown.
		if !u.markQueued() {
			// A concurrent caller queued it first.
			return u
		}
		if m.deferAllowed(deferred) {
			m.submitDeferred(sess, u)
		} else {
			m.compileImmediate(u)
		}
		return u
	}
}

// deferAllowed applies the image-render override to a caller's
// deferred flag.
func (m *Manager) deferAllowed(deferred bool) bool {
	if !deferred {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.imageRender && !m.closed
}

// submitDeferred queues u on the session's compile job. A fresh
// compiler is installed as the job's data on every submit; pending
// requests and the GPU context migrate over from the previous one, so
// the session never holds more than one context however many times the
// job restarts.
func (m *Manager) submitDeferred(sess Session, u *Unit) {
	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	// Close may have raced the deferAllowed check; it stops jobs while
	// holding submitMu, so after this point no job outlives it.
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		m.compileImmediate(u)
		return
	}

	job := m.jobs.Get(sess, "Compiling shaders", compileJobKind)

	comp := newCompiler(m.backend, m.lib)
	if old, ok := job.Data().(*compiler); ok && old != nil {
		comp.merge(old)
	}
	if comp.ctx == nil {
		ctx, err := m.backend.CreateContext()
		if err != nil {
			Logger().Warn("shadercomp: context creation failed, compiling synchronously", "error", err)
			for _, r := range comp.takeQueue() {
				m.compileImmediate(r.unit)
			}
			m.compileImmediate(u)
			return
		}
		comp.ctx, comp.ownCtx = ctx, true
		Logger().Info("shadercomp: created compile context", "backend", m.backend.Name())
	}
	comp.add(u)

	job.SetData(comp, func(d any) { d.(*compiler).dispose() })
	job.Start(comp.run)
}

// Remove withdraws u from every live compile job. If a worker is
// compiling u right now the call blocks until that compile returns and
// discards its result; a merely pending request is unlinked with no GPU
// call at all. The withdrawn unit reverts to created so it can be
// resubmitted. Safe to call for units that were never submitted.
func (m *Manager) Remove(u *Unit) {
	m.jobs.Range(compileJobKind, func(j *jobs.Job) bool {
		if c, ok := j.RunningData().(*compiler); ok && c != nil {
			c.remove(u)
		}
		if c, ok := j.Data().(*compiler); ok && c != nil {
			c.remove(u)
		}
		return true
	})
}

// compileImmediate compiles u synchronously on the manager's own
// context, creating it on first use.
func (m *Manager) compileImmediate(u *Unit) {
	u.compileMu.Lock()
	defer u.compileMu.Unlock()

	if st := u.Status(); st == StatusSuccess || st == StatusError {
		return
	}

	shader, err := m.compileSource(u.name, u.source)
	u.finish(shader, err)
}

// CompileAdHoc synchronously compiles a standalone, library-expanded
// shader outside any data-block cache. Render passes use it for
// utility shaders that are not driven by a node graph.
func (m *Manager) CompileAdHoc(name, source string) (gpu.Shader, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return m.compileSource(name, source)
}

// compileSource expands source against the library and compiles it on
// the manager context.
func (m *Manager) compileSource(name, source string) (gpu.Shader, error) {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()

	if m.ctx == nil {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		ctx, err := m.backend.CreateContext()
		if err != nil {
			return nil, fmt.Errorf("shadercomp: create context: %w", err)
		}
		m.ctx = ctx
	}

	m.ctx.Activate()
	defer m.ctx.Release()

	shader, err := m.backend.Compile(m.ctx, name, m.lib.Expand(source))
	if m.backend.RequiresFlush() {
		m.backend.Flush(m.ctx)
	}
	if err != nil {
		return nil, err
	}
	if shader == nil {
		// The manager context owns its shader objects; a deferred
		// finalize cannot happen here.
		return nil, ErrNoShader
	}
	return shader, nil
}

// Close stops every compile job, waits for the workers, finalizes
// conclude lists and destroys all contexts. Units still pending revert
// to StatusCreated. The manager must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	// Hold submitMu so an in-flight submit either lands before StopAll
	// or observes closed and compiles synchronously.
	m.submitMu.Lock()
	m.jobs.StopAll()
	m.submitMu.Unlock()

	m.ctxMu.Lock()
	if m.ctx != nil {
		m.ctx.Destroy()
		m.ctx = nil
	}
	m.ctxMu.Unlock()

	Logger().Info("shadercomp: manager closed")
}
