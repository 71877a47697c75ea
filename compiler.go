package shadercomp

import (
	"errors"
	"sync"

	"github.com/gogpu/shadercomp/gpu"
	"github.com/gogpu/shadercomp/jobs"
	"github.com/gogpu/shadercomp/library"
)

// ErrNoShader is recorded on a unit when the backend finishes a compile
// without producing a shader object on the context that must own it.
var ErrNoShader = errors.New("shadercomp: backend returned no shader object")

// request tracks one queued unit inside a compiler. The removed flag is
// set by remove while the unit is mid-compile so the worker discards
// the result instead of publishing it.
type request struct {
	unit    *Unit
	removed bool
}

// compiler drains a per-session queue of compile requests on a worker
// goroutine that owns a dedicated GPU context.
//
// Lifecycle: the manager creates a fresh compiler on every submit,
// migrates the previous compiler's pending queue and context into it,
// and installs it as the session job's data. The job frees a compiler
// by calling dispose, which finalizes the conclude list and destroys
// the context if this instance still owns it.
type compiler struct {
	backend gpu.Backend
	lib     *library.Library

	mu   sync.Mutex
	cond *sync.Cond

	// queue is drained from the tail so the newest request compiles
	// first and teardown latency stays bounded by one compile.
	queue []*request

	// conclude holds requests whose driver work finished but whose
	// shader object must be created on the owning context; they are
	// recompiled synchronously during dispose.
	conclude []*request

	// compiling is the request the worker is processing right now.
	compiling *request

	disposed bool

	ctx    gpu.Context
	ownCtx bool

	// done counts finished compiles for progress reporting. Touched
	// only by the worker goroutine.
	done int
}

func newCompiler(backend gpu.Backend, lib *library.Library) *compiler {
	c := &compiler{backend: backend, lib: lib}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// add appends a request for u to the pending queue.
func (c *compiler) add(u *Unit) {
	c.mu.Lock()
	c.queue = append(c.queue, &request{unit: u})
	c.mu.Unlock()
}

// merge steals old's pending queue and GPU context. Old keeps its
// conclude list and, having lost context ownership, will no longer
// destroy the context when disposed. Contexts are expensive; a session
// only ever creates one, however many times its job restarts.
func (c *compiler) merge(old *compiler) {
	old.mu.Lock()
	pending := old.queue
	old.queue = nil
	var ctx gpu.Context
	var own bool
	if !old.disposed {
		ctx, own = old.ctx, old.ownCtx
		old.ownCtx = false
	}
	old.mu.Unlock()

	c.mu.Lock()
	c.queue = append(pending, c.queue...)
	c.ctx = ctx
	c.ownCtx = own
	c.mu.Unlock()

	if len(pending) > 0 {
		Logger().Debug("shadercomp: migrated pending requests", "count", len(pending))
	}
}

// run is the job entry point. It drains the queue tail-first, compiling
// each unit on the dedicated context, and honors a stop request between
// units, never mid-compile.
func (c *compiler) run(s *jobs.State) {
	c.ctx.Activate()
	defer c.ctx.Release()

	for !s.Stopped() {
		c.mu.Lock()
		n := len(c.queue)
		if n == 0 {
			c.mu.Unlock()
			return
		}
		r := c.queue[n-1]
		c.queue = c.queue[:n-1]
		c.compiling = r
		remaining := len(c.queue)
		c.mu.Unlock()

		shader, err, skipped := c.compileUnit(c.ctx, r.unit)

		c.done++
		s.SetProgress(float64(c.done) / float64(c.done+remaining))

		if !skipped && c.backend.RequiresFlush() {
			c.backend.Flush(c.ctx)
		}

		c.mu.Lock()
		c.compiling = nil
		switch {
		case r.removed || skipped:
			// The remover (or a finished immediate compile) owns the
			// unit now; free the orphaned result.
			if shader != nil {
				shader.Destroy()
			}
		case err == nil && shader == nil:
			// Still queued; finalized during dispose on the owning
			// context.
			c.conclude = append(c.conclude, r)
		default:
			r.unit.finish(shader, err)
		}
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// compileUnit expands the unit's source against the library and hands
// it to the backend. The per-unit mutex serializes this against a
// forced immediate compile; if that compile won, skipped is true and
// the unit is left untouched.
func (c *compiler) compileUnit(ctx gpu.Context, u *Unit) (shader gpu.Shader, err error, skipped bool) {
	u.compileMu.Lock()
	defer u.compileMu.Unlock()

	if st := u.Status(); st == StatusSuccess || st == StatusError {
		return nil, nil, true
	}
	src := c.lib.Expand(u.source)
	shader, err = c.backend.Compile(ctx, u.name, src)
	if err != nil {
		Logger().Warn("shadercomp: compile failed", "unit", u.name, "error", err)
	}
	return shader, err, false
}

// remove withdraws u from this compiler. A pending or concluded request
// is unlinked without any GPU call; a request being compiled right now
// blocks the caller until that compile returns, then its result is
// discarded. A withdrawn unit reverts to created so it can be
// resubmitted. Never fails, and never waits longer than one compile.
func (c *compiler) remove(u *Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, r := range c.queue {
		if r.unit == u {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			u.resetIfQueued()
			return
		}
	}
	for i, r := range c.conclude {
		if r.unit == u {
			c.conclude = append(c.conclude[:i], c.conclude[i+1:]...)
			u.resetIfQueued()
			return
		}
	}
	withdrawn := false
	for c.compiling != nil && c.compiling.unit == u {
		c.compiling.removed = true
		withdrawn = true
		c.cond.Wait()
	}
	if withdrawn {
		u.resetIfQueued()
	}
}

// dispose tears the compiler down: abandoned pending requests revert
// their units to created, the conclude list is compiled synchronously
// on the dedicated context (not cancellable), and the context is
// destroyed if this instance still owns it. Called as the session job's
// free function, on the worker goroutine after run returns. Idempotent.
func (c *compiler) dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	pending := c.queue
	c.queue = nil
	conclude := c.conclude
	c.conclude = nil
	ctx, own := c.ctx, c.ownCtx
	c.mu.Unlock()

	for _, r := range pending {
		r.unit.resetIfQueued()
	}

	if len(conclude) > 0 {
		ctx.Activate()
		for _, r := range conclude {
			shader, err, skipped := c.compileUnit(ctx, r.unit)
			if skipped {
				continue
			}
			if err == nil && shader == nil {
				err = ErrNoShader
			}
			r.unit.finish(shader, err)
		}
		if c.backend.RequiresFlush() {
			c.backend.Flush(ctx)
		}
		ctx.Release()
	}

	if own {
		ctx.Destroy()
	}
}

// takeQueue empties and returns the pending queue. Used when context
// creation fails and migrated requests fall back to immediate compiles.
func (c *compiler) takeQueue() []*request {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}

// pendingLen returns the number of queued requests. Test hook.
func (c *compiler) pendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
