// Package gpu defines the backend boundary for shader compilation.
//
// A Backend compiles shader source into GPU shader objects and manages the
// dedicated rendering contexts the deferred compiler runs its worker on.
// Concrete implementations live under backend/ (wgpu, gl) and register
// themselves here; tests use the controllable fake in gpu/gputest.
package gpu

import "errors"

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("gpu: backend not available")

	// ErrContextDestroyed is returned when operations are attempted on a
	// destroyed context.
	ErrContextDestroyed = errors.New("gpu: context destroyed")
)

// Context is a dedicated rendering context, distinct from whatever context
// the host application renders with. The deferred compiler creates one per
// worker so background compiles never contend with interactive rendering.
//
// A context must be activated on the goroutine that issues GPU calls and
// released before another goroutine may activate it. Destroy must be
// called exactly once, by the owning compiler instance.
type Context interface {
	// Activate binds the context to the calling goroutine.
	Activate()

	// Release unbinds the context from the calling goroutine.
	Release()

	// Destroy frees the context. Implementations activate internally
	// first if the driver requires it.
	Destroy()
}

// Shader is a compiled GPU shader object.
type Shader interface {
	// Destroy releases the GPU object.
	Destroy()
}

// Backend compiles shader source and manages contexts.
//
// Implementations must allow Compile to be called concurrently on
// different contexts; the deferred compiler serializes compiles per
// context on its own.
type Backend interface {
	// Name returns the backend identifier (e.g. "wgpu", "gl").
	Name() string

	// CreateContext creates a new dedicated rendering context.
	// Called from the submitting goroutine, not the worker.
	CreateContext() (Context, error)

	// Compile compiles source into a shader object on the given context,
	// which must be active on the calling goroutine.
	//
	// A nil Shader with a nil error means the driver work completed but
	// the shader object itself must be created on the context that will
	// own it; the caller retries the compile during context teardown.
	Compile(ctx Context, name, source string) (Shader, error)

	// RequiresFlush reports whether command buffering must be flushed
	// after each compile so other contexts observe the results.
	RequiresFlush() bool

	// Flush flushes pending GPU commands on the given context.
	Flush(ctx Context)
}
