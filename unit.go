package shadercomp

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/shadercomp/gpu"
)

// Status is the lifecycle state of a compilation unit.
//
// Units move created → queued → success or error. A unit that is being
// compiled right now is externally observed as queued; there is no
// separate compiling state.
type Status int32

const (
	// StatusCreated means the unit exists but was never submitted.
	StatusCreated Status = iota

	// StatusQueued means the unit is pending or currently compiling.
	StatusQueued

	// StatusSuccess means compilation produced a usable shader.
	StatusSuccess

	// StatusError means compilation failed; see Unit.Err.
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusQueued:
		return "queued"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// CodegenFunc generates shader source for a unit. It is invoked exactly
// once, when the unit is first created, on the submitting goroutine.
type CodegenFunc func() (string, error)

// Unit is one cached shader variant of a data block.
//
// Units are created and cached by Manager.CompileForMaterial and
// Manager.CompileForWorld; callers poll Status and read Shader once it
// reports StatusSuccess. All methods are safe for concurrent use.
type Unit struct {
	name    string
	world   bool
	variant uint64
	source  string

	status atomic.Int32

	// compileMu serializes a forced immediate compile against a
	// concurrent worker compile of the same unit.
	compileMu sync.Mutex

	mu     sync.Mutex
	shader gpu.Shader
	err    error
}

// Name returns the unit's label, derived from the owning data block and
// variant. Backends attach it to the GPU shader object.
func (u *Unit) Name() string { return u.name }

// Variant returns the variant key the unit was compiled for.
func (u *Unit) Variant() uint64 { return u.variant }

// IsWorld reports whether the unit was requested for world use.
func (u *Unit) IsWorld() bool { return u.world }

// Status returns the unit's current lifecycle state.
func (u *Unit) Status() Status { return Status(u.status.Load()) }

// Shader returns the compiled shader, non-nil if and only if Status is
// StatusSuccess.
func (u *Unit) Shader() gpu.Shader {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.shader
}

// Err returns the recorded compile or codegen error, non-nil if and
// only if Status is StatusError.
func (u *Unit) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// finish records a compile result and moves the unit to its final
// state. The shader/err pair is stored before the status flips so a
// caller that observes success always sees the handle.
func (u *Unit) finish(s gpu.Shader, err error) {
	u.mu.Lock()
	if err != nil {
		u.err = err
	} else {
		u.shader = s
	}
	u.mu.Unlock()
	if err != nil {
		u.status.Store(int32(StatusError))
	} else {
		u.status.Store(int32(StatusSuccess))
	}
}

// markQueued flips created → queued. Returns false if the unit was not
// in the created state.
func (u *Unit) markQueued() bool {
	return u.status.CompareAndSwap(int32(StatusCreated), int32(StatusQueued))
}

// resetIfQueued flips queued → created, used when a pending request is
// abandoned at teardown so a later submit can queue the unit again.
func (u *Unit) resetIfQueued() {
	u.status.CompareAndSwap(int32(StatusQueued), int32(StatusCreated))
}

// destroy releases the compiled shader, if any.
func (u *Unit) destroy() {
	u.mu.Lock()
	s := u.shader
	u.shader = nil
	u.mu.Unlock()
	if s != nil {
		s.Destroy()
	}
}
