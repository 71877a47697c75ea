package shadercomp

import (
	"github.com/gogpu/shadercomp/gpu"
	"github.com/gogpu/shadercomp/library"
)

// ManagerOption configures a Manager during creation.
//
// Example:
//
//	// Default backend (registry priority order)
//	mgr, err := shadercomp.NewManager()
//
//	// Explicit backend and a shared fragment library
//	mgr, err := shadercomp.NewManager(
//	    shadercomp.WithBackend(b),
//	    shadercomp.WithLibrary(lib),
//	)
type ManagerOption func(*managerOptions)

// managerOptions holds optional configuration for Manager creation.
type managerOptions struct {
	backend     gpu.Backend
	backendName string
	library     *library.Library
	progress    ProgressFunc
}

// defaultManagerOptions returns the default manager options.
func defaultManagerOptions() managerOptions {
	return managerOptions{
		backend: nil, // Registry default is picked if nil.
		library: nil, // A fresh empty library is created if nil.
	}
}

// WithBackend sets the GPU backend the manager compiles with. Use this
// for dependency injection; when omitted the manager asks the gpu
// registry for the best available backend.
func WithBackend(b gpu.Backend) ManagerOption {
	return func(o *managerOptions) {
		o.backend = b
	}
}

// WithBackendName selects a registered backend by name ("wgpu", "gl").
// The corresponding backend package must be imported for its side
// effects so it has registered itself; NewManager fails with
// gpu.ErrBackendNotAvailable otherwise.
func WithBackendName(name string) ManagerOption {
	return func(o *managerOptions) {
		o.backendName = name
	}
}

// WithLibrary sets the shader fragment library used to expand sources
// before compilation. Several managers may share one library.
func WithLibrary(lib *library.Library) ManagerOption {
	return func(o *managerOptions) {
		o.library = lib
	}
}

// WithProgress installs a callback fired from worker goroutines as a
// session's compile job advances. progress is in [0, 1]. The callback
// must be safe for concurrent use.
func WithProgress(fn ProgressFunc) ManagerOption {
	return func(o *managerOptions) {
		o.progress = fn
	}
}
