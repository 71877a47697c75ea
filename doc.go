// Package shadercomp compiles GPU shaders for material and world data
// blocks, either synchronously or deferred on a background worker.
//
// # Overview
//
// Generating and compiling a node-graph shader can take long enough to
// stall an interactive viewport. shadercomp hides that latency: a
// compilation request is queued on a per-session background job that
// owns a dedicated GPU context, and the caller keeps rendering with a
// fallback until the unit's status flips to success.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/shadercomp"
//	    _ "github.com/gogpu/shadercomp/backend/wgpu"
//	)
//
//	mgr, err := shadercomp.NewManager()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	sess := shadercomp.Session{Window: win, Scene: scene}
//	unit := mgr.CompileForMaterial(sess, mat, variant, true, genFunc)
//	// ... keep drawing; later:
//	if unit.Status() == shadercomp.StatusSuccess {
//	    use(unit.Shader())
//	}
//
// # Architecture
//
// The library is organized into:
//   - Public API: Manager, Session, Material, World, Unit
//   - library/: shader fragment registry with requires() dependency expansion
//   - gpu/: backend boundary (Backend, Context, Shader) and registry
//   - backend/: concrete backends (wgpu via gogpu/naga+gogpu/wgpu, gl via go-gl)
//   - jobs/: background job substrate with restart-and-migrate semantics
//
// # Concurrency
//
// All Manager and Unit methods are safe for concurrent use. Each
// session (window, scene pair) gets at most one live compile job; its
// worker serializes GPU work on a context the job owns. Removing a unit
// that is being compiled blocks until that compile returns, never
// longer.
package shadercomp

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
