// Package library implements a small include system for shader source
// fragments.
//
// A Library holds up to 64 named fragments. A fragment declares its
// dependencies inline with requires(name) directives referring to fragments
// that were registered before it. Expand resolves the transitive dependency
// set of a piece of shader code and concatenates every required fragment,
// in registration order, ahead of the code itself.
//
// Registration order is the contract: each fragment must be registered
// after everything it requires. Forward references are reported and
// skipped, never silently satisfied later.
package library

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Registration limits. MaxFragments is 64 because dependency sets are
// tracked as bits of a uint64.
const (
	MaxFragments = 64

	// directive is the in-source marker requesting inclusion of another
	// named fragment, e.g. requires(math_lib).
	directive = "requires("
)

// Registration errors. Both are non-fatal: callers typically log and
// continue with a partial library.
var (
	// ErrRegistryFull is returned when all fragment slots are taken.
	ErrRegistryFull = errors.New("library: fragment registry is full")

	// ErrUnknownDependency is returned when a fragment requires a name
	// that has not been registered yet. The fragment is still stored;
	// the missing dependency is simply not part of its dependency set.
	ErrUnknownDependency = errors.New("library: dependency not registered")
)

// fragment is one stored library entry. Dependencies are a bitmask over
// slot indices of fragments registered earlier.
type fragment struct {
	name   string
	source string
	deps   uint64
}

// Library is a fixed-capacity registry of shader source fragments.
//
// Library is safe for concurrent use. Register takes the write lock;
// Expand only reads.
type Library struct {
	mu    sync.RWMutex
	frags [MaxFragments]fragment
	count int
}

// New creates an empty Library.
func New() *Library {
	return &Library{}
}

// Register stores a named source fragment in the next free slot.
//
// The source is scanned for requires(name) directives; each one must name
// an already-registered fragment. Unknown names are logged and excluded
// from the dependency set (the fragment itself is still registered).
// A full registry rejects the fragment entirely.
func (l *Library) Register(name, source string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count >= MaxFragments {
		slogger().Warn("library: cannot register fragment, registry full",
			"name", name, "max", MaxFragments)
		return fmt.Errorf("%w: cannot add %q", ErrRegistryFull, name)
	}

	deps, missing := l.dependencies(source)
	l.frags[l.count] = fragment{name: name, source: source, deps: deps}
	l.count++

	if len(missing) > 0 {
		// Usually bad registration ordering, or a builtin being overridden.
		slogger().Warn("library: fragment has unresolved dependencies",
			"name", name, "missing", missing)
		return fmt.Errorf("%w: %s requires %s",
			ErrUnknownDependency, name, strings.Join(missing, ", "))
	}
	return nil
}

// Expand resolves the transitive dependency set of source and returns the
// concatenation of every required fragment, in ascending registration
// order, followed by source itself. Each fragment appears at most once,
// no matter how many dependents reference it.
func (l *Library) Expand(source string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	deps, _ := l.dependencies(source)

	// Transitive closure in one backward pass: a fragment's dependencies
	// are always registered before it, so visiting slots in reverse
	// registration order accumulates the full set.
	for i := l.count - 1; i >= 0; i-- {
		if deps&(1<<uint(i)) != 0 {
			deps |= l.frags[i].deps
		}
	}

	var sb strings.Builder
	for i := 0; i < l.count && deps != 0; i++ {
		if deps&(1<<uint(i)) != 0 {
			sb.WriteString(l.frags[i].source)
			deps &^= 1 << uint(i)
		}
	}
	sb.WriteString(source)
	return sb.String()
}

// Len returns the number of registered fragments.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Contains reports whether a fragment with the given name is registered.
func (l *Library) Contains(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lookup(name) >= 0
}

// lookup returns the slot index for name, or -1. Caller holds l.mu.
func (l *Library) lookup(name string) int {
	for i := 0; i < l.count; i++ {
		if l.frags[i].name == name {
			return i
		}
	}
	return -1
}

// dependencies scans source for requires(name) directives and returns the
// bitmask of resolved slots plus the names that did not resolve.
// Caller holds l.mu.
func (l *Library) dependencies(source string) (deps uint64, missing []string) {
	rest := source
	for {
		idx := strings.Index(rest, directive)
		if idx < 0 {
			return deps, missing
		}
		rest = rest[idx+len(directive):]
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			// Unterminated directive, nothing more to resolve.
			return deps, missing
		}
		name := strings.TrimSpace(rest[:end])
		rest = rest[end+1:]

		if slot := l.lookup(name); slot >= 0 {
			deps |= 1 << uint(slot)
		} else {
			missing = append(missing, name)
		}
	}
}
