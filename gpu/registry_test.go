package gpu

import "testing"

// stubBackend is a minimal Backend for registry tests.
type stubBackend struct{ name string }

func (s *stubBackend) Name() string                                  { return s.name }
func (s *stubBackend) CreateContext() (Context, error)               { return nil, ErrBackendNotAvailable }
func (s *stubBackend) Compile(Context, string, string) (Shader, error) { return nil, ErrBackendNotAvailable }
func (s *stubBackend) RequiresFlush() bool                           { return false }
func (s *stubBackend) Flush(Context)                                 {}

func register(t *testing.T, name string, b Backend) {
	t.Helper()
	Register(name, func() Backend { return b })
	t.Cleanup(func() { Unregister(name) })
}

func TestRegisterAndGet(t *testing.T) {
	b := &stubBackend{name: "stub"}
	register(t, "stub", b)

	if !IsRegistered("stub") {
		t.Error("IsRegistered false after Register")
	}
	if got := Get("stub"); got != Backend(b) {
		t.Errorf("Get returned %v, want the registered backend", got)
	}
	if Get("missing") != nil {
		t.Error("Get of unknown name returned a backend")
	}

	found := false
	for _, name := range Available() {
		if name == "stub" {
			found = true
		}
	}
	if !found {
		t.Error("Available does not list the registered backend")
	}
}

func TestDefaultPrefersPriorityOrder(t *testing.T) {
	wb := &stubBackend{name: BackendWGPU}
	gb := &stubBackend{name: BackendGL}
	register(t, BackendGL, gb)
	register(t, BackendWGPU, wb)

	if got := Default(); got != Backend(wb) {
		t.Errorf("Default returned %v, want the wgpu backend", got)
	}

	Unregister(BackendWGPU)
	if got := Default(); got != Backend(gb) {
		t.Errorf("Default without wgpu returned %v, want the gl backend", got)
	}
}

func TestDefaultFallsBackToAnyAvailable(t *testing.T) {
	b := &stubBackend{name: "exotic"}
	register(t, "exotic", b)

	if got := Default(); got != Backend(b) {
		t.Errorf("Default returned %v, want the only registered backend", got)
	}
}

func TestDefaultSkipsNilFactories(t *testing.T) {
	Register(BackendWGPU, func() Backend { return nil })
	t.Cleanup(func() { Unregister(BackendWGPU) })
	gb := &stubBackend{name: BackendGL}
	register(t, BackendGL, gb)

	if got := Default(); got != Backend(gb) {
		t.Errorf("Default returned %v, want the gl backend past a nil factory", got)
	}
}

func TestMustDefaultPanicsWhenEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustDefault did not panic with an empty registry")
		}
	}()
	MustDefault()
}
