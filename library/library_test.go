package library

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRegisterAndExpandOrder(t *testing.T) {
	lib := New()

	srcA := "fn a() {}\n"
	srcB := "// requires(a)\nfn b() {}\n"

	if err := lib.Register("a", srcA); err != nil {
		t.Fatalf("Register(a) failed: %v", err)
	}
	if err := lib.Register("b", srcB); err != nil {
		t.Fatalf("Register(b) failed: %v", err)
	}

	code := "// requires(b)\nfn main() {}\n"
	got := lib.Expand(code)
	want := srcA + srcB + code
	if got != want {
		t.Errorf("Expand returned wrong concatenation:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestExpandNoDependencies(t *testing.T) {
	lib := New()
	if err := lib.Register("a", "fn a() {}\n"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	code := "fn main() {}\n"
	if got := lib.Expand(code); got != code {
		t.Errorf("Expand of dependency-free code should be identity, got:\n%s", got)
	}
}

func TestExpandTransitiveDuplicateFree(t *testing.T) {
	lib := New()

	frags := []struct{ name, source string }{
		{"math", "fn math() {}\n"},
		{"noise", "// requires(math)\nfn noise() {}\n"},
		{"sdf", "// requires(math)\n// requires(noise)\nfn sdf() {}\n"},
	}
	for _, f := range frags {
		if err := lib.Register(f.name, f.source); err != nil {
			t.Fatalf("Register(%s) failed: %v", f.name, err)
		}
	}

	// Both noise and sdf require math; math must appear exactly once,
	// and everything in registration order.
	code := "// requires(noise)\n// requires(sdf)\nfn main() {}\n"
	got := lib.Expand(code)
	want := frags[0].source + frags[1].source + frags[2].source + code
	if got != want {
		t.Errorf("transitive expansion wrong:\ngot:\n%s\nwant:\n%s", got, want)
	}
	if n := strings.Count(got, "fn math()"); n != 1 {
		t.Errorf("shared dependency included %d times, want 1", n)
	}
}

func TestRegisterUnknownDependency(t *testing.T) {
	lib := New()

	err := lib.Register("b", "// requires(missing)\nfn b() {}\n")
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}

	// The fragment itself is still registered.
	if !lib.Contains("b") {
		t.Error("fragment with missing dependency should still be registered")
	}

	// Registering the dependency afterwards must not retroactively attach
	// it: forward references degrade gracefully, never resolve late.
	if err := lib.Register("missing", "fn missing() {}\n"); err != nil {
		t.Fatalf("Register(missing) failed: %v", err)
	}
	got := lib.Expand("// requires(b)\nfn main() {}\n")
	if strings.Contains(got, "fn missing()") {
		t.Error("forward-referenced dependency leaked into Expand output")
	}
}

func TestRegisterRegistryFull(t *testing.T) {
	lib := New()
	for i := 0; i < MaxFragments; i++ {
		name := fmt.Sprintf("frag%02d", i)
		if err := lib.Register(name, "fn f() {}\n"); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}
	if lib.Len() != MaxFragments {
		t.Fatalf("expected %d fragments, got %d", MaxFragments, lib.Len())
	}

	err := lib.Register("overflow", "fn g() {}\n")
	if !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}
	if lib.Contains("overflow") {
		t.Error("fragment registered past capacity")
	}
	if lib.Len() != MaxFragments {
		t.Errorf("Len changed after rejected registration: %d", lib.Len())
	}
}

func TestExpandHighSlots(t *testing.T) {
	// Dependencies above bit 31 exercise the full uint64 mask.
	lib := New()
	for i := 0; i < 40; i++ {
		if err := lib.Register(fmt.Sprintf("pad%02d", i), "// pad\n"); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	if err := lib.Register("high", "fn high() {}\n"); err != nil {
		t.Fatalf("Register(high) failed: %v", err)
	}

	got := lib.Expand("// requires(high)\nfn main() {}\n")
	if !strings.Contains(got, "fn high()") {
		t.Error("fragment in slot >= 32 not included")
	}
	if strings.Contains(got, "// pad") {
		t.Error("unrelated fragments included")
	}
}

func TestDirectiveParsing(t *testing.T) {
	lib := New()
	if err := lib.Register("dep", "fn dep() {}\n"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tests := []struct {
		name    string
		code    string
		include bool
	}{
		{"plain", "// requires(dep)\n", true},
		{"spaces", "// requires( dep )\n", true},
		{"unterminated", "// requires(dep\n", false},
		{"wrong name", "// requires(dop)\n", false},
		{"no directive", "fn main() {}\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lib.Expand(tt.code)
			if has := strings.Contains(got, "fn dep()"); has != tt.include {
				t.Errorf("included=%v, want %v", has, tt.include)
			}
		})
	}
}
