package shadercomp

import (
	"errors"
	"testing"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusCreated, "created"},
		{StatusQueued, "queued"},
		{StatusSuccess, "success"},
		{StatusError, "error"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestUnitStatusTransitions(t *testing.T) {
	u := &Unit{name: "u"}
	if got := u.Status(); got != StatusCreated {
		t.Fatalf("fresh unit status = %v, want created", got)
	}

	if !u.markQueued() {
		t.Fatal("markQueued failed on a created unit")
	}
	if u.markQueued() {
		t.Error("markQueued succeeded twice")
	}

	u.resetIfQueued()
	if got := u.Status(); got != StatusCreated {
		t.Errorf("status after reset = %v, want created", got)
	}

	u.markQueued()
	u.finish(nil, errors.New("boom"))
	if got := u.Status(); got != StatusError {
		t.Errorf("status after failed finish = %v, want error", got)
	}
	u.resetIfQueued()
	if got := u.Status(); got != StatusError {
		t.Error("resetIfQueued touched a finished unit")
	}
}

func TestUnitCacheKeysOnWorldAndVariant(t *testing.T) {
	var c unitCache

	mk := func(name string) func() *Unit {
		return func() *Unit { return &Unit{name: name} }
	}

	a, created := c.getOrCreate(unitKey{world: false, variant: 1}, mk("a"))
	if !created {
		t.Fatal("first getOrCreate did not create")
	}
	b, created := c.getOrCreate(unitKey{world: false, variant: 1}, mk("b"))
	if created || b != a {
		t.Error("same key did not return the cached unit")
	}
	w, created := c.getOrCreate(unitKey{world: true, variant: 1}, mk("w"))
	if !created || w == a {
		t.Error("world flag not part of the cache key")
	}
	v, created := c.getOrCreate(unitKey{world: false, variant: 2}, mk("v"))
	if !created || v == a {
		t.Error("variant not part of the cache key")
	}

	if got := len(c.drain()); got != 3 {
		t.Errorf("drain returned %d units, want 3", got)
	}
	if c.lookup(unitKey{world: false, variant: 1}) != nil {
		t.Error("cache not empty after drain")
	}
}
