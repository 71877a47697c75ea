package jobs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testKind Kind = "test"

func TestStartRunsWorkerWithData(t *testing.T) {
	m := NewManager()
	j := m.Get("owner", "Test job", testKind)

	got := make(chan any, 1)
	j.SetData("payload", nil)
	j.Start(func(s *State) {
		got <- s.Job().Data()
	})

	select {
	case v := <-got:
		if v != "payload" {
			t.Errorf("worker saw data %v, want payload", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker never ran")
	}
	j.Stop()
}

func TestFreeRunsAfterWorkerReturns(t *testing.T) {
	m := NewManager()
	j := m.Get("owner", "Test job", testKind)

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	j.SetData("data", func(any) { record("free") })
	j.Start(func(*State) { record("entry") })
	j.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "entry" || order[1] != "free" {
		t.Errorf("order = %v, want [entry free]", order)
	}
}

func TestRestartWaitsForOldWorkerAndFree(t *testing.T) {
	m := NewManager()
	j := m.Get("owner", "Test job", testKind)

	release := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	started := make(chan struct{})
	j.SetData("old", func(any) { record("free-old") })
	j.Start(func(*State) {
		close(started)
		<-release
		record("old-exit")
	})
	<-started

	// Restart while the old worker is blocked. The new worker must not
	// run until the old one returns and its data is freed.
	secondDone := make(chan struct{})
	j.SetData("new", func(any) { record("free-new") })
	j.Start(func(s *State) {
		record("new-entry")
		if d := s.Job().Data(); d != "new" {
			t.Errorf("restarted worker saw data %v, want new", d)
		}
		close(secondDone)
	})

	select {
	case <-secondDone:
		t.Fatal("restarted worker ran before old worker exited")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-secondDone:
	case <-time.After(5 * time.Second):
		t.Fatal("restarted worker never ran")
	}
	j.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"old-exit", "free-old", "new-entry", "free-new"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestGetReturnsSameJobPerOwnerAndKind(t *testing.T) {
	m := NewManager()
	a := m.Get("owner", "Test job", testKind)
	b := m.Get("owner", "Test job", testKind)
	if a != b {
		t.Error("Get returned distinct jobs for the same (owner, kind)")
	}
	if c := m.Get("other", "Test job", testKind); c == a {
		t.Error("Get returned the same job for a different owner")
	}
	if d := m.Get("owner", "Test job", Kind("other")); d == a {
		t.Error("Get returned the same job for a different kind")
	}
}

func TestTestReportsRunning(t *testing.T) {
	m := NewManager()
	if m.Test("owner", testKind) {
		t.Error("Test true before any job exists")
	}

	j := m.Get("owner", "Test job", testKind)
	if m.Test("owner", testKind) {
		t.Error("Test true for a registered but unstarted job")
	}

	release := make(chan struct{})
	started := make(chan struct{})
	j.Start(func(*State) {
		close(started)
		<-release
	})
	<-started
	if !m.Test("owner", testKind) {
		t.Error("Test false while worker runs")
	}

	close(release)
	j.Stop()
	if m.Test("owner", testKind) {
		t.Error("Test true after worker stopped")
	}
}

func TestStoppedSignalsWorker(t *testing.T) {
	m := NewManager()
	j := m.Get("owner", "Test job", testKind)

	var iterations atomic.Int64
	started := make(chan struct{})
	j.Start(func(s *State) {
		close(started)
		for !s.Stopped() {
			iterations.Add(1)
			time.Sleep(time.Millisecond)
		}
	})
	<-started
	j.Stop()

	// Stop must have returned only after the loop observed the signal.
	if j.Running() {
		t.Error("job still running after Stop")
	}
	if iterations.Load() == 0 {
		t.Error("worker loop never iterated")
	}
}

func TestStopCancelsPendingRestart(t *testing.T) {
	m := NewManager()
	j := m.Get("owner", "Test job", testKind)

	release := make(chan struct{})
	started := make(chan struct{})
	j.Start(func(*State) {
		close(started)
		<-release
	})
	<-started

	var pendingFreed atomic.Bool
	ranSecond := make(chan struct{})
	j.SetData("pending", func(any) { pendingFreed.Store(true) })
	j.Start(func(*State) { close(ranSecond) })

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	j.Stop()

	select {
	case <-ranSecond:
		t.Error("pending restart ran despite Stop")
	default:
	}
	if !pendingFreed.Load() {
		t.Error("pending data not freed by Stop")
	}
}

func TestProgressNotify(t *testing.T) {
	m := NewManager()

	var mu sync.Mutex
	var owners []any
	var values []float64
	m.SetNotify(func(owner any, p float64) {
		mu.Lock()
		owners = append(owners, owner)
		values = append(values, p)
		mu.Unlock()
	})

	j := m.Get("owner", "Test job", testKind)
	j.Start(func(s *State) {
		s.SetProgress(0.25)
		s.SetProgress(1.0)
	})
	j.Stop()

	if got := j.Progress(); got != 1.0 {
		t.Errorf("Progress() = %v, want 1.0", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(values) != 2 || values[0] != 0.25 || values[1] != 1.0 {
		t.Errorf("notify values = %v, want [0.25 1]", values)
	}
	for _, o := range owners {
		if o != "owner" {
			t.Errorf("notify owner = %v, want owner", o)
		}
	}
}

func TestStopAll(t *testing.T) {
	m := NewManager()

	var running atomic.Int64
	for _, owner := range []string{"a", "b", "c"} {
		j := m.Get(owner, "Test job", testKind)
		started := make(chan struct{})
		j.Start(func(s *State) {
			running.Add(1)
			close(started)
			for !s.Stopped() {
				time.Sleep(time.Millisecond)
			}
			running.Add(-1)
		})
		<-started
	}

	m.StopAll()
	if n := running.Load(); n != 0 {
		t.Errorf("%d workers still running after StopAll", n)
	}
}

func TestStartAfterExitPromotesParkedData(t *testing.T) {
	m := NewManager()
	j := m.Get("owner", "Test job", testKind)

	release := make(chan struct{})
	started := make(chan struct{})
	j.SetData("old", nil)
	j.Start(func(*State) {
		close(started)
		<-release
	})
	<-started

	// Park replacement data without requesting a restart, then let the
	// worker drain.
	var freed atomic.Bool
	j.SetData("new", func(any) { freed.Store(true) })
	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for j.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if j.Running() {
		t.Fatal("worker never exited")
	}

	// The job must remain registered while it holds parked data.
	if got := m.Get("owner", "Test job", testKind); got != j {
		t.Fatal("job dropped from the registry while holding parked data")
	}
	if d := j.Data(); d != "new" {
		t.Fatalf("Data() = %v, want new", d)
	}

	saw := make(chan any, 1)
	j.Start(func(s *State) { saw <- s.Job().Data() })
	select {
	case v := <-saw:
		if v != "new" {
			t.Errorf("restarted worker saw data %v, want new", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("restarted worker never ran")
	}
	j.Stop()
	if !freed.Load() {
		t.Error("promoted data's free was never invoked")
	}
}

func TestStopFreesParkedDataWithoutRestart(t *testing.T) {
	m := NewManager()
	j := m.Get("owner", "Test job", testKind)

	release := make(chan struct{})
	started := make(chan struct{})
	j.Start(func(*State) {
		close(started)
		<-release
	})
	<-started

	var freed atomic.Bool
	j.SetData("parked", func(any) { freed.Store(true) })
	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for j.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	m.StopAll()
	if !freed.Load() {
		t.Error("parked data's free was never invoked by StopAll")
	}
	if m.Test("owner", testKind) {
		t.Error("job still reported running after StopAll")
	}
}

func TestDataPrefersPendingRestartData(t *testing.T) {
	m := NewManager()
	j := m.Get("owner", "Test job", testKind)

	release := make(chan struct{})
	started := make(chan struct{})
	j.SetData("current", nil)
	j.Start(func(*State) {
		close(started)
		<-release
	})
	<-started

	if d := j.Data(); d != "current" {
		t.Fatalf("Data() = %v, want current", d)
	}
	if d := j.RunningData(); d != "current" {
		t.Fatalf("RunningData() = %v, want current", d)
	}

	j.SetData("pending", nil)
	if d := j.Data(); d != "pending" {
		t.Errorf("Data() = %v, want pending", d)
	}
	if d := j.RunningData(); d != "current" {
		t.Errorf("RunningData() = %v, want current", d)
	}

	close(release)
	j.Stop()
}
