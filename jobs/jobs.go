// Package jobs runs background workers keyed by owner and kind.
//
// At most one job per (owner, kind) pair is live at a time. Starting a
// job that is already running does not interrupt the worker: the new
// data and entry point are parked and launched after the current worker
// returns and its data is freed. That ordering is what callers rely on
// when they migrate work from the old run's data into the new one.
package jobs

import (
	"math"
	"sync"
	"sync/atomic"
)

// Kind identifies a class of job, e.g. shader compilation. Jobs of
// different kinds never interfere with each other.
type Kind string

// NotifyFunc receives progress updates from running workers. It is
// called from worker goroutines and must be safe for concurrent use.
type NotifyFunc func(owner any, progress float64)

// Manager tracks live jobs. The zero value is not usable; create
// instances with NewManager.
type Manager struct {
	mu     sync.Mutex
	jobs   map[jobKey]*Job
	notify NotifyFunc
}

type jobKey struct {
	owner any
	kind  Kind
}

// NewManager creates an empty job manager.
func NewManager() *Manager {
	return &Manager{jobs: make(map[jobKey]*Job)}
}

// SetNotify installs the progress callback. Pass nil to disable.
func (m *Manager) SetNotify(fn NotifyFunc) {
	m.mu.Lock()
	m.notify = fn
	m.mu.Unlock()
}

// Get returns the job for (owner, kind), creating and registering one
// if none exists. A job stays registered after its worker exits until
// Stop, so data set for the next run remains reachable. owner must be
// comparable.
func (m *Manager) Get(owner any, title string, kind Kind) *Job {
	key := jobKey{owner: owner, kind: kind}
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[key]; ok {
		return j
	}
	j := &Job{mgr: m, key: key, title: title}
	m.jobs[key] = j
	return j
}

// Test reports whether a job for (owner, kind) exists and is running.
func (m *Manager) Test(owner any, kind Kind) bool {
	m.mu.Lock()
	j, ok := m.jobs[jobKey{owner: owner, kind: kind}]
	m.mu.Unlock()
	if !ok {
		return false
	}
	j.mu.Lock()
	running := j.running
	j.mu.Unlock()
	return running
}

// Range calls fn for every registered job of the given kind. Iteration
// stops when fn returns false.
func (m *Manager) Range(kind Kind, fn func(*Job) bool) {
	m.mu.Lock()
	snapshot := make([]*Job, 0, len(m.jobs))
	for key, j := range m.jobs {
		if key.kind == kind {
			snapshot = append(snapshot, j)
		}
	}
	m.mu.Unlock()
	for _, j := range snapshot {
		if !fn(j) {
			return
		}
	}
}

// StopAll stops every registered job and waits for the workers to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	snapshot := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		snapshot = append(snapshot, j)
	}
	m.mu.Unlock()
	for _, j := range snapshot {
		j.Stop()
	}
}

// remove drops j from the registry if it is still the registered job.
// Only Stop unregisters jobs. Callers must not hold m.mu or j.mu.
func (m *Manager) remove(j *Job) {
	m.mu.Lock()
	if cur, ok := m.jobs[j.key]; ok && cur == j {
		delete(m.jobs, j.key)
	}
	m.mu.Unlock()
}

func (m *Manager) notifyFn() NotifyFunc {
	m.mu.Lock()
	fn := m.notify
	m.mu.Unlock()
	return fn
}

// Job is a background worker slot for one (owner, kind) pair.
type Job struct {
	mgr   *Manager
	key   jobKey
	title string

	mu      sync.Mutex
	running bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	// Data for the current (or next) run.
	data any
	free func(any)

	// A restart requested while the worker runs is parked here and
	// launched after the worker returns and its data is freed.
	pendingStart bool
	pendingEntry func(*State)
	pendingData  any
	pendingFree  func(any)
	hasPending   bool

	progress atomic.Uint64
}

// Owner returns the owner the job was registered under.
func (j *Job) Owner() any { return j.key.owner }

// Title returns the human-readable title passed to Get.
func (j *Job) Title() string { return j.title }

// SetData attaches data to the job's next run. free, if non-nil, is
// called with the data after the run's worker returns (or when the data
// is replaced before ever running). If the job is currently running the
// data is parked for the pending restart and does not affect the live
// worker.
func (j *Job) SetData(data any, free func(any)) {
	j.mu.Lock()
	var oldData any
	var oldFree func(any)
	if j.running {
		oldData, oldFree = j.pendingData, j.pendingFree
		j.pendingData, j.pendingFree = data, free
		j.hasPending = true
	} else {
		if j.hasPending {
			// Parked for a restart that was never requested; the worker
			// has exited, so the parked data is the current data now.
			oldData, oldFree = j.pendingData, j.pendingFree
			j.pendingData, j.pendingFree = nil, nil
			j.hasPending = false
		} else {
			oldData, oldFree = j.data, j.free
		}
		j.data, j.free = data, free
	}
	j.mu.Unlock()
	if oldFree != nil {
		oldFree(oldData)
	}
}

// Data returns the data of the most recent SetData call: the parked
// restart data if one exists, otherwise the current run's data.
func (j *Job) Data() any {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.hasPending {
		return j.pendingData
	}
	return j.data
}

// RunningData returns the data of the live worker, or nil if the job is
// not running.
func (j *Job) RunningData() any {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return nil
	}
	return j.data
}

// Running reports whether a worker is currently executing.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Start launches entry on a new goroutine with the data set via
// SetData. If a worker is already running, the start is parked and
// happens after the current worker returns and its data is freed.
func (j *Job) Start(entry func(*State)) {
	j.mu.Lock()
	if j.running {
		j.pendingStart = true
		j.pendingEntry = entry
		j.mu.Unlock()
		return
	}
	if j.hasPending {
		// The worker exited before this restart was requested; promote
		// the parked data so this run sees it and its free fn runs.
		j.data, j.free = j.pendingData, j.pendingFree
		j.pendingData, j.pendingFree = nil, nil
		j.hasPending = false
	}
	j.launchLocked(entry)
	j.mu.Unlock()
}

// launchLocked spawns the worker goroutine. Callers hold j.mu.
func (j *Job) launchLocked(entry func(*State)) {
	j.running = true
	j.stopped = false
	j.stop = make(chan struct{})
	j.done = make(chan struct{})
	j.progress.Store(0)

	state := &State{job: j, stop: j.stop}
	done := j.done

	go func() {
		entry(state)

		j.mu.Lock()
		data, free := j.data, j.free
		j.data, j.free = nil, nil
		j.mu.Unlock()
		if free != nil {
			free(data)
		}

		j.mu.Lock()
		j.running = false
		close(done)
		if j.pendingStart {
			j.data, j.free = j.pendingData, j.pendingFree
			j.pendingData, j.pendingFree = nil, nil
			j.hasPending = false
			j.pendingStart = false
			next := j.pendingEntry
			j.pendingEntry = nil
			j.launchLocked(next)
		}
		// The job stays registered after the worker exits so parked data
		// remains reachable and StopAll still sees it; Stop unregisters.
		j.mu.Unlock()
	}()
}

// Stop cancels any parked restart, signals the worker to stop, and
// waits for it to exit. Safe to call on a job that is not running.
func (j *Job) Stop() {
	for {
		j.mu.Lock()
		pendingData, pendingFree := j.pendingData, j.pendingFree
		hadPending := j.hasPending
		j.pendingStart = false
		j.pendingEntry = nil
		j.pendingData, j.pendingFree = nil, nil
		j.hasPending = false

		if !j.running {
			data, free := j.data, j.free
			j.data, j.free = nil, nil
			j.mu.Unlock()
			if hadPending && pendingFree != nil {
				pendingFree(pendingData)
			}
			if free != nil {
				free(data)
			}
			j.mgr.remove(j)
			return
		}
		if !j.stopped {
			j.stopped = true
			close(j.stop)
		}
		done := j.done
		j.mu.Unlock()

		if hadPending && pendingFree != nil {
			pendingFree(pendingData)
		}
		// A restart promoted between the signal and the wait launches a
		// fresh run; loop and stop that one too.
		<-done
	}
}

// Progress returns the worker's last reported progress in [0, 1].
func (j *Job) Progress() float64 {
	return math.Float64frombits(j.progress.Load())
}

// State is handed to a worker entry function.
type State struct {
	job  *Job
	stop chan struct{}
}

// Job returns the job this worker belongs to.
func (s *State) Job() *Job { return s.job }

// Stopped reports whether Stop was requested. Workers poll this between
// units of work.
func (s *State) Stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// SetProgress records progress in [0, 1] and fires the manager's notify
// callback.
func (s *State) SetProgress(p float64) {
	s.job.progress.Store(math.Float64bits(p))
	if fn := s.job.mgr.notifyFn(); fn != nil {
		fn(s.job.key.owner, p)
	}
}
