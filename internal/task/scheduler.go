// Package task provides the cooperative, single-threaded task scheduler that
// drives long-running behaviours (wander loops, waypoint movement,
// conversations, choreography) one simulation tick at a time.
//
// A task suspends only by returning from Step; it never blocks and never runs
// concurrently with another task.
package task

import "time"

// Task is a resumable unit of work. Step advances it by one tick and reports
// whether it has finished.
type Task interface {
	Step(now time.Duration) bool
}

// Stopper is implemented by tasks that must release resources when they are
// cancelled before finishing.
type Stopper interface {
	Stop()
}

// Func adapts a plain function to the Task interface.
type Func func(now time.Duration) bool

// Step calls f.
func (f Func) Step(now time.Duration) bool { return f(now) }

type status uint8

const (
	statusRunning status = iota
	statusDone
	statusCancelled
)

// Handle is the owner's reference to a started task.
type Handle struct {
	id     uint64
	name   string
	task   Task
	status status
	onDone []func()
}

// ID returns the scheduler-assigned identifier.
func (h *Handle) ID() uint64 { return h.id }

// Name returns the label given at Start.
func (h *Handle) Name() string { return h.name }

// Running reports whether the task has neither finished nor been cancelled.
// A nil handle is not running.
func (h *Handle) Running() bool {
	return h != nil && h.status == statusRunning
}

// Cancelled reports whether Cancel was called before the task finished.
func (h *Handle) Cancelled() bool {
	return h != nil && h.status == statusCancelled
}

// Cancel stops the task. It is a no-op on nil, finished or already cancelled
// handles. Completion callbacks do not run for cancelled tasks.
func (h *Handle) Cancel() {
	if !h.Running() {
		return
	}
	h.status = statusCancelled
	if s, ok := h.task.(Stopper); ok {
		s.Stop()
	}
}

// OnDone registers fn to run after the task finishes normally.
func (h *Handle) OnDone(fn func()) {
	h.onDone = append(h.onDone, fn)
}

// Scheduler owns the simulation clock and the set of live tasks.
type Scheduler struct {
	now    time.Duration
	nextID uint64
	tasks  []*Handle
}

// NewScheduler creates an empty scheduler at time zero.
func NewScheduler() *Scheduler {
	return &Scheduler{nextID: 1}
}

// Now returns the current simulation time.
func (s *Scheduler) Now() time.Duration { return s.now }

// Advance moves the clock forward by dt without stepping any task.
func (s *Scheduler) Advance(dt time.Duration) {
	if dt > 0 {
		s.now += dt
	}
}

// Start registers t. It is first stepped on the next Run, or later in the
// current Run when started from inside another task.
func (s *Scheduler) Start(name string, t Task) *Handle {
	h := &Handle{id: s.nextID, name: name, task: t}
	s.nextID++
	s.tasks = append(s.tasks, h)
	return h
}

// Run steps every live task once, in start order, then drops finished and
// cancelled handles.
func (s *Scheduler) Run() {
	for i := 0; i < len(s.tasks); i++ {
		h := s.tasks[i]
		if h.status != statusRunning {
			continue
		}
		if !h.task.Step(s.now) {
			continue
		}
		// The task may have cancelled itself through a side effect of its
		// final step; only a still-running task completes normally.
		if h.status != statusRunning {
			continue
		}
		h.status = statusDone
		for _, fn := range h.onDone {
			fn()
		}
	}

	live := s.tasks[:0]
	for _, h := range s.tasks {
		if h.status == statusRunning {
			live = append(live, h)
		}
	}
	for i := len(live); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = live
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	n := 0
	for _, h := range s.tasks {
		if h.status == statusRunning {
			n++
		}
	}
	return n
}

// Names returns the labels of live tasks in start order.
func (s *Scheduler) Names() []string {
	var names []string
	for _, h := range s.tasks {
		if h.status == statusRunning {
			names = append(names, h.name)
		}
	}
	return names
}
