package persist

import (
	"sync"
	"time"
)

// IdleScheduler defers work until the process is idle. fn must run exactly
// once, no later than timeout after the request.
type IdleScheduler interface {
	RequestIdle(fn func(), timeout time.Duration)
}

// IdleRunner runs deferred callbacks once no activity has been reported for
// the quiet period, or when a callback's timeout expires, whichever is first.
// Mutation paths call Busy to push deferred serialization out of their way.
type IdleRunner struct {
	clock Clock
	quiet time.Duration

	mu       sync.Mutex
	lastBusy time.Time
	tasks    []idleTask
	timer    Timer
}

type idleTask struct {
	fn       func()
	deadline time.Time
}

// NewIdleRunner returns a runner that treats quiet without Busy calls as idle.
func NewIdleRunner(clock Clock, quiet time.Duration) *IdleRunner {
	if clock == nil {
		clock = SystemClock()
	}
	if quiet < 0 {
		quiet = 0
	}
	return &IdleRunner{clock: clock, quiet: quiet}
}

// Busy records activity at the current time.
func (r *IdleRunner) Busy() {
	if r == nil {
		return
	}
	now := r.clock.Now()
	r.mu.Lock()
	r.lastBusy = now
	r.mu.Unlock()
}

func (r *IdleRunner) RequestIdle(fn func(), timeout time.Duration) {
	if timeout < 0 {
		timeout = 0
	}
	now := r.clock.Now()
	r.mu.Lock()
	r.tasks = append(r.tasks, idleTask{fn: fn, deadline: now.Add(timeout)})
	r.armLocked(now)
	r.mu.Unlock()
}

// Pending returns the number of callbacks waiting to run.
func (r *IdleRunner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *IdleRunner) armLocked(now time.Time) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if len(r.tasks) == 0 {
		return
	}
	next := r.lastBusy.Add(r.quiet)
	for _, task := range r.tasks {
		if task.deadline.Before(next) {
			next = task.deadline
		}
	}
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	r.timer = r.clock.AfterFunc(delay, r.check)
}

func (r *IdleRunner) check() {
	now := r.clock.Now()
	r.mu.Lock()
	r.timer = nil
	idle := !now.Before(r.lastBusy.Add(r.quiet))
	var due []func()
	remaining := r.tasks[:0]
	for _, task := range r.tasks {
		if idle || !now.Before(task.deadline) {
			due = append(due, task.fn)
			continue
		}
		remaining = append(remaining, task)
	}
	r.tasks = remaining
	r.armLocked(now)
	r.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}
