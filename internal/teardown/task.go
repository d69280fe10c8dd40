package teardown

import (
	"sync"
	"time"

	"github.com/softsweb/traefik-setup/internal/domain"
)

// State describes where a task is in its lifecycle.
type State int

const (
	// StateScheduled means the timer is armed and the resource is live.
	StateScheduled State = iota
	// StateFired means the timer elapsed and removal was issued. Terminal.
	StateFired
	// StateCancelled means a cancel request stopped the timer before it
	// could fire. Terminal.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task is one scheduled teardown of a resource. At most one transition out
// of StateScheduled ever happens; whichever caller wins it owns the removal.
type Task struct {
	ID       string
	Resource domain.Resource
	FireAt   time.Time

	mu    sync.Mutex
	state State
	timer *time.Timer
	err   error
	done  chan struct{}
}

// State reports the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the task is terminal and any removal issued by this
// process has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err reports the removal error recorded when the task completed, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// transition moves the task out of StateScheduled and reports whether this
// call won. Terminal states never transition again.
func (t *Task) transition(to State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateScheduled {
		return false
	}
	t.state = to
	return true
}

func (t *Task) armTimer(timer *time.Timer) {
	t.mu.Lock()
	t.timer = timer
	t.mu.Unlock()
}

func (t *Task) stopTimer() {
	t.mu.Lock()
	timer := t.timer
	t.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// finish records the removal outcome and releases waiters. Only the
// transition winner may call it.
func (t *Task) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	close(t.done)
}
