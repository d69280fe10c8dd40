package teardown

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/softsweb/traefik-setup/internal/domain"
)

const defaultRemoveTimeout = 60 * time.Second

// Remover tears down a resource's containers and deletes its manifest.
// Removal must tolerate a resource that is already gone.
type Remover interface {
	Remove(ctx context.Context, res domain.Resource) error
}

// Manager owns the teardown tasks scheduled in this process. It guarantees a
// task issues at most one removal no matter how a cancel request races the
// timer: the state transition under the task lock picks a single winner.
type Manager struct {
	remover Remover
	logger  *slog.Logger

	removeTimeout time.Duration

	mu    sync.Mutex
	tasks map[string]*Task

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New constructs a teardown manager issuing removals through remover.
func New(remover Remover, logger *slog.Logger) *Manager {
	m := &Manager{
		remover:       remover,
		logger:        logger,
		removeTimeout: defaultRemoveTimeout,
		tasks:         make(map[string]*Task),
		now:           time.Now,
		afterFunc:     time.AfterFunc,
	}
	if m.logger != nil {
		m.logger = m.logger.With("component", "teardown")
	}
	return m
}

// Schedule registers a teardown for the resource firing after ttl under a
// fresh task ID.
func (m *Manager) Schedule(resource domain.Resource, ttl time.Duration) *Task {
	return m.ScheduleWithID(uuid.NewString(), resource, ttl)
}

// ScheduleWithID is Schedule under a caller-chosen ID: the reap command
// adopts the persisted handle's ID so its log lines carry the same task_id
// the scheduling run printed. An empty id gets a fresh one. A non-positive
// ttl fires immediately, which is how a stale persisted handle is drained on
// restart.
func (m *Manager) ScheduleWithID(id string, resource domain.Resource, ttl time.Duration) *Task {
	if id == "" {
		id = uuid.NewString()
	}
	if ttl < 0 {
		ttl = 0
	}
	task := &Task{
		ID:       id,
		Resource: resource,
		FireAt:   m.now().Add(ttl),
		state:    StateScheduled,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	task.armTimer(m.afterFunc(ttl, func() { m.fire(task) }))
	m.logger.Info("teardown scheduled", "task_id", task.ID, "resource", resource.Name, "fire_at", task.FireAt)
	return task
}

// Cancel stops a scheduled task and issues removal on the caller's behalf.
// It reports true only when this call performed the cancellation; cancelling
// an unknown or already terminal task is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) bool {
	m.mu.Lock()
	task, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if !task.transition(StateCancelled) {
		return false
	}
	task.stopTimer()
	err := m.remover.Remove(ctx, task.Resource)
	task.finish(err)
	if err != nil {
		m.logger.Warn("removal failed during cancel, resource left running", "task_id", task.ID, "resource", task.Resource.Name, "error", err)
	} else {
		m.logger.Info("teardown cancelled", "task_id", task.ID, "resource", task.Resource.Name)
	}
	return true
}

// Wait blocks until the task is terminal or ctx ends. When ctx ends first,
// the pending timer is released without issuing removal: in that path an
// external canceller owns the removal and this process must stay silent.
func (m *Manager) Wait(ctx context.Context, task *Task) error {
	select {
	case <-task.Done():
		return task.Err()
	case <-ctx.Done():
		if task.transition(StateCancelled) {
			task.stopTimer()
			task.finish(nil)
			m.logger.Info("teardown released before firing", "task_id", task.ID, "resource", task.Resource.Name)
		}
		// The timer may have won the transition; its removal is in flight.
		<-task.Done()
		return ctx.Err()
	}
}

// fire performs the automatic removal once the timer elapses. Removal
// failures are logged but never retried: teardown is best-effort cleanup and
// the operator is told the resource is still running.
func (m *Manager) fire(task *Task) {
	if !task.transition(StateFired) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.removeTimeout)
	defer cancel()
	err := m.remover.Remove(ctx, task.Resource)
	task.finish(err)
	if err != nil {
		m.logger.Warn("automatic removal failed, resource left running", "task_id", task.ID, "resource", task.Resource.Name, "error", err)
		return
	}
	m.logger.Info("teardown fired", "task_id", task.ID, "resource", task.Resource.Name)
}
