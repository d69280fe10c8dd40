package teardown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/softsweb/traefik-setup/internal/domain"
)

type startFunc func(binary string, args []string, logPath string) (int, error)

type signalFunc func(pid int, sig syscall.Signal) error

// Spawner schedules a teardown in a detached reaper process so the timer
// outlives the provisioning run, and cancels it again from any later process
// via the persisted handle.
type Spawner struct {
	binary     string
	handlePath string
	logPath    string
	remover    Remover
	logger     *slog.Logger

	now    func() time.Time
	start  startFunc
	signal signalFunc
}

// NewSpawner constructs a detached scheduler. binary is the executable to
// re-exec as the reaper, normally os.Executable().
func NewSpawner(binary, handlePath, logPath string, remover Remover, logger *slog.Logger) *Spawner {
	s := &Spawner{
		binary:     binary,
		handlePath: handlePath,
		logPath:    logPath,
		remover:    remover,
		logger:     logger,
		now:        time.Now,
		start:      startDetached,
		signal:     signalProcess,
	}
	if s.logger != nil {
		s.logger = s.logger.With("component", "teardown")
	}
	return s
}

// Schedule starts the detached reaper for the resource and persists the
// cancellation handle. A live handle left by an earlier run is retired
// first: its reaper is still armed against the same manifest and would tear
// the replacement page down early. A reaper whose handle cannot be written
// is killed immediately rather than left running unreferenced.
func (s *Spawner) Schedule(ctx context.Context, res domain.Resource, ttl time.Duration) (Handle, error) {
	s.stopPrevious()

	now := s.now()
	h := Handle{
		ID:        uuid.NewString(),
		FireAt:    now.Add(ttl),
		Resource:  res,
		CreatedAt: now,
	}
	args := []string{
		"reap",
		"--id", h.ID,
		"--name", res.Name,
		"--manifest", res.ComposeFile,
		"--fire-at", h.FireAt.Format(time.RFC3339),
		"--handle", s.handlePath,
	}
	pid, err := s.start(s.binary, args, s.logPath)
	if err != nil {
		return Handle{}, fmt.Errorf("start reaper: %w", err)
	}
	h.PID = pid
	if err := SaveHandle(s.handlePath, h); err != nil {
		if killErr := s.signal(pid, syscall.SIGKILL); killErr != nil {
			s.logger.Warn("failed to kill unreferenced reaper", "reaper_pid", pid, "error", killErr)
		}
		return Handle{}, err
	}
	s.logger.Info("teardown scheduled", "task_id", h.ID, "resource", res.Name, "fire_at", h.FireAt, "reaper_pid", pid)
	return h, nil
}

// Cancel looks up the persisted handle, terminates the sleeping reaper, and
// issues the removal itself. It reports whether a pending teardown was
// stopped. A reaper that already exited or a handle past its fire time count
// as fired; removal still runs because it is idempotent either way.
func (s *Spawner) Cancel(ctx context.Context) (bool, error) {
	h, err := LoadHandle(s.handlePath)
	if errors.Is(err, ErrNoHandle) {
		return false, ErrNoHandle
	}
	if err != nil {
		return false, err
	}

	pending := false
	switch {
	case h.Stale(s.now()):
		s.logger.Info("handle past its fire time, assuming reaper fired", "task_id", h.ID)
	case h.PID > 0:
		err := s.signal(h.PID, syscall.SIGTERM)
		switch {
		case err == nil:
			pending = true
		case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
			s.logger.Info("reaper already exited", "task_id", h.ID, "reaper_pid", h.PID)
		default:
			return false, fmt.Errorf("terminate reaper %d: %w", h.PID, err)
		}
	}

	if err := s.remover.Remove(ctx, h.Resource); err != nil {
		return pending, fmt.Errorf("cancel teardown %s: %w", h.ID, err)
	}
	if err := RemoveHandle(s.handlePath); err != nil {
		return pending, err
	}
	s.logger.Info("teardown cancelled", "task_id", h.ID, "resource", h.Resource.Name)
	return pending, nil
}

// stopPrevious terminates the reaper of a leftover handle, if any. The old
// resource is not removed here: the caller is replacing it in place, and
// SaveHandle overwrites the handle file. Unlike Cancel this never fails the
// run; the worst case is the old, earlier fire time winning.
func (s *Spawner) stopPrevious() {
	prev, err := LoadHandle(s.handlePath)
	if errors.Is(err, ErrNoHandle) {
		return
	}
	if err != nil {
		s.logger.Warn("unreadable teardown handle, replacing it", "error", err)
		return
	}
	if prev.Stale(s.now()) || prev.PID <= 0 {
		return
	}
	err = s.signal(prev.PID, syscall.SIGTERM)
	switch {
	case err == nil:
		s.logger.Info("stopped previous reaper", "task_id", prev.ID, "reaper_pid", prev.PID)
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		s.logger.Info("previous reaper already exited", "task_id", prev.ID, "reaper_pid", prev.PID)
	default:
		s.logger.Warn("failed to stop previous reaper, it may remove the new test page early", "task_id", prev.ID, "reaper_pid", prev.PID, "error", err)
	}
}

// startDetached launches the reaper in its own session with its output going
// to the reap log. Deliberately not CommandContext: the reaper must outlive
// the caller.
func startDetached(binary string, args []string, logPath string) (int, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open reaper log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachAttrs()
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", binary, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return 0, fmt.Errorf("release reaper process: %w", err)
	}
	return pid, nil
}

func signalProcess(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}
