package teardown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/softsweb/traefik-setup/internal/domain"
)

func TestSpawnerScheduleStartsDetachedReaper(t *testing.T) {
	dir := t.TempDir()
	handlePath := filepath.Join(dir, "teardown.json")
	logPath := filepath.Join(dir, "teardown.log")
	now := time.Now()
	res := domain.Resource{Name: "test-page", ComposeFile: "/etc/traefik/docker-compose-test.yml"}

	starter := &testStarter{pid: 4242}
	signaller := &testSignaller{}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	s := NewSpawner("/usr/local/bin/traefik-setup", handlePath, logPath, &testRemover{}, logger)
	s.now = func() time.Time { return now }
	s.start = starter.start
	s.signal = signaller.signal

	h, err := s.Schedule(context.Background(), res, 600*time.Second)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if h.PID != 4242 {
		t.Fatalf("expected handle to record reaper pid 4242, got %d", h.PID)
	}
	if !h.FireAt.Equal(now.Add(600 * time.Second)) {
		t.Fatalf("expected fire time %s, got %s", now.Add(600*time.Second), h.FireAt)
	}

	if starter.binary != "/usr/local/bin/traefik-setup" {
		t.Fatalf("expected reaper to re-exec the setup binary, got %s", starter.binary)
	}
	if starter.logPath != logPath {
		t.Fatalf("expected reaper output to go to %s, got %s", logPath, starter.logPath)
	}
	want := "reap --id " + h.ID + " --name test-page --manifest /etc/traefik/docker-compose-test.yml --fire-at " +
		now.Add(600*time.Second).Format(time.RFC3339) + " --handle " + handlePath
	if got := strings.Join(starter.args, " "); got != want {
		t.Fatalf("unexpected reaper args:\n got %s\nwant %s", got, want)
	}

	loaded, err := LoadHandle(handlePath)
	if err != nil {
		t.Fatalf("load persisted handle: %v", err)
	}
	if loaded.PID != 4242 || loaded.Resource != res {
		t.Fatalf("persisted handle mismatch: %+v", loaded)
	}
}

func TestSpawnerScheduleKillsReaperWhenHandleCannotPersist(t *testing.T) {
	dir := t.TempDir()
	handlePath := filepath.Join(dir, "missing", "teardown.json")
	logPath := filepath.Join(dir, "teardown.log")

	starter := &testStarter{pid: 4242}
	signaller := &testSignaller{}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	s := NewSpawner("/usr/local/bin/traefik-setup", handlePath, logPath, &testRemover{}, logger)
	s.start = starter.start
	s.signal = signaller.signal

	if _, err := s.Schedule(context.Background(), domain.Resource{Name: "test-page"}, time.Minute); err == nil {
		t.Fatalf("expected schedule to fail when the handle cannot be written")
	}
	pids, signals := signaller.sent()
	if len(signals) != 1 || signals[0] != syscall.SIGKILL {
		t.Fatalf("expected the unreferenced reaper to be killed, got %v", signals)
	}
	if pids[0] != 4242 {
		t.Fatalf("expected kill signal for pid 4242, got %d", pids[0])
	}
}

func TestSpawnerScheduleStopsPreviousReaper(t *testing.T) {
	dir := t.TempDir()
	handlePath := filepath.Join(dir, "teardown.json")
	now := time.Now()
	res := domain.Resource{Name: "test-page", ComposeFile: "/etc/traefik/docker-compose-test.yml"}

	prev := Handle{ID: "task-old", PID: 77, FireAt: now.Add(5 * time.Minute), Resource: res, CreatedAt: now.Add(-5 * time.Minute)}
	if err := SaveHandle(handlePath, prev); err != nil {
		t.Fatalf("save handle: %v", err)
	}

	remover := &testRemover{}
	starter := &testStarter{pid: 4242}
	signaller := &testSignaller{}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	s := NewSpawner("/usr/local/bin/traefik-setup", handlePath, filepath.Join(dir, "teardown.log"), remover, logger)
	s.now = func() time.Time { return now }
	s.start = starter.start
	s.signal = signaller.signal

	h, err := s.Schedule(context.Background(), res, 600*time.Second)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	pids, signals := signaller.sent()
	if len(signals) != 1 || signals[0] != syscall.SIGTERM || pids[0] != 77 {
		t.Fatalf("expected SIGTERM to the previous reaper pid 77, got %v %v", signals, pids)
	}
	if remover.count() != 0 {
		t.Fatalf("expected no removal while replacing the resource in place, got %d", remover.count())
	}
	loaded, err := LoadHandle(handlePath)
	if err != nil {
		t.Fatalf("load replaced handle: %v", err)
	}
	if loaded.ID != h.ID || loaded.ID == prev.ID || loaded.PID != 4242 {
		t.Fatalf("expected the new handle to replace the old one, got %+v", loaded)
	}
}

func TestSpawnerScheduleIgnoresStalePreviousHandle(t *testing.T) {
	dir := t.TempDir()
	handlePath := filepath.Join(dir, "teardown.json")
	now := time.Now()
	res := domain.Resource{Name: "test-page", ComposeFile: "/etc/traefik/docker-compose-test.yml"}

	if err := SaveHandle(handlePath, Handle{ID: "task-old", PID: 77, FireAt: now.Add(-time.Minute), Resource: res}); err != nil {
		t.Fatalf("save handle: %v", err)
	}

	starter := &testStarter{pid: 4242}
	signaller := &testSignaller{}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	s := NewSpawner("/usr/local/bin/traefik-setup", handlePath, filepath.Join(dir, "teardown.log"), &testRemover{}, logger)
	s.now = func() time.Time { return now }
	s.start = starter.start
	s.signal = signaller.signal

	if _, err := s.Schedule(context.Background(), res, 600*time.Second); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, signals := signaller.sent(); len(signals) != 0 {
		t.Fatalf("expected no signal for a stale handle, got %v", signals)
	}
}

func TestSpawnerScheduleProceedsWhenPreviousReaperUnstoppable(t *testing.T) {
	dir := t.TempDir()
	handlePath := filepath.Join(dir, "teardown.json")
	now := time.Now()
	res := domain.Resource{Name: "test-page", ComposeFile: "/etc/traefik/docker-compose-test.yml"}

	if err := SaveHandle(handlePath, Handle{ID: "task-old", PID: 77, FireAt: now.Add(5 * time.Minute), Resource: res}); err != nil {
		t.Fatalf("save handle: %v", err)
	}

	starter := &testStarter{pid: 4242}
	signaller := &testSignaller{err: os.ErrPermission}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	s := NewSpawner("/usr/local/bin/traefik-setup", handlePath, filepath.Join(dir, "teardown.log"), &testRemover{}, logger)
	s.now = func() time.Time { return now }
	s.start = starter.start
	s.signal = signaller.signal

	h, err := s.Schedule(context.Background(), res, 600*time.Second)
	if err != nil {
		t.Fatalf("expected schedule to proceed past a signal failure, got %v", err)
	}
	loaded, err := LoadHandle(handlePath)
	if err != nil {
		t.Fatalf("load replaced handle: %v", err)
	}
	if loaded.ID != h.ID {
		t.Fatalf("expected the handle to be overwritten, got %+v", loaded)
	}
}

func TestSpawnerCancelTerminatesReaperAndRemovesResource(t *testing.T) {
	dir := t.TempDir()
	handlePath := filepath.Join(dir, "teardown.json")
	now := time.Now()
	res := domain.Resource{Name: "test-page", ComposeFile: "/etc/traefik/docker-compose-test.yml"}

	h := Handle{ID: "task-1", PID: 77, FireAt: now.Add(5 * time.Minute), Resource: res, CreatedAt: now}
	if err := SaveHandle(handlePath, h); err != nil {
		t.Fatalf("save handle: %v", err)
	}

	remover := &testRemover{}
	signaller := &testSignaller{}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	s := NewSpawner("/usr/local/bin/traefik-setup", handlePath, filepath.Join(dir, "teardown.log"), remover, logger)
	s.now = func() time.Time { return now }
	s.signal = signaller.signal

	pending, err := s.Cancel(context.Background())
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !pending {
		t.Fatalf("expected cancel to report a pending teardown was stopped")
	}
	pids, signals := signaller.sent()
	if len(signals) != 1 || signals[0] != syscall.SIGTERM || pids[0] != 77 {
		t.Fatalf("expected SIGTERM to pid 77, got %v %v", signals, pids)
	}
	if remover.count() != 1 {
		t.Fatalf("expected cancel to issue one removal, got %d", remover.count())
	}
	if got := remover.removed()[0]; got != res.Name {
		t.Fatalf("expected removal of %s, got %s", res.Name, got)
	}
	if _, err := LoadHandle(handlePath); !errors.Is(err, ErrNoHandle) {
		t.Fatalf("expected handle to be deleted after cancel, got %v", err)
	}
}

func TestSpawnerCancelWithoutHandle(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	s := NewSpawner("/usr/local/bin/traefik-setup", filepath.Join(dir, "teardown.json"), filepath.Join(dir, "teardown.log"), &testRemover{}, logger)

	if _, err := s.Cancel(context.Background()); !errors.Is(err, ErrNoHandle) {
		t.Fatalf("expected ErrNoHandle, got %v", err)
	}
}

func TestSpawnerCancelToleratesExitedReaper(t *testing.T) {
	dir := t.TempDir()
	handlePath := filepath.Join(dir, "teardown.json")
	now := time.Now()
	res := domain.Resource{Name: "test-page", ComposeFile: "/etc/traefik/docker-compose-test.yml"}

	if err := SaveHandle(handlePath, Handle{ID: "task-1", PID: 77, FireAt: now.Add(time.Minute), Resource: res}); err != nil {
		t.Fatalf("save handle: %v", err)
	}

	remover := &testRemover{}
	signaller := &testSignaller{err: syscall.ESRCH}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	s := NewSpawner("/usr/local/bin/traefik-setup", handlePath, filepath.Join(dir, "teardown.log"), remover, logger)
	s.now = func() time.Time { return now }
	s.signal = signaller.signal

	pending, err := s.Cancel(context.Background())
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if pending {
		t.Fatalf("expected no pending teardown when the reaper already exited")
	}
	if remover.count() != 1 {
		t.Fatalf("expected removal to run anyway, got %d", remover.count())
	}
	if _, err := LoadHandle(handlePath); !errors.Is(err, ErrNoHandle) {
		t.Fatalf("expected handle to be deleted, got %v", err)
	}
}

func TestSpawnerCancelSkipsSignalForStaleHandle(t *testing.T) {
	dir := t.TempDir()
	handlePath := filepath.Join(dir, "teardown.json")
	now := time.Now()
	res := domain.Resource{Name: "test-page", ComposeFile: "/etc/traefik/docker-compose-test.yml"}

	if err := SaveHandle(handlePath, Handle{ID: "task-1", PID: 77, FireAt: now.Add(-time.Minute), Resource: res}); err != nil {
		t.Fatalf("save handle: %v", err)
	}

	remover := &testRemover{}
	signaller := &testSignaller{}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	s := NewSpawner("/usr/local/bin/traefik-setup", handlePath, filepath.Join(dir, "teardown.log"), remover, logger)
	s.now = func() time.Time { return now }
	s.signal = signaller.signal

	pending, err := s.Cancel(context.Background())
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if pending {
		t.Fatalf("expected stale handle to count as already fired")
	}
	if _, signals := signaller.sent(); len(signals) != 0 {
		t.Fatalf("expected no signal for a stale handle, got %v", signals)
	}
	if remover.count() != 1 {
		t.Fatalf("expected removal to run for a stale handle, got %d", remover.count())
	}
}

func TestSpawnerCancelAbortsOnSignalFailure(t *testing.T) {
	dir := t.TempDir()
	handlePath := filepath.Join(dir, "teardown.json")
	now := time.Now()

	if err := SaveHandle(handlePath, Handle{ID: "task-1", PID: 77, FireAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("save handle: %v", err)
	}

	remover := &testRemover{}
	signaller := &testSignaller{err: os.ErrPermission}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	s := NewSpawner("/usr/local/bin/traefik-setup", handlePath, filepath.Join(dir, "teardown.log"), remover, logger)
	s.now = func() time.Time { return now }
	s.signal = signaller.signal

	if _, err := s.Cancel(context.Background()); err == nil {
		t.Fatalf("expected cancel to fail when the reaper cannot be signalled")
	}
	if remover.count() != 0 {
		t.Fatalf("expected no removal when the reaper may still fire, got %d", remover.count())
	}
	if _, err := LoadHandle(handlePath); err != nil {
		t.Fatalf("expected handle to survive a failed cancel, got %v", err)
	}
}

type testStarter struct {
	binary  string
	args    []string
	logPath string
	pid     int
	err     error
}

func (s *testStarter) start(binary string, args []string, logPath string) (int, error) {
	s.binary = binary
	s.args = args
	s.logPath = logPath
	if s.err != nil {
		return 0, s.err
	}
	return s.pid, nil
}

type testSignaller struct {
	mu      sync.Mutex
	pids    []int
	signals []syscall.Signal
	err     error
}

func (s *testSignaller) signal(pid int, sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pids = append(s.pids, pid)
	s.signals = append(s.signals, sig)
	return s.err
}

func (s *testSignaller) sent() ([]int, []syscall.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pids...), append([]syscall.Signal(nil), s.signals...)
}
