package teardown

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/softsweb/traefik-setup/internal/domain"
)

func TestHandleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teardown.json")
	now := time.Now()
	h := Handle{
		ID:        "task-1",
		PID:       4242,
		FireAt:    now.Add(600 * time.Second),
		Resource:  domain.Resource{Name: "test-page", ComposeFile: "/etc/traefik/docker-compose-test.yml"},
		CreatedAt: now,
	}

	if err := SaveHandle(path, h); err != nil {
		t.Fatalf("save handle: %v", err)
	}

	loaded, err := LoadHandle(path)
	if err != nil {
		t.Fatalf("load handle: %v", err)
	}
	if loaded.ID != h.ID {
		t.Fatalf("expected id %s, got %s", h.ID, loaded.ID)
	}
	if loaded.PID != h.PID {
		t.Fatalf("expected pid %d, got %d", h.PID, loaded.PID)
	}
	if !loaded.FireAt.Equal(h.FireAt) {
		t.Fatalf("expected fire time %s, got %s", h.FireAt, loaded.FireAt)
	}
	if loaded.Resource != h.Resource {
		t.Fatalf("expected resource %+v, got %+v", h.Resource, loaded.Resource)
	}
}

func TestLoadHandleMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teardown.json")

	if _, err := LoadHandle(path); !errors.Is(err, ErrNoHandle) {
		t.Fatalf("expected ErrNoHandle, got %v", err)
	}
}

func TestLoadHandleCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teardown.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt handle: %v", err)
	}

	_, err := LoadHandle(path)
	if err == nil {
		t.Fatalf("expected decode error for corrupt handle")
	}
	if errors.Is(err, ErrNoHandle) {
		t.Fatalf("corrupt handle must not be reported as missing")
	}
}

func TestHandleStale(t *testing.T) {
	now := time.Now()

	if (Handle{FireAt: now.Add(time.Minute)}).Stale(now) {
		t.Fatalf("handle firing in the future must not be stale")
	}
	if !(Handle{FireAt: now.Add(-time.Minute)}).Stale(now) {
		t.Fatalf("handle past its fire time must be stale")
	}
	if !(Handle{FireAt: now}).Stale(now) {
		t.Fatalf("handle firing right now must be stale")
	}
}

func TestRemoveHandleMissingIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teardown.json")

	if err := RemoveHandle(path); err != nil {
		t.Fatalf("expected removal of missing handle to succeed, got %v", err)
	}

	if err := SaveHandle(path, Handle{ID: "task-1"}); err != nil {
		t.Fatalf("save handle: %v", err)
	}
	if err := RemoveHandle(path); err != nil {
		t.Fatalf("remove handle: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected handle file to be gone, got %v", err)
	}
}
