package teardown

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/softsweb/traefik-setup/internal/domain"
)

// ErrNoHandle indicates no teardown handle is persisted at the given path.
var ErrNoHandle = errors.New("teardown: no handle")

// Handle is the persisted cancellation token for a scheduled teardown. It
// records which reaper process owns the timer so a later invocation can find
// and cancel it.
type Handle struct {
	ID        string          `json:"id"`
	PID       int             `json:"pid"`
	FireAt    time.Time       `json:"fire_at"`
	Resource  domain.Resource `json:"resource"`
	CreatedAt time.Time       `json:"created_at"`
}

// Stale reports whether the handle's fire time has already passed, in which
// case the reaper is assumed to have fired or be about to.
func (h Handle) Stale(now time.Time) bool {
	return !h.FireAt.After(now)
}

// LoadHandle reads a persisted handle. A missing file yields ErrNoHandle.
func LoadHandle(path string) (Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Handle{}, ErrNoHandle
		}
		return Handle{}, fmt.Errorf("read handle: %w", err)
	}
	var h Handle
	if err := json.Unmarshal(data, &h); err != nil {
		return Handle{}, fmt.Errorf("decode handle %s: %w", path, err)
	}
	return h, nil
}

// SaveHandle persists the handle, replacing any previous one.
func SaveHandle(path string, h Handle) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("encode handle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write handle: %w", err)
	}
	return nil
}

// RemoveHandle deletes a persisted handle. A handle already gone is success:
// whichever side finished the teardown first has cleaned it up.
func RemoveHandle(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove handle: %w", err)
	}
	return nil
}
