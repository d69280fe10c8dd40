package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/softsweb/traefik-setup/internal/domain"
)

type lookPathFunc func(file string) (string, error)

type runFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Compose drives the compose CLI. The engine API has no compose endpoint, so
// this is the one collaborator invoked as a child process rather than through
// the SDK.
type Compose struct {
	argv   []string
	logger *slog.Logger
	run    runFunc
}

// DetectCompose probes for the compose plugin first and the legacy
// standalone binary second, returning ErrComposeNotFound when neither
// responds.
func DetectCompose(ctx context.Context, logger *slog.Logger) (*Compose, error) {
	return detectCompose(ctx, logger, exec.LookPath, runCombined)
}

func detectCompose(ctx context.Context, logger *slog.Logger, look lookPathFunc, run runFunc) (*Compose, error) {
	if _, err := look("docker"); err == nil {
		if _, err := run(ctx, "", "docker", "compose", "version"); err == nil {
			return newCompose([]string{"docker", "compose"}, logger, run), nil
		}
	}
	if _, err := look("docker-compose"); err == nil {
		if _, err := run(ctx, "", "docker-compose", "--version"); err == nil {
			return newCompose([]string{"docker-compose"}, logger, run), nil
		}
	}
	return nil, ErrComposeNotFound
}

func newCompose(argv []string, logger *slog.Logger, run runFunc) *Compose {
	c := &Compose{argv: argv, logger: logger, run: run}
	if c.logger != nil {
		c.logger = c.logger.With("component", "compose")
	}
	return c
}

// Command reports the detected compose invocation, e.g. "docker compose".
func (c *Compose) Command() string {
	return strings.Join(c.argv, " ")
}

// Pull fetches the images referenced by the given manifests.
func (c *Compose) Pull(ctx context.Context, manifests ...string) error {
	return c.exec(ctx, "pull", manifests, nil)
}

// Up starts the services of the given manifests in detached mode.
func (c *Compose) Up(ctx context.Context, manifests ...string) error {
	return c.exec(ctx, "up", manifests, []string{"-d"})
}

// Down stops and removes the services of the given manifests.
func (c *Compose) Down(ctx context.Context, manifests ...string) error {
	return c.exec(ctx, "down", manifests, nil)
}

// Remove tears down a resource: stop and remove its containers, then delete
// its manifest. A manifest that is already gone counts as success so repeated
// removal stays a no-op.
func (c *Compose) Remove(ctx context.Context, res domain.Resource) error {
	if _, err := os.Stat(res.ComposeFile); errors.Is(err, os.ErrNotExist) {
		c.logger.Info("resource already removed", "resource", res.Name, "manifest", res.ComposeFile)
		return nil
	}
	if err := c.Down(ctx, res.ComposeFile); err != nil {
		return fmt.Errorf("remove %s: %w", res.Name, err)
	}
	if err := os.Remove(res.ComposeFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete manifest for %s: %w", res.Name, err)
	}
	c.logger.Info("resource removed", "resource", res.Name)
	return nil
}

func (c *Compose) exec(ctx context.Context, verb string, manifests []string, extra []string) error {
	if len(manifests) == 0 {
		return fmt.Errorf("compose %s: no manifests given", verb)
	}
	args := append([]string{}, c.argv[1:]...)
	for _, m := range manifests {
		args = append(args, "-f", m)
	}
	args = append(args, verb)
	args = append(args, extra...)
	// Legacy docker-compose resolves the .env interpolation file against the
	// working directory, so run from the manifest's directory.
	output, err := c.run(ctx, filepath.Dir(manifests[0]), c.argv[0], args...)
	if err != nil {
		return fmt.Errorf("compose %s failed: %w: %s", verb, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func runCombined(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
