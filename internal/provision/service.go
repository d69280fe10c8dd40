package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/softsweb/traefik-setup/internal/domain"
	"github.com/softsweb/traefik-setup/internal/engine"
	"github.com/softsweb/traefik-setup/internal/render"
	"github.com/softsweb/traefik-setup/internal/teardown"
	"github.com/softsweb/traefik-setup/pkg/config"
)

// ErrNotRoot indicates the process lacks the privileges to write the system
// paths and drive the engine socket.
var ErrNotRoot = errors.New("provision: must run as root")

// Request carries the operator's answers to the two optional prompts. Both
// fields may be empty.
type Request struct {
	OperatorEmail string
	TestDomain    string
}

// Result reports what a provisioning run set up.
type Result struct {
	NetworkReady   bool
	NetworkCreated bool
	ProxyRunning   bool
	TestResource   *domain.Resource
	Teardown       *teardown.Handle
}

// Engine is the container-engine surface the provisioner needs.
type Engine interface {
	Ping(ctx context.Context) error
	EnsureNetwork(ctx context.Context, name string) (bool, error)
	InspectContainer(ctx context.Context, name string) (engine.ContainerState, error)
}

// Composer drives compose for the rendered manifests.
type Composer interface {
	Pull(ctx context.Context, manifests ...string) error
	Up(ctx context.Context, manifests ...string) error
}

// Scheduler registers the delayed teardown of a provisioned test resource.
type Scheduler interface {
	Schedule(ctx context.Context, res domain.Resource, ttl time.Duration) (teardown.Handle, error)
}

// Service renders the proxy configuration, brings the stack up, and
// schedules the test page teardown.
type Service struct {
	engine    Engine
	compose   Composer
	scheduler Scheduler
	cfg       config.Setup
	logger    *slog.Logger

	euid func() int
}

// New returns a provisioning service.
func New(eng Engine, compose Composer, scheduler Scheduler, logger *slog.Logger, cfg config.Setup) *Service {
	s := &Service{
		engine:    eng,
		compose:   compose,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger,
		euid:      os.Geteuid,
	}
	if s.logger != nil {
		s.logger = s.logger.With("component", "provision")
	}
	return s
}

// Provision performs one setup run. Preconditions are verified before any
// artifact is written or engine call made, so a failed run leaves nothing
// behind. Rendering and network creation are idempotent and safe to repeat.
func (s *Service) Provision(ctx context.Context, req Request) (Result, error) {
	var result Result

	if s.euid() != 0 {
		return result, ErrNotRoot
	}
	if err := s.engine.Ping(ctx); err != nil {
		return result, fmt.Errorf("docker engine unavailable: %w", err)
	}

	if strings.TrimSpace(req.OperatorEmail) == "" {
		s.logger.Warn("no email provided, using placeholder for ACME registration", "email", render.DefaultEmail)
	}
	if err := s.writeArtifacts(req); err != nil {
		return result, err
	}

	created, err := s.engine.EnsureNetwork(ctx, s.cfg.NetworkName)
	if err != nil {
		return result, fmt.Errorf("ensure network %s: %w", s.cfg.NetworkName, err)
	}
	result.NetworkReady = true
	result.NetworkCreated = created
	if created {
		s.logger.Info("network created", "network", s.cfg.NetworkName)
	} else {
		s.logger.Warn("network already exists, reusing it", "network", s.cfg.NetworkName)
	}

	proxyManifest := s.cfg.ProxyManifestPath()
	if err := s.compose.Pull(ctx, proxyManifest); err != nil {
		// up pulls missing images itself, so a failed pull only costs
		// freshness.
		s.logger.Warn("image pull failed, continuing", "manifest", proxyManifest, "error", err)
	}
	if err := s.compose.Up(ctx, proxyManifest); err != nil {
		return result, fmt.Errorf("start proxy: %w", err)
	}

	state, err := s.engine.InspectContainer(ctx, s.cfg.ProxyContainer)
	if err != nil {
		return result, fmt.Errorf("inspect proxy container: %w", err)
	}
	if !state.Running {
		return result, fmt.Errorf("proxy container %s is not running (status %q)", s.cfg.ProxyContainer, state.Status)
	}
	result.ProxyRunning = true
	s.logger.Info("proxy running", "container", s.cfg.ProxyContainer)

	domainName := strings.TrimSpace(req.TestDomain)
	if domainName == "" {
		return result, nil
	}

	res := domain.Resource{Name: s.cfg.TestContainer, ComposeFile: s.cfg.TestManifestPath()}
	if err := s.compose.Up(ctx, res.ComposeFile); err != nil {
		return result, fmt.Errorf("start test page: %w", err)
	}
	result.TestResource = &res
	s.logger.Info("test page deployed", "domain", domainName, "container", res.Name)

	h, err := s.scheduler.Schedule(ctx, res, s.cfg.TestTTL)
	if err != nil {
		return result, fmt.Errorf("schedule test page teardown: %w", err)
	}
	result.Teardown = &h

	return result, nil
}

// writeArtifacts renders the static config, the compose manifests, and the
// env file into their configured locations.
func (s *Service) writeArtifacts(req Request) error {
	for _, dir := range []string{s.cfg.ConfigDir, s.cfg.CertsDir, s.cfg.InstallDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	static, err := render.StaticConfig(s.cfg, req.OperatorEmail)
	if err != nil {
		return fmt.Errorf("render traefik config: %w", err)
	}
	if err := os.WriteFile(s.cfg.StaticConfigPath(), static, 0o644); err != nil {
		return fmt.Errorf("write traefik config: %w", err)
	}

	proxy, err := render.ProxyManifest(s.cfg)
	if err != nil {
		return fmt.Errorf("render proxy manifest: %w", err)
	}
	if err := os.WriteFile(s.cfg.ProxyManifestPath(), proxy, 0o644); err != nil {
		return fmt.Errorf("write proxy manifest: %w", err)
	}

	if domainName := strings.TrimSpace(req.TestDomain); domainName != "" {
		test, err := render.TestPageManifest(s.cfg, domainName)
		if err != nil {
			return fmt.Errorf("render test page manifest: %w", err)
		}
		if err := os.WriteFile(s.cfg.TestManifestPath(), test, 0o644); err != nil {
			return fmt.Errorf("write test page manifest: %w", err)
		}

		env, err := render.EnvFile(domainName)
		if err != nil {
			return fmt.Errorf("render env file: %w", err)
		}
		if err := os.WriteFile(s.cfg.EnvFilePath(), env, 0o644); err != nil {
			return fmt.Errorf("write env file: %w", err)
		}
	}

	s.logger.Info("artifacts written", "config_dir", s.cfg.ConfigDir, "install_dir", s.cfg.InstallDir)
	return nil
}
