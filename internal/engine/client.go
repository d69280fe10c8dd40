package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Client wraps the Docker SDK client for the handful of engine calls the
// installer needs.
type Client struct {
	inner *client.Client
}

// New creates a new Docker client using environment defaults.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// EnsureNetwork creates the named bridge network unless it already exists.
// It reports whether this call created it.
func (c *Client) EnsureNetwork(ctx context.Context, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, fmt.Errorf("network name cannot be empty")
	}
	existing, err := c.inner.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return false, fmt.Errorf("list networks: %w", err)
	}
	for _, n := range existing {
		// The name filter matches substrings, so compare exactly.
		if n.Name == name {
			return false, nil
		}
	}
	if _, err := c.inner.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"}); err != nil {
		return false, fmt.Errorf("create network %s: %w", name, err)
	}
	return true, nil
}

// ContainerState is a snapshot of a named container's runtime state.
type ContainerState struct {
	Running bool
	Status  string
	Ports   nat.PortMap
}

// InspectContainer reports the state of a container by name. A missing
// container yields ErrNotFound.
func (c *Client) InspectContainer(ctx context.Context, name string) (ContainerState, error) {
	if strings.TrimSpace(name) == "" {
		return ContainerState{}, fmt.Errorf("container name cannot be empty")
	}
	inspect, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerState{}, ErrNotFound
		}
		return ContainerState{}, fmt.Errorf("container inspect: %w", err)
	}
	state := ContainerState{}
	if inspect.State != nil {
		state.Running = inspect.State.Running
		state.Status = inspect.State.Status
	}
	if inspect.NetworkSettings != nil && inspect.NetworkSettings.Ports != nil {
		state.Ports = inspect.NetworkSettings.Ports
	}
	return state, nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
