package probe

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/slipway-sh/slipway/internal/domain"
)

// inspector is the slice of the Docker API the probe needs.
type inspector interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
}

// DockerProbe reads the live state of deployable units from the
// Docker Engine that hosts them. Lookups are read-only and leave no
// side effects on the platform.
type DockerProbe struct {
	client inspector
	closer func() error
}

// NewDockerProbe connects to the Docker Engine. An empty host falls
// back to the environment defaults.
func NewDockerProbe(host string) (*DockerProbe, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerProbe{client: cli, closer: cli.Close}, nil
}

// Lookup reports whether the named unit is running, broken or gone.
func (p *DockerProbe) Lookup(ctx context.Context, unitName string) (domain.UnitState, error) {
	inspect, err := p.client.ContainerInspect(ctx, unitName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domain.UnitAbsent, nil
		}
		return "", fmt.Errorf("inspect unit %s: %w", unitName, err)
	}
	return unitState(inspect), nil
}

// Close releases the underlying connection.
func (p *DockerProbe) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

func unitState(inspect types.ContainerJSON) domain.UnitState {
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return domain.UnitError
	}
	if inspect.State.Running && !inspect.State.Restarting {
		return domain.UnitActive
	}
	return domain.UnitError
}
