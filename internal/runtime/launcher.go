// Package runtime starts built artifacts and manages their lifecycle. The
// start command, environment and port were all baked in at build time; a
// launch only decides which host port the declared container port lands on.
package runtime

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/fastsurvey/slipway/internal/engine"
)

type LaunchConfig struct {
	// ImageRef names the image to run, by id or tag.
	ImageRef string
	// HostPort fixes the host side of the published port. Empty picks an
	// ephemeral port. Only valid when the image declares exactly one port.
	HostPort string
	// Name is an optional engine-side container name.
	Name string
}

// Instance is a launched artifact. It stays running until it exits on its own
// or Stop tears it down.
type Instance struct {
	ID        string
	ImageRef  string
	Ports     []engine.PortBinding
	StartedAt time.Time
}

// PublishedPort reports the host port a declared container port was published
// on, e.g. ("8000/tcp") -> "32769".
func (i *Instance) PublishedPort(containerPort string) (string, bool) {
	for _, binding := range i.Ports {
		if binding.ContainerPort == containerPort {
			return binding.HostPort, true
		}
	}

	return "", false
}

type Launcher struct {
	engine engine.Engine
	logger zerolog.Logger
}

func NewLauncher(eng engine.Engine, logger zerolog.Logger) *Launcher {
	return &Launcher{engine: eng, logger: logger}
}

// Launch starts a container from the image using its baked start command and
// publishes every declared port. The container is removed again if it cannot
// be started.
func (l *Launcher) Launch(ctx context.Context, cfg LaunchConfig) (*Instance, error) {
	info, err := l.engine.InspectImage(ctx, cfg.ImageRef)
	if err != nil {
		return nil, fmt.Errorf("inspect image: %w", err)
	}
	if len(info.Cmd) == 0 && len(info.Entrypoint) == 0 {
		return nil, fmt.Errorf("image %s declares no start command", cfg.ImageRef)
	}
	if cfg.HostPort != "" && len(info.ExposedPorts) != 1 {
		return nil, fmt.Errorf("image %s declares %d ports, cannot bind them all to host port %s",
			cfg.ImageRef, len(info.ExposedPorts), cfg.HostPort)
	}

	bindings := make(map[string]string, len(info.ExposedPorts))
	for _, port := range info.ExposedPorts {
		bindings[port] = cfg.HostPort
	}

	containerID, err := l.engine.CreateContainer(ctx, engine.CreateOptions{
		Image:        cfg.ImageRef,
		Name:         cfg.Name,
		PortBindings: bindings,
	})
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := l.engine.StartContainer(ctx, containerID); err != nil {
		_ = l.engine.RemoveContainer(ctx, containerID)
		return nil, fmt.Errorf("start container: %w", err)
	}

	ports, err := l.engine.PortBindings(ctx, containerID)
	if err != nil {
		_ = l.engine.RemoveContainer(ctx, containerID)
		return nil, fmt.Errorf("read port bindings: %w", err)
	}

	instance := &Instance{
		ID:        containerID,
		ImageRef:  cfg.ImageRef,
		Ports:     ports,
		StartedAt: time.Now(),
	}

	event := l.logger.Info().Str("container", containerID).Str("image", cfg.ImageRef)
	for _, binding := range ports {
		event = event.Str("port", binding.ContainerPort+"->"+binding.HostPort)
	}
	event.Msg("app started")

	return instance, nil
}

// Wait blocks until the instance exits and returns its exit code.
func (l *Launcher) Wait(ctx context.Context, instance *Instance) (int64, error) {
	return l.engine.WaitContainer(ctx, instance.ID)
}

// Logs follows the instance's output until the stream ends.
func (l *Launcher) Logs(ctx context.Context, instance *Instance, stdout, stderr io.Writer) error {
	return l.engine.ContainerLogs(ctx, instance.ID, stdout, stderr)
}

// Stop tears the instance down, killing it if it is still running.
func (l *Launcher) Stop(ctx context.Context, instance *Instance) error {
	if err := l.engine.RemoveContainer(ctx, instance.ID); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}

	l.logger.Info().Str("container", instance.ID).Msg("app stopped")

	return nil
}
