package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// Docker implements Engine against the Docker Engine API.
type Docker struct {
	cli *client.Client
}

// NewDocker connects to the engine. An empty host uses the environment
// (DOCKER_HOST et al).
func NewDocker(host string) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to container engine: %w", err)
	}

	return &Docker{cli: cli}, nil
}

func (d *Docker) Close() error {
	return d.cli.Close()
}

func (d *Docker) PullImage(ctx context.Context, imageRef string) (string, error) {
	rc, err := d.cli.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("pull %s: %w", imageRef, err)
	}

	// The pull is complete once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		_ = rc.Close()
		return "", fmt.Errorf("pull %s: %w", imageRef, err)
	}
	if err := rc.Close(); err != nil {
		return "", err
	}

	info, err := d.InspectImage(ctx, imageRef)
	if err != nil {
		return "", err
	}

	return info.ID, nil
}

// imageConfigDoc is the config subset read from a raw image inspect. Decoding
// the raw document keeps this independent of SDK type moves between engine
// API versions.
type imageConfigDoc struct {
	Config struct {
		Labels       map[string]string   `json:"Labels"`
		Env          []string            `json:"Env"`
		Cmd          []string            `json:"Cmd"`
		Entrypoint   []string            `json:"Entrypoint"`
		ExposedPorts map[string]struct{} `json:"ExposedPorts"`
		WorkingDir   string              `json:"WorkingDir"`
	} `json:"Config"`
}

func (d *Docker) InspectImage(ctx context.Context, imageRef string) (*ImageInfo, error) {
	inspect, raw, err := d.cli.ImageInspectWithRaw(ctx, imageRef)
	if err != nil {
		return nil, fmt.Errorf("inspect image %s: %w", imageRef, err)
	}

	var doc imageConfigDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode image inspect: %w", err)
	}

	ports := make([]string, 0, len(doc.Config.ExposedPorts))
	for port := range doc.Config.ExposedPorts {
		ports = append(ports, port)
	}
	sort.Strings(ports)

	return &ImageInfo{
		ID:           inspect.ID,
		RepoTags:     inspect.RepoTags,
		RepoDigests:  inspect.RepoDigests,
		Labels:       doc.Config.Labels,
		Env:          doc.Config.Env,
		Cmd:          doc.Config.Cmd,
		Entrypoint:   doc.Config.Entrypoint,
		ExposedPorts: ports,
		WorkingDir:   doc.Config.WorkingDir,
	}, nil
}

func (d *Docker) TagImage(ctx context.Context, imageID, imageRef string) error {
	if err := d.cli.ImageTag(ctx, imageID, imageRef); err != nil {
		return fmt.Errorf("tag %s as %s: %w", imageID, imageRef, err)
	}

	return nil
}

func (d *Docker) SaveImage(ctx context.Context, imageRef string) (io.ReadCloser, error) {
	rc, err := d.cli.ImageSave(ctx, []string{imageRef})
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", imageRef, err)
	}

	return rc, nil
}

func (d *Docker) CreateContainer(ctx context.Context, opts CreateOptions) (string, error) {
	exposed := nat.PortSet{}
	for _, spec := range opts.ExposedPorts {
		port, err := parsePort(spec)
		if err != nil {
			return "", err
		}
		exposed[port] = struct{}{}
	}

	bindings := nat.PortMap{}
	for spec, hostPort := range opts.PortBindings {
		port, err := parsePort(spec)
		if err != nil {
			return "", err
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}

	cfg := &container.Config{
		Image:  opts.Image,
		Cmd:    opts.Cmd,
		Env:    opts.Env,
		Labels: opts.Labels,
	}
	if len(exposed) > 0 {
		cfg.ExposedPorts = exposed
	}

	hostCfg := &container.HostConfig{}
	if len(bindings) > 0 {
		hostCfg.PortBindings = bindings
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("create container from %s: %w", opts.Image, err)
	}

	return resp.ID, nil
}

func parsePort(spec string) (nat.Port, error) {
	proto, portNum := nat.SplitProtoPort(spec)
	port, err := nat.NewPort(proto, portNum)
	if err != nil {
		return "", fmt.Errorf("invalid port %q: %w", spec, err)
	}

	return port, nil
}

func (d *Docker) StartContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	return nil
}

func (d *Docker) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	waitCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return 0, fmt.Errorf("wait for container: %w", err)
	case resp := <-waitCh:
		if resp.Error != nil {
			return 0, fmt.Errorf("wait for container: %s", resp.Error.Message)
		}
		return resp.StatusCode, nil
	}
}

func (d *Docker) CopyToContainer(ctx context.Context, containerID, destPath string, content io.Reader) error {
	err := d.cli.CopyToContainer(ctx, containerID, destPath, content, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("copy to container: %w", err)
	}

	return nil
}

func (d *Docker) CommitContainer(ctx context.Context, containerID string, opts CommitOptions) (string, error) {
	resp, err := d.cli.ContainerCommit(ctx, containerID, container.CommitOptions{
		Comment: opts.Comment,
		Changes: opts.Changes,
	})
	if err != nil {
		return "", fmt.Errorf("commit container: %w", err)
	}

	return resp.ID, nil
}

func (d *Docker) RemoveContainer(ctx context.Context, containerID string) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("remove container: %w", err)
	}

	return nil
}

func (d *Docker) ContainerLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error {
	rc, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	// The engine multiplexes both channels into one stream.
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stream logs: %w", err)
	}

	return nil
}

func (d *Docker) PortBindings(ctx context.Context, containerID string) ([]PortBinding, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("inspect container: %w", err)
	}
	if inspect.NetworkSettings == nil {
		return nil, nil
	}

	var bindings []PortBinding
	for port, hostPorts := range inspect.NetworkSettings.Ports {
		for _, hp := range hostPorts {
			bindings = append(bindings, PortBinding{ContainerPort: string(port), HostPort: hp.HostPort})
		}
	}
	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].ContainerPort < bindings[j].ContainerPort
	})

	return bindings, nil
}
