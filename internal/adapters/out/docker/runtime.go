// Package docker implements the container runtime adapter using Docker API.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/bnema/zerowrap"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// Runtime implements the ContainerRuntime interface using Docker API.
type Runtime struct {
	client *client.Client
}

var _ out.ContainerRuntime = (*Runtime)(nil)

// NewRuntime creates a new Docker runtime instance.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Runtime{
		client: cli,
	}, nil
}

// NewRuntimeWithClient creates a new Docker runtime instance with a custom client (for testing).
func NewRuntimeWithClient(cli *client.Client) *Runtime {
	return &Runtime{
		client: cli,
	}
}

// CreateContainer creates a new container.
func (r *Runtime) CreateContainer(ctx context.Context, config *domain.ContainerConfig) (*domain.Container, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  "CreateContainer",
		"container_name":      config.Name,
		"image":               config.Image,
	})
	log := zerowrap.FromCtx(ctx)

	exposedPorts := make(nat.PortSet)
	portBindings := make(nat.PortMap)

	if config.ContainerPort > 0 {
		containerPort := nat.Port(fmt.Sprintf("%d/tcp", config.ContainerPort))
		exposedPorts[containerPort] = struct{}{}

		hostPort := ""
		if config.HostPort > 0 {
			hostPort = strconv.Itoa(config.HostPort)
		}
		portBindings[containerPort] = []nat.PortBinding{
			{
				// Loopback only: the edge terminator is the sole public surface.
				HostIP:   "127.0.0.1",
				HostPort: hostPort,
			},
		}
	}

	containerConfig := &container.Config{
		Image:        config.Image,
		Env:          config.Env,
		Cmd:          config.Cmd,
		User:         config.User,
		ExposedPorts: exposedPorts,
		Labels:       config.Labels,
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Resources: container.Resources{
			Memory:   config.Memory,
			NanoCPUs: config.NanoCPUs,
		},
	}
	if config.AutoRestart {
		// unless-stopped: the engine brings the container back after a host
		// reboot, but a container we stopped deliberately stays down. The
		// supervisor reconciles its own state on bootstrap.
		hostConfig.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyUnlessStopped}
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, config.Name)
	if err != nil {
		return nil, log.WrapErr(err, "failed to create container")
	}

	log.Info().Str(zerowrap.FieldEntityID, resp.ID).Msg("container created")

	return r.InspectContainer(ctx, resp.ID)
}

// StartContainer starts a container.
func (r *Runtime) StartContainer(ctx context.Context, containerID string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "adapter",
		zerowrap.FieldAdapter:  "docker",
		zerowrap.FieldAction:   "StartContainer",
		zerowrap.FieldEntityID: containerID,
	})
	log := zerowrap.FromCtx(ctx)

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return log.WrapErr(err, "failed to start container")
	}

	log.Info().Msg("container started")
	return nil
}

// StopContainer stops a container.
func (r *Runtime) StopContainer(ctx context.Context, containerID string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "adapter",
		zerowrap.FieldAdapter:  "docker",
		zerowrap.FieldAction:   "StopContainer",
		zerowrap.FieldEntityID: containerID,
	})
	log := zerowrap.FromCtx(ctx)

	if err := r.client.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return log.WrapErr(err, "failed to stop container")
	}

	log.Info().Msg("container stopped")
	return nil
}

// RemoveContainer removes a container.
func (r *Runtime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "adapter",
		zerowrap.FieldAdapter:  "docker",
		zerowrap.FieldAction:   "RemoveContainer",
		zerowrap.FieldEntityID: containerID,
	})
	log := zerowrap.FromCtx(ctx)

	err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return log.WrapErr(err, "failed to remove container")
	}

	log.Info().Msg("container removed")
	return nil
}

// InspectContainer inspects a container.
func (r *Runtime) InspectContainer(ctx context.Context, containerID string) (*domain.Container, error) {
	log := zerowrap.FromCtx(ctx)

	resp, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, containerID)
		}
		return nil, log.WrapErr(err, "failed to inspect container")
	}

	return containerFromInspect(resp), nil
}

// ListContainers lists containers managed by this daemon, identified by label.
func (r *Runtime) ListContainers(ctx context.Context, all bool) ([]*domain.Container, error) {
	log := zerowrap.FromCtx(ctx)

	containers, err := r.client.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, log.WrapErr(err, "failed to list containers")
	}

	result := make([]*domain.Container, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = trimSlash(c.Names[0])
		}
		result = append(result, &domain.Container{
			ID:     c.ID,
			Name:   name,
			Image:  c.Image,
			State:  c.State,
			Labels: c.Labels,
		})
	}

	return result, nil
}

// GetContainerLogs returns the last tail lines of a container's output.
func (r *Runtime) GetContainerLogs(ctx context.Context, containerID string, tail int) (io.ReadCloser, error) {
	log := zerowrap.FromCtx(ctx)

	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}

	logs, err := r.client.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return nil, log.WrapErr(err, "failed to get container logs")
	}
	return logs, nil
}

// BuildImage builds an image from a context directory and returns its ID.
// The build stream is consumed fully so daemon-side failures surface as
// errors rather than truncated output.
func (r *Runtime) BuildImage(ctx context.Context, req out.ImageBuildRequest) (string, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  "BuildImage",
		"context_dir":         req.ContextDir,
		"target":              req.Target,
	})
	log := zerowrap.FromCtx(ctx)

	buildCtx, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{})
	if err != nil {
		return "", log.WrapErr(err, "failed to create build context")
	}
	defer func() { _ = buildCtx.Close() }()

	dockerfile := req.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	resp, err := r.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       req.Tags,
		Dockerfile: dockerfile,
		Target:     req.Target,
		BuildArgs:  req.BuildArgs,
		NoCache:    req.NoCache,
		Remove:     true,
	})
	if err != nil {
		return "", log.WrapErr(err, "failed to start image build")
	}
	defer func() { _ = resp.Body.Close() }()

	var imageID string
	auxCallback := func(msg jsonmessage.JSONMessage) {
		if msg.Aux == nil {
			return
		}
		var result types.BuildResult
		if err := json.Unmarshal(*msg.Aux, &result); err == nil && result.ID != "" {
			imageID = result.ID
		}
	}
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, auxCallback); err != nil {
		return "", log.WrapErr(err, "image build failed")
	}

	if imageID == "" && len(req.Tags) > 0 {
		inspect, err := r.client.ImageInspect(ctx, req.Tags[0])
		if err != nil {
			return "", log.WrapErr(err, "failed to resolve built image")
		}
		imageID = inspect.ID
	}

	log.Info().Str("image_id", imageID).Msg("image built")
	return imageID, nil
}

// TagImage tags an existing image under a new reference.
func (r *Runtime) TagImage(ctx context.Context, sourceRef, targetRef string) error {
	log := zerowrap.FromCtx(ctx)
	if err := r.client.ImageTag(ctx, sourceRef, targetRef); err != nil {
		return log.WrapErr(err, "failed to tag image")
	}
	return nil
}

// RemoveImage removes an image.
func (r *Runtime) RemoveImage(ctx context.Context, imageRef string, force bool) error {
	log := zerowrap.FromCtx(ctx)
	_, err := r.client.ImageRemove(ctx, imageRef, image.RemoveOptions{Force: force})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return log.WrapErr(err, "failed to remove image")
	}
	return nil
}

// ImageExists reports whether an image reference resolves locally.
func (r *Runtime) ImageExists(ctx context.Context, imageRef string) (bool, error) {
	_, err := r.client.ImageInspect(ctx, imageRef)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect image: %w", err)
	}
	return true, nil
}

// InspectImageEnv returns the environment baked into an image.
func (r *Runtime) InspectImageEnv(ctx context.Context, imageRef string) ([]string, error) {
	log := zerowrap.FromCtx(ctx)

	inspect, err := r.client.ImageInspect(ctx, imageRef)
	if err != nil {
		return nil, log.WrapErr(err, "failed to inspect image")
	}
	if inspect.Config == nil {
		return nil, nil
	}
	return inspect.Config.Env, nil
}

// InspectImageUser returns the USER an image runs as.
func (r *Runtime) InspectImageUser(ctx context.Context, imageRef string) (string, error) {
	log := zerowrap.FromCtx(ctx)

	inspect, err := r.client.ImageInspect(ctx, imageRef)
	if err != nil {
		return "", log.WrapErr(err, "failed to inspect image")
	}
	if inspect.Config == nil {
		return "", nil
	}
	return inspect.Config.User, nil
}

// Ping checks connectivity with the Docker daemon.
func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

func containerFromInspect(resp container.InspectResponse) *domain.Container {
	c := &domain.Container{
		ID:   resp.ID,
		Name: trimSlash(resp.Name),
	}
	if resp.Config != nil {
		c.Image = resp.Config.Image
		c.Labels = resp.Config.Labels
	}
	if resp.State != nil {
		c.State = resp.State.Status
		c.ExitCode = resp.State.ExitCode
	}
	return c
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}
