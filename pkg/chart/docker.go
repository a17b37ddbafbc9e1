package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Container limits for one chart run.
const (
	DefaultImage     = "insightgraph/chart-sandbox:latest"
	memoryLimitBytes = 512 * 1024 * 1024
	nanoCPUs         = 1_000_000_000
	pidsLimit        = 64
	sandboxUser      = "65534:65534"
)

// DockerSandbox runs each chart in a fresh container with no network, a
// read-only root filesystem, no capabilities and a memory, CPU and process
// cap. The image must provide python3 with the allowed modules.
type DockerSandbox struct {
	cli       *client.Client
	image     string
	runtime   string
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
}

// DockerOption configures a DockerSandbox.
type DockerOption func(*DockerSandbox)

// WithImage sets the sandbox image.
func WithImage(image string) DockerOption {
	return func(s *DockerSandbox) { s.image = image }
}

// WithRuntime sets the container runtime, e.g. "runsc" for gVisor.
func WithRuntime(runtime string) DockerOption {
	return func(s *DockerSandbox) { s.runtime = runtime }
}

// WithDockerTimeout bounds one run, container start included.
func WithDockerTimeout(d time.Duration) DockerOption {
	return func(s *DockerSandbox) { s.timeout = d }
}

// WithDockerLogger sets the logger.
func WithDockerLogger(l *slog.Logger) DockerOption {
	return func(s *DockerSandbox) { s.logger = l }
}

// NewDockerSandbox connects to the Docker daemon from the environment.
func NewDockerSandbox(opts ...DockerOption) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	s := &DockerSandbox{
		cli:       cli,
		image:     DefaultImage,
		timeout:   DefaultTimeout,
		maxOutput: DefaultMaxOutput,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// Ping checks the daemon is reachable.
func (s *DockerSandbox) Ping(ctx context.Context) error {
	_, err := s.cli.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (s *DockerSandbox) Close() error {
	return s.cli.Close()
}

// containerConfigs returns the locked-down container configuration.
func (s *DockerSandbox) containerConfigs() (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:           s.image,
		User:            sandboxUser,
		Cmd:             []string{"python3", "-I", "-c", harness},
		Env:             []string{"HOME=/tmp", "MPLCONFIGDIR=/tmp"},
		WorkingDir:      "/tmp",
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		OpenStdin:       true,
		StdinOnce:       true,
		NetworkDisabled: true,
	}
	pids := int64(pidsLimit)
	host := &container.HostConfig{
		Runtime:        s.runtime,
		NetworkMode:    container.NetworkMode("none"),
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=64m"},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			NanoCPUs:  nanoCPUs,
			PidsLimit: &pids,
		},
	}
	return cfg, host
}

// Execute implements Sandbox.
func (s *DockerSandbox) Execute(ctx context.Context, code string, data []map[string]any) (json.RawMessage, error) {
	input, err := encodeInput(code, data)
	if err != nil {
		return nil, fmt.Errorf("encode chart input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cfg, host := s.containerConfigs()
	created, err := s.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create sandbox container: %w", err)
	}
	defer s.remove(created.ID)

	attach, err := s.cli.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach sandbox container: %w", err)
	}
	defer attach.Close()

	waitCh, errCh := s.cli.ContainerWait(ctx, created.ID, container.WaitConditionNextExit)
	if err := s.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start sandbox container: %w", err)
	}

	if _, err := attach.Conn.Write(input); err != nil {
		return nil, fmt.Errorf("write chart input: %w", err)
	}
	if err := attach.CloseWrite(); err != nil {
		return nil, fmt.Errorf("close chart input: %w", err)
	}

	var stdout, stderr bytes.Buffer
	outW := &limitedWriter{w: &stdout, n: s.maxOutput + 1}
	errW := &limitedWriter{w: &stderr, n: 64 << 10}
	if _, err := stdcopy.StdCopy(outW, errW, attach.Reader); err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("read sandbox output: %w", err)
	}

	select {
	case res := <-waitCh:
		if res.Error != nil {
			return nil, fmt.Errorf("sandbox container: %s", res.Error.Message)
		}
		return decodeOutput(int(res.StatusCode), stdout.Bytes(), stderr.Bytes(), s.maxOutput)
	case err := <-errCh:
		return nil, fmt.Errorf("wait sandbox container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("chart code: %w", ctx.Err())
	}
}

func (s *DockerSandbox) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		s.logger.Warn("remove sandbox container", slog.String("container_id", id), slog.String("error", err.Error()))
	}
}
