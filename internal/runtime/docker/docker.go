// Package docker implements a container backend on top of the Docker Engine
// API client.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/Paintersrp/procdock/internal/runtime"
	"github.com/Paintersrp/procdock/internal/runtime/containerutil"
)

const stopTimeout = 10 * time.Second

func init() {
	runtime.Register("api", func(runtime.Options) (runtime.ContainerRuntime, error) {
		return New(), nil
	})
}

// apiClient is the subset of the engine client used by the backend.
type apiClient interface {
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
}

type runtimeImpl struct {
	client     apiClient
	clientOnce sync.Once
	clientErr  error
}

// New returns a Docker API backed runtime. The client is created on first
// use from the standard DOCKER_* environment.
func New() runtime.ContainerRuntime {
	return &runtimeImpl{}
}

func newWithClient(cli apiClient) *runtimeImpl {
	r := &runtimeImpl{client: cli}
	r.clientOnce.Do(func() {})
	return r
}

func (r *runtimeImpl) getClient() (apiClient, error) {
	r.clientOnce.Do(func() {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			r.clientErr = fmt.Errorf("create docker client: %w", err)
			return
		}
		r.client = cli
	})
	return r.client, r.clientErr
}

func (r *runtimeImpl) Start(ctx context.Context, name string) error {
	cli, err := r.getClient()
	if err != nil {
		return err
	}
	return cli.ContainerStart(ctx, name, types.ContainerStartOptions{})
}

func (r *runtimeImpl) Stop(ctx context.Context, name string) error {
	cli, err := r.getClient()
	if err != nil {
		return err
	}
	sec := int(stopTimeout.Seconds())
	return cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &sec})
}

func (r *runtimeImpl) Running(ctx context.Context, name string) (bool, error) {
	cli, err := r.getClient()
	if err != nil {
		return false, err
	}
	info, err := cli.ContainerInspect(ctx, name)
	if err != nil {
		return false, err
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return false, errors.New("inspect returned no container state")
	}
	return info.State.Running, nil
}

func (r *runtimeImpl) Logs(ctx context.Context, name string, tail int) (<-chan runtime.LogEntry, error) {
	cli, err := r.getClient()
	if err != nil {
		return nil, err
	}
	if tail < 0 {
		tail = 0
	}
	info, err := cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", name, err)
	}
	// TTY containers stream raw output without the stdcopy multiplexing.
	tty := info.Config != nil && info.Config.Tty

	reader, err := cli.ContainerLogs(ctx, name, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return nil, fmt.Errorf("follow logs for %s: %w", name, err)
	}

	out := make(chan runtime.LogEntry, 128)
	go func() {
		defer close(out)
		defer reader.Close()

		emit := containerutil.ChannelEmitter(ctx, out)
		stdout := containerutil.NewLogWriter(ctx, emit, runtime.LogSourceStdout)
		stderr := containerutil.NewLogWriter(ctx, emit, runtime.LogSourceStderr)
		if tty {
			_, _ = io.Copy(stdout, reader)
		} else {
			_, _ = stdcopy.StdCopy(stdout, stderr, reader)
		}
		stdout.Close()
		stderr.Close()
	}()
	return out, nil
}
