// Package container implements the default container backend, which drives
// a docker compatible command-line tool.
package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Paintersrp/procdock/internal/runtime"
	"github.com/Paintersrp/procdock/internal/runtime/containerutil"
)

// DefaultBinary is the CLI used when none is configured.
const DefaultBinary = "docker"

func init() {
	runtime.Register("cli", func(opts runtime.Options) (runtime.ContainerRuntime, error) {
		return NewCLI(opts.Binary), nil
	})
}

// CLI drives containers through `<binary> start|stop|inspect|logs`.
type CLI struct {
	binary string
}

// NewCLI returns a backend invoking binary, defaulting to docker.
func NewCLI(binary string) *CLI {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	return &CLI{binary: binary}
}

// Binary returns the executable the backend invokes.
func (c *CLI) Binary() string {
	return c.binary
}

func (c *CLI) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	configureCmd(cmd)
	return cmd
}

// run executes the CLI and returns its trimmed standard output. A failed
// invocation reports the tool's own diagnostic when it printed one.
func (c *CLI) run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := c.command(ctx, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", errors.New(msg)
		}
		return "", fmt.Errorf("%s %s: %w", c.binary, args[0], err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *CLI) Start(ctx context.Context, name string) error {
	_, err := c.run(ctx, "start", name)
	return err
}

func (c *CLI) Stop(ctx context.Context, name string) error {
	_, err := c.run(ctx, "stop", name)
	return err
}

func (c *CLI) Running(ctx context.Context, name string) (bool, error) {
	out, err := c.run(ctx, "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		return false, err
	}
	running, err := strconv.ParseBool(strings.ToLower(out))
	if err != nil {
		return false, fmt.Errorf("unexpected inspect output %q", out)
	}
	return running, nil
}

func (c *CLI) Logs(ctx context.Context, name string, tail int) (<-chan runtime.LogEntry, error) {
	if tail < 0 {
		tail = 0
	}
	out := make(chan runtime.LogEntry, 64)
	emit := containerutil.ChannelEmitter(ctx, out)
	stdout := containerutil.NewLogWriter(ctx, emit, runtime.LogSourceStdout)
	stderr := containerutil.NewLogWriter(ctx, emit, runtime.LogSourceStderr)

	cmd := c.command(ctx, "logs", "-f", "--tail", strconv.Itoa(tail), name)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("follow logs for %s: %w", name, err)
	}

	go func() {
		defer close(out)
		_ = cmd.Wait()
		stdout.Close()
		stderr.Close()
	}()
	return out, nil
}
