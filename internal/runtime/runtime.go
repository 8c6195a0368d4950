// Package runtime declares the backend contracts used by the supervision
// engine to drive container workloads, together with the log record shared
// by every backend.
package runtime

import (
	"context"
	"time"
)

const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// LogEntry is a single line of workload output.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Source    string
}

// ContainerRuntime drives pre-existing containers by name.
type ContainerRuntime interface {
	// Start starts the named container. Errors carry the runtime's own
	// diagnostic text.
	Start(ctx context.Context, name string) error

	// Stop stops the named container.
	Stop(ctx context.Context, name string) error

	// Running performs a point-in-time liveness inspection. Any failure to
	// inspect or to interpret the answer is reported as not running
	// alongside the error.
	Running(ctx context.Context, name string) (bool, error)

	// Logs follows the container output, starting with the last tail
	// lines. The channel is closed when the stream ends or ctx is
	// cancelled.
	Logs(ctx context.Context, name string, tail int) (<-chan LogEntry, error)
}

// Options configures a container backend.
type Options struct {
	// Binary is the container CLI executable, e.g. docker or podman.
	Binary string
}
