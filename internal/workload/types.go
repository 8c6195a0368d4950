// Package workload defines the records shared between the supervision engine
// and its front ends: the declarative workload configuration, the status
// state machine and the bounded log window.
package workload

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind selects the backend that runs a workload.
type Kind string

const (
	// KindCommand workloads are spawned locally from a command string.
	KindCommand Kind = "command"
	// KindContainer workloads are pre-existing containers driven by name.
	KindContainer Kind = "container"
)

// String returns the display label of the kind.
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "Command"
	case KindContainer:
		return "Container"
	default:
		return string(k)
	}
}

// ParseKind accepts the configuration spellings of a kind. An empty value
// defaults to KindCommand.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "command", "process":
		return KindCommand, nil
	case "container", "docker":
		return KindContainer, nil
	default:
		return "", fmt.Errorf("unknown workload kind %q", value)
	}
}

// Config is the declarative description of one supervised workload.
type Config struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	Command        string `yaml:"command" json:"command"`
	WorkingDir     string `yaml:"workdir,omitempty" json:"workdir,omitempty"`
	Kind           Kind   `yaml:"kind" json:"kind"`
	AutoStart      bool   `yaml:"autoStart,omitempty" json:"autoStart,omitempty"`
	ManagedRestart bool   `yaml:"managedRestart,omitempty" json:"managedRestart,omitempty"`
}

// NewConfig builds a configuration with a freshly generated identifier.
func NewConfig(name, command, workdir string, kind Kind) Config {
	return Config{
		ID:         uuid.NewString(),
		Name:       name,
		Command:    command,
		WorkingDir: workdir,
		Kind:       kind,
	}
}

// DisplayName falls back to the command when no name was configured.
func (c Config) DisplayName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return c.Command
}

// Snapshot is a read-only view of one engine entry.
type Snapshot struct {
	Config   Config
	Status   Status
	LogLines int
	PID      int
}
