package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Paintersrp/procdock/internal/workload"
)

const (
	// CurrentVersion is written into new documents.
	CurrentVersion = "1"

	BackendCLI = "cli"
	BackendAPI = "api"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// File is the procdock configuration document.
type File struct {
	Version   string            `yaml:"version"`
	Name      string            `yaml:"name,omitempty"`
	Engine    EngineConfig      `yaml:"engine,omitempty"`
	Workloads []workload.Config `yaml:"workloads"`

	// dir is the directory of the file the document was loaded from.
	dir string
}

// EngineConfig tunes the supervision engine.
type EngineConfig struct {
	MonitorInterval Duration        `yaml:"monitorInterval,omitempty"`
	PollInterval    Duration        `yaml:"pollInterval,omitempty"`
	Container       ContainerConfig `yaml:"container,omitempty"`
}

// ContainerConfig selects the container backend.
type ContainerConfig struct {
	Backend string `yaml:"backend,omitempty"`
	Binary  string `yaml:"binary,omitempty"`
}

// Default returns an empty document.
func Default() *File {
	return &File{
		Version:   CurrentVersion,
		Name:      "procdock",
		Workloads: []workload.Config{},
	}
}

// ApplyDefaults fills omitted fields.
func (f *File) ApplyDefaults() error {
	if strings.TrimSpace(f.Version) == "" {
		f.Version = CurrentVersion
	}
	backend := strings.ToLower(strings.TrimSpace(f.Engine.Container.Backend))
	if backend == "" {
		backend = BackendCLI
	}
	f.Engine.Container.Backend = backend
	for i := range f.Workloads {
		kind, err := workload.ParseKind(string(f.Workloads[i].Kind))
		if err != nil {
			return fmt.Errorf("%s: %w", workloadField(i, "kind"), err)
		}
		f.Workloads[i].Kind = kind
	}
	return nil
}

// Validate enforces document invariants the schema cannot express.
func (f *File) Validate() error {
	if f.Version != CurrentVersion {
		return fmt.Errorf("%s: unsupported version %q", fieldPath("version"), f.Version)
	}
	switch f.Engine.Container.Backend {
	case BackendCLI, BackendAPI:
	default:
		return fmt.Errorf("%s: unknown backend %q", fieldPath("engine", "container", "backend"), f.Engine.Container.Backend)
	}
	if f.Engine.MonitorInterval.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("engine", "monitorInterval"))
	}
	if f.Engine.PollInterval.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("engine", "pollInterval"))
	}

	seen := make(map[string]int, len(f.Workloads))
	for i, w := range f.Workloads {
		if strings.TrimSpace(w.ID) == "" {
			return fmt.Errorf("%s: is required", workloadField(i, "id"))
		}
		if prev, ok := seen[w.ID]; ok {
			return fmt.Errorf("%s: duplicates %s", workloadField(i, "id"), workloadField(prev, "id"))
		}
		seen[w.ID] = i
		if strings.TrimSpace(w.Command) == "" {
			return fmt.Errorf("%s: is required", workloadField(i, "command"))
		}
		if w.Kind == workload.KindContainer && strings.ContainsAny(w.Command, " \t") {
			return fmt.Errorf("%s: container name must not contain whitespace", workloadField(i, "command"))
		}
	}
	return nil
}

// Find returns the workload with id.
func (f *File) Find(id string) (workload.Config, bool) {
	for _, w := range f.Workloads {
		if w.ID == id {
			return w, true
		}
	}
	return workload.Config{}, false
}

// Add appends cfg, rejecting duplicate ids.
func (f *File) Add(cfg workload.Config) error {
	if _, ok := f.Find(cfg.ID); ok {
		return fmt.Errorf("workload %q already exists", cfg.ID)
	}
	f.Workloads = append(f.Workloads, cfg)
	return nil
}

// Update replaces the workload sharing cfg's id.
func (f *File) Update(cfg workload.Config) error {
	for i := range f.Workloads {
		if f.Workloads[i].ID == cfg.ID {
			f.Workloads[i] = cfg
			return nil
		}
	}
	return fmt.Errorf("workload %q not found", cfg.ID)
}

// Remove deletes the workload with id and reports whether it existed.
func (f *File) Remove(id string) bool {
	for i := range f.Workloads {
		if f.Workloads[i].ID == id {
			f.Workloads = append(f.Workloads[:i], f.Workloads[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup finds a workload by id, falling back to a unique name match.
func (f *File) Lookup(ref string) (workload.Config, error) {
	if w, ok := f.Find(ref); ok {
		return w, nil
	}
	var matches []workload.Config
	for _, w := range f.Workloads {
		if strings.EqualFold(w.Name, ref) {
			matches = append(matches, w)
		}
	}
	switch len(matches) {
	case 0:
		return workload.Config{}, fmt.Errorf("workload %q not found", ref)
	case 1:
		return matches[0], nil
	default:
		return workload.Config{}, fmt.Errorf("workload name %q is ambiguous; use its id", ref)
	}
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}

func workloadField(index int, parts ...string) string {
	pathParts := append([]string{fmt.Sprintf("workloads[%d]", index)}, parts...)
	return fieldPath(pathParts...)
}
