package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/procdock/internal/workload"
)

const (
	// EnvPath overrides the default configuration path.
	EnvPath = "PROCDOCK_CONFIG"
	// DefaultPath is used when neither a flag nor EnvPath is set.
	DefaultPath = "procdock.yaml"
)

// Path picks the configuration path: an explicit value wins, then EnvPath,
// then DefaultPath.
func Path(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads and validates the configuration document at path.
func Load(path string) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	doc.dir = filepath.Dir(absPath)
	return doc, nil
}

// LoadOrDefault behaves like Load but returns Default when path does not
// exist yet.
func LoadOrDefault(path string) (*File, error) {
	doc, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		doc = Default()
		if abs, absErr := filepath.Abs(path); absErr == nil {
			doc.dir = filepath.Dir(abs)
		}
		return doc, nil
	}
	return doc, err
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*File, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc File
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if doc.Workloads == nil {
		doc.Workloads = []workload.Config{}
	}
	if err := doc.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Save writes doc to path atomically through a temporary file in the same
// directory.
func Save(path string, doc *File) error {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Resolved returns the workloads with environment variables expanded in
// working directories and relative directories anchored at the document's
// location.
func (f *File) Resolved() []workload.Config {
	out := make([]workload.Config, len(f.Workloads))
	for i, w := range f.Workloads {
		if w.Kind != workload.KindContainer {
			w.WorkingDir = resolveWorkdir(f.dir, os.ExpandEnv(w.WorkingDir))
		}
		out[i] = w
	}
	return out
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return ""
	}
	if filepath.IsAbs(workdir) || base == "" {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}
