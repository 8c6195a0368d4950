package command

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no executable candidate exists.
var ErrNotFound = errors.New("program not found or not executable")

var (
	defaultExtensions  = []string{".exe", ".com", ".cmd", ".bat"}
	defaultInterpreted = []string{".cmd", ".bat"}
)

// Resolved is a concrete executable chosen by a Resolver.
type Resolved struct {
	Path string
	// Interpreted is set for scripts that must be run through the
	// platform's command interpreter.
	Interpreted bool
}

// Resolver finds executables the way extension-dispatching platforms do:
// a bare name is searched across a PATH-like list, trying each supported
// extension in priority order.
type Resolver struct {
	PathList    string
	Extensions  []string
	Interpreted []string

	stat func(string) (fs.FileInfo, error)
}

// NewResolver returns a resolver over the current PATH with the Windows
// extension set.
func NewResolver() *Resolver {
	return &Resolver{
		PathList:    os.Getenv("PATH"),
		Extensions:  append([]string(nil), defaultExtensions...),
		Interpreted: append([]string(nil), defaultInterpreted...),
	}
}

// Resolve maps program to an existing regular file.
func (r *Resolver) Resolve(program string) (Resolved, error) {
	program = strings.TrimSpace(program)
	if program == "" {
		return Resolved{}, ErrEmpty
	}

	if strings.ContainsAny(program, `/\`) || filepath.IsAbs(program) {
		if res, ok := r.candidates(program); ok {
			return res, nil
		}
		return Resolved{}, fmt.Errorf("%w: %s (expected %s)", ErrNotFound, program, strings.Join(r.extensions(), "/"))
	}

	for _, dir := range filepath.SplitList(r.PathList) {
		if dir == "" {
			continue
		}
		if res, ok := r.candidates(filepath.Join(dir, program)); ok {
			return res, nil
		}
	}
	return Resolved{}, fmt.Errorf("%w: %s (expected %s on PATH)", ErrNotFound, program, strings.Join(r.extensions(), "/"))
}

func (r *Resolver) candidates(base string) (Resolved, bool) {
	if r.recognized(filepath.Ext(base)) {
		return r.check(base)
	}
	for _, ext := range r.extensions() {
		if res, ok := r.check(base + ext); ok {
			return res, true
		}
	}
	return Resolved{}, false
}

func (r *Resolver) check(path string) (Resolved, bool) {
	stat := r.stat
	if stat == nil {
		stat = os.Stat
	}
	info, err := stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Resolved{}, false
	}
	ext := strings.ToLower(filepath.Ext(path))
	interpreted := false
	for _, candidate := range r.interpreted() {
		if ext == strings.ToLower(candidate) {
			interpreted = true
			break
		}
	}
	return Resolved{Path: path, Interpreted: interpreted}, true
}

func (r *Resolver) recognized(ext string) bool {
	if ext == "" {
		return false
	}
	for _, candidate := range r.extensions() {
		if strings.EqualFold(ext, candidate) {
			return true
		}
	}
	return false
}

func (r *Resolver) extensions() []string {
	if len(r.Extensions) == 0 {
		return defaultExtensions
	}
	return r.Extensions
}

func (r *Resolver) interpreted() []string {
	if r.Interpreted == nil {
		return defaultInterpreted
	}
	return r.Interpreted
}
