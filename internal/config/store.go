package config

import (
	"sync"

	"github.com/Paintersrp/procdock/internal/workload"
)

// Store serializes edits to a loaded document and writes each one back to
// disk.
type Store struct {
	path string

	mu  sync.Mutex
	doc *File
}

// NewStore wraps doc, persisting to path.
func NewStore(path string, doc *File) *Store {
	if doc == nil {
		doc = Default()
	}
	return &Store{path: path, doc: doc}
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Add appends cfg and saves the document. The in-memory document is left
// unchanged when validation or the write fails.
func (s *Store) Add(cfg workload.Config) error {
	return s.edit(func(doc *File) error {
		return doc.Add(cfg)
	})
}

// Remove deletes the workload with id and saves the document. Unknown ids
// are ignored.
func (s *Store) Remove(id string) error {
	return s.edit(func(doc *File) error {
		doc.Remove(id)
		return nil
	})
}

// Replace swaps in a freshly loaded document without writing it.
func (s *Store) Replace(doc *File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
}

// Document returns a copy of the current document.
func (s *Store) Document() *File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.clone()
}

func (s *Store) edit(fn func(*File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.ApplyDefaults(); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if err := Save(s.path, next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (f *File) clone() *File {
	dup := *f
	dup.Workloads = append([]workload.Config(nil), f.Workloads...)
	return &dup
}
