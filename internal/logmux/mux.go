// Package logmux fans workload output from many producers into one bounded
// stream for terminal rendering.
package logmux

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Paintersrp/procdock/internal/engine"
	"github.com/Paintersrp/procdock/internal/runtime"
	"github.com/Paintersrp/procdock/internal/workload"
)

// Entry is one line of output or one status note for a workload.
type Entry struct {
	Timestamp time.Time
	ID        string
	Workload  string
	Message   string
	Source    string
	Alarming  bool
}

// FromLog converts an engine log event.
func FromLog(ev engine.LogEvent) Entry {
	source := runtime.LogSourceStdout
	message := ev.Line
	if rest, ok := strings.CutPrefix(ev.Line, workload.StderrTag); ok {
		source = runtime.LogSourceStderr
		message = strings.TrimPrefix(rest, " ")
	}
	return Entry{
		Timestamp: ev.Timestamp,
		ID:        ev.ID,
		Workload:  ev.Name,
		Message:   message,
		Source:    source,
		Alarming:  ev.Alarming,
	}
}

// FromStatus converts an engine status event.
func FromStatus(ev engine.StatusEvent) Entry {
	message := fmt.Sprintf("%s -> %s", ev.From, ev.To)
	if ev.Removed {
		message = "removed"
	}
	return Entry{
		Timestamp: ev.Timestamp,
		ID:        ev.ID,
		Workload:  ev.Name,
		Message:   message,
		Source:    runtime.LogSourceSystem,
		Alarming:  !ev.Removed && ev.To.Is(workload.StateError),
	}
}

// Mux fans in entries and delivers them via a bounded channel. When the
// consumer cannot keep up, entries are dropped and a synthesized warning
// reports how many were discarded per workload.
type Mux struct {
	out chan Entry

	mu     sync.Mutex
	drops  map[string]int
	inputs sync.WaitGroup

	sendMu sync.RWMutex
	closed bool
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan Entry, size),
		drops: make(map[string]int),
	}
}

// Output exposes the muxed entry channel.
func (m *Mux) Output() <-chan Entry {
	return m.out
}

// Add registers a source channel, consumed until it is closed.
func (m *Mux) Add(source <-chan Entry) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for entry := range source {
			m.Offer(entry)
		}
	}()
}

// Offer delivers entry without blocking. It is safe to call from event
// handlers and is a no-op after Close.
func (m *Mux) Offer(entry Entry) {
	m.sendMu.RLock()
	defer m.sendMu.RUnlock()
	if m.closed {
		return
	}
	entry = normalize(entry)
	if !m.flushPending(entry.Workload) {
		m.recordDrop(entry.Workload, 1)
		return
	}
	if !m.trySend(entry) {
		m.recordDrop(entry.Workload, 1)
	}
}

// Close waits for added sources to drain, emits pending drop notices and
// closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for name, count := range m.collectDrops() {
		m.out <- synthesizeDropEntry(name, count)
	}
	close(m.out)
}

func (m *Mux) flushPending(name string) bool {
	count := m.takeDrops(name)
	if count == 0 {
		return true
	}
	if m.trySend(synthesizeDropEntry(name, count)) {
		return true
	}
	m.recordDrop(name, count)
	return false
}

func (m *Mux) takeDrops(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.drops[name]
	delete(m.drops, name)
	return count
}

func (m *Mux) recordDrop(name string, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[name] += count
}

func (m *Mux) collectDrops() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := m.drops
	m.drops = make(map[string]int)
	return dup
}

func (m *Mux) trySend(entry Entry) bool {
	select {
	case m.out <- entry:
		return true
	default:
		return false
	}
}

func normalize(entry Entry) Entry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Source == "" {
		entry.Source = runtime.LogSourceStdout
	}
	return entry
}

func synthesizeDropEntry(name string, count int) Entry {
	return Entry{
		Timestamp: time.Now(),
		Workload:  name,
		Message:   fmt.Sprintf("dropped=%d", count),
		Source:    runtime.LogSourceSystem,
	}
}
