// Package engine implements the supervision engine: a process table of
// workloads that are launched, streamed, monitored and terminated
// concurrently, with a coalescing change notification for observers.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kelindar/event"
	"golang.org/x/sync/singleflight"

	"github.com/Paintersrp/procdock/internal/runtime"
	"github.com/Paintersrp/procdock/internal/runtime/container"
	"github.com/Paintersrp/procdock/internal/runtime/process"
	"github.com/Paintersrp/procdock/internal/workload"
)

// ErrUnknownWorkload is returned for operations on ids missing from the table.
var ErrUnknownWorkload = errors.New("unknown workload")

const (
	defaultMonitorInterval = 500 * time.Millisecond
	defaultPollInterval    = 750 * time.Millisecond

	// restartSettle separates the stop and start halves of a restart.
	restartSettle = 500 * time.Millisecond
	// stopWait bounds how long a stop waits for the OS to reap a killed
	// process.
	stopWait = 5 * time.Second

	containerCallTimeout = 30 * time.Second
	containerLogTail     = 100
)

// entry is the runtime state of one workload. Fields are guarded by
// Manager.mu.
type entry struct {
	cfg    workload.Config
	status workload.Status
	logs   *workload.LogBuffer
	proc   *process.Process

	// gen increments on every accepted start. Launch results, output and
	// exit notifications carrying an older generation are discarded.
	gen uint64

	stopping   chan struct{}
	stopFollow context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithContainerRuntime sets the backend used for container workloads.
func WithContainerRuntime(rt runtime.ContainerRuntime) Option {
	return func(m *Manager) {
		if rt != nil {
			m.containers = rt
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMonitorInterval sets how often a running process is checked for
// loss of ownership.
func WithMonitorInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.monitorInterval = d
		}
	}
}

// WithPollInterval sets the container status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// Manager owns the process table. All methods are safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string

	notify    *notifier
	errCount  atomic.Uint64
	events    *event.Dispatcher
	eventsMu  sync.RWMutex
	closed    bool
	restarts  singleflight.Group
	pollStart sync.Once

	containers      runtime.ContainerRuntime
	logger          *slog.Logger
	monitorInterval time.Duration
	pollInterval    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns an empty Manager. Container workloads use the docker CLI
// unless WithContainerRuntime is given.
func New(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		entries:         make(map[string]*entry),
		notify:          newNotifier(),
		events:          event.NewDispatcher(),
		containers:      container.NewCLI(container.DefaultBinary),
		logger:          slog.Default(),
		monitorInterval: defaultMonitorInterval,
		pollInterval:    defaultPollInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close stops the container poller and log followers and shuts down the
// event dispatcher. Running command workloads are left alone; call
// StopAllLocal first to tear them down.
func (m *Manager) Close() error {
	m.cancel()
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.events.Close()
}

// txn collects the side effects of a table mutation. Counter bumps happen
// while the lock is held; events are published after it is released.
type txn struct {
	m       *Manager
	publish []func()
}

// update runs fn under the table lock.
func (m *Manager) update(fn func(tx *txn)) {
	tx := &txn{m: m}
	m.mu.Lock()
	fn(tx)
	m.mu.Unlock()
	m.flush(tx.publish)
}

func (m *Manager) flush(publish []func()) {
	if len(publish) == 0 {
		return
	}
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	if m.closed {
		return
	}
	for _, fn := range publish {
		fn()
	}
}

func (tx *txn) bump() {
	tx.m.notify.bump()
}

func (tx *txn) setStatus(id string, e *entry, st workload.Status) {
	from := e.status
	e.status = st
	if st.State != workload.StateRunning && e.stopFollow != nil {
		e.stopFollow()
		e.stopFollow = nil
	}
	tx.bump()
	if st.State == workload.StateError {
		tx.m.errCount.Add(1)
	}
	ev := StatusEvent{Timestamp: time.Now(), ID: id, Name: e.cfg.DisplayName(), Kind: e.cfg.Kind, From: from, To: st}
	tx.publish = append(tx.publish, func() { event.Publish(tx.m.events, ev) })
}

// appendSystem records a line written by the engine itself.
func (tx *txn) appendSystem(id string, e *entry, line string) {
	tx.appendLine(id, e, line, false)
}

// appendOutput records a captured output line and classifies it.
func (tx *txn) appendOutput(id string, e *entry, line string) {
	tx.appendLine(id, e, line, workload.HasErrorMarker(line))
}

func (tx *txn) appendLine(id string, e *entry, line string, alarming bool) {
	e.logs.Append(line)
	tx.bump()
	if alarming {
		tx.m.errCount.Add(1)
	}
	ev := LogEvent{Timestamp: time.Now(), ID: id, Name: e.cfg.DisplayName(), Line: line, Alarming: alarming}
	tx.publish = append(tx.publish, func() { event.Publish(tx.m.events, ev) })
}

func normalize(cfg workload.Config) workload.Config {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Kind == "" {
		cfg.Kind = workload.KindCommand
	}
	return cfg
}

// insert adds cfg unless its id is already present. Callers hold mu.
func (tx *txn) insert(cfg workload.Config) bool {
	m := tx.m
	if _, ok := m.entries[cfg.ID]; ok {
		return false
	}
	m.entries[cfg.ID] = &entry{cfg: cfg, status: workload.Stopped, logs: workload.NewLogBuffer()}
	m.order = append(m.order, cfg.ID)
	tx.bump()
	return true
}

// InitFromConfig ensures an entry exists for every config. Existing entries
// are left untouched, so repeated calls are safe.
func (m *Manager) InitFromConfig(cfgs []workload.Config) {
	m.update(func(tx *txn) {
		for _, cfg := range cfgs {
			tx.insert(normalize(cfg))
		}
	})
}

// AddWorkload inserts cfg, assigning an id when it has none, and returns
// the id. Adding an id already in the table is a no-op.
func (m *Manager) AddWorkload(cfg workload.Config) string {
	cfg = normalize(cfg)
	m.update(func(tx *txn) {
		tx.insert(cfg)
	})
	return cfg.ID
}

// UpdateWorkload replaces the stored config of an existing workload. The
// change takes effect on its next start.
func (m *Manager) UpdateWorkload(cfg workload.Config) error {
	if cfg.ID == "" {
		return ErrUnknownWorkload
	}
	cfg = normalize(cfg)
	var err error
	m.update(func(tx *txn) {
		e, ok := m.entries[cfg.ID]
		if !ok {
			err = ErrUnknownWorkload
			return
		}
		e.cfg = cfg
		tx.bump()
	})
	return err
}

// RemoveWorkload stops the workload and deletes it once the stop has
// settled. Unknown ids are ignored.
func (m *Manager) RemoveWorkload(id string) {
	m.mu.Lock()
	target, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	done := m.stop(id)
	go func() {
		<-done
		m.update(func(tx *txn) {
			e, ok := m.entries[id]
			if !ok || e != target {
				return
			}
			if e.stopFollow != nil {
				e.stopFollow()
				e.stopFollow = nil
			}
			delete(m.entries, id)
			for i, existing := range m.order {
				if existing == id {
					m.order = append(m.order[:i], m.order[i+1:]...)
					break
				}
			}
			tx.bump()
			ev := StatusEvent{Timestamp: time.Now(), ID: id, Name: e.cfg.DisplayName(), Kind: e.cfg.Kind, From: e.status, To: e.status, Removed: true}
			tx.publish = append(tx.publish, func() { event.Publish(m.events, ev) })
		})
	}()
}

// Status returns the current status of id.
func (m *Manager) Status(id string) (workload.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return workload.Status{}, false
	}
	return e.status, true
}

// Logs returns a copy of the buffered lines of id, oldest first.
func (m *Manager) Logs(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	return e.logs.Lines()
}

// Config returns the stored config of id.
func (m *Manager) Config(id string) (workload.Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return workload.Config{}, false
	}
	return e.cfg, true
}

// List returns a snapshot of every workload in insertion order.
func (m *Manager) List() []workload.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]workload.Snapshot, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		snap := workload.Snapshot{Config: e.cfg, Status: e.status, LogLines: e.logs.Len()}
		if e.proc != nil {
			snap.PID = e.proc.PID()
		}
		out = append(out, snap)
	}
	return out
}

func (m *Manager) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Subscribe returns a handle signalled whenever the event counter advances.
func (m *Manager) Subscribe() *Subscription {
	v, _ := m.notify.current()
	return &Subscription{n: m.notify, seen: v}
}

// Version returns the event counter.
func (m *Manager) Version() uint64 {
	v, _ := m.notify.current()
	return v
}

// ErrorVersion returns the error counter.
func (m *Manager) ErrorVersion() uint64 {
	return m.errCount.Load()
}
