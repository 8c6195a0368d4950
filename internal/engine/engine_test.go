package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/procdock/internal/runtime"
	"github.com/Paintersrp/procdock/internal/workload"
)

const waitFor = 5 * time.Second

type fakeContainers struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	running  map[string]bool
	lines    []runtime.LogEntry

	// startGate and stopGate, when set, hold the call until closed.
	startGate chan struct{}
	stopGate  chan struct{}
	stopDelay time.Duration

	starts    atomic.Int32
	stops     atomic.Int32
	followEnd atomic.Int32
}

func newFakeContainers() *fakeContainers {
	return &fakeContainers{running: map[string]bool{}}
}

func (f *fakeContainers) Start(_ context.Context, name string) error {
	f.starts.Add(1)
	if f.startGate != nil {
		<-f.startGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running[name] = true
	return nil
}

func (f *fakeContainers) Stop(_ context.Context, name string) error {
	f.stops.Add(1)
	if f.stopGate != nil {
		<-f.stopGate
	}
	time.Sleep(f.stopDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = false
	return f.stopErr
}

func (f *fakeContainers) Running(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name], nil
}

func (f *fakeContainers) setRunning(name string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = running
}

func (f *fakeContainers) Logs(ctx context.Context, _ string, _ int) (<-chan runtime.LogEntry, error) {
	f.mu.Lock()
	lines := append([]runtime.LogEntry(nil), f.lines...)
	f.mu.Unlock()

	ch := make(chan runtime.LogEntry)
	go func() {
		defer close(ch)
		for _, line := range lines {
			select {
			case ch <- line:
			case <-ctx.Done():
				f.followEnd.Add(1)
				return
			}
		}
		<-ctx.Done()
		f.followEnd.Add(1)
	}()
	return ch, nil
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMonitorInterval(20 * time.Millisecond),
		WithPollInterval(20 * time.Millisecond),
		WithContainerRuntime(newFakeContainers()),
	}
	m := New(append(base, opts...)...)
	t.Cleanup(func() {
		m.StopAllLocal()
		_ = m.Close()
	})
	return m
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func waitState(t *testing.T, m *Manager, id string, state workload.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := m.Status(id)
		return ok && st.State == state
	}, waitFor, 10*time.Millisecond, "workload %s never reached %s", id, state)
}

func hasLine(lines []string, prefix string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func commandConfig(id, cmd string) workload.Config {
	return workload.Config{ID: id, Name: id, Command: cmd, Kind: workload.KindCommand}
}

func containerConfig(id, name string) workload.Config {
	return workload.Config{ID: id, Name: id, Command: name, Kind: workload.KindContainer}
}

func TestCommandRunsToCompletion(t *testing.T) {
	requireShell(t)
	m := newTestManager(t)

	var (
		mu     sync.Mutex
		states []workload.State
	)
	unsub := m.OnStatus(func(ev StatusEvent) {
		if ev.ID != "hello" {
			return
		}
		mu.Lock()
		states = append(states, ev.To.State)
		mu.Unlock()
	})
	defer unsub()

	m.AddWorkload(commandConfig("hello", "printf hello"))
	m.Start("hello")

	require.Eventually(t, func() bool {
		lines := m.Logs("hello")
		st, _ := m.Status("hello")
		return st.State == workload.StateStopped &&
			hasLine(lines, "hello") &&
			hasLine(lines, "[Process exited with:")
	}, waitFor, 10*time.Millisecond)

	lines := m.Logs("hello")
	assert.Contains(t, lines, "hello")
	assert.True(t, hasLine(lines, "[Started with PID "))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 3
	}, waitFor, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []workload.State{workload.StateStarting, workload.StateRunning, workload.StateStopped}, states[:3])
	mu.Unlock()
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	requireShell(t)
	m := newTestManager(t)
	m.AddWorkload(commandConfig("sleeper", "sleep 30"))
	m.Start("sleeper")
	waitState(t, m, "sleeper", workload.StateRunning)

	before := m.Logs("sleeper")
	version := m.Version()
	m.Start("sleeper")

	st, _ := m.Status("sleeper")
	assert.Equal(t, workload.Running, st)
	assert.Equal(t, version, m.Version())
	assert.Equal(t, before, m.Logs("sleeper"))
}

func TestStopWithoutHandleSettlesDirectly(t *testing.T) {
	m := newTestManager(t)
	m.AddWorkload(commandConfig("missing", "procdock-definitely-missing-binary --flag"))
	m.Start("missing")
	waitState(t, m, "missing", workload.StateError)
	assert.True(t, hasLine(m.Logs("missing"), "[Failed to start: "))

	m.Stop("missing")
	st, _ := m.Status("missing")
	assert.Equal(t, workload.Stopped, st)
	assert.False(t, hasLine(m.Logs("missing"), "[Process stopped]"))

	version := m.Version()
	m.Stop("missing")
	assert.Equal(t, version, m.Version())
}

func TestParseFailureRecordsError(t *testing.T) {
	m := newTestManager(t)
	m.AddWorkload(commandConfig("pipe", "cat file | grep x"))
	m.Start("pipe")
	waitState(t, m, "pipe", workload.StateError)

	st, _ := m.Status("pipe")
	assert.Contains(t, st.Message, "shell operators are not supported")
	assert.Equal(t, uint64(1), m.ErrorVersion())
}

func TestLogBufferKeepsNewestThousand(t *testing.T) {
	m := newTestManager(t)
	m.AddWorkload(commandConfig("chatty", "true"))
	version := m.Version()

	for i := 0; i <= workload.LogCapacity; i++ {
		m.update(func(tx *txn) {
			tx.appendOutput("chatty", m.entries["chatty"], fmt.Sprintf("line %d", i))
		})
	}

	lines := m.Logs("chatty")
	require.Len(t, lines, workload.LogCapacity)
	assert.Equal(t, "line 1", lines[0])
	assert.Equal(t, fmt.Sprintf("line %d", workload.LogCapacity), lines[len(lines)-1])
	assert.Equal(t, version+uint64(workload.LogCapacity+1), m.Version())
}

func TestErrorMarkersBumpErrorCounter(t *testing.T) {
	m := newTestManager(t)
	m.AddWorkload(commandConfig("build", "true"))
	appendLine := func(line string) {
		m.update(func(tx *txn) {
			tx.appendOutput("build", m.entries["build"], line)
		})
	}

	appendLine("Compilation error: missing semicolon")
	assert.Equal(t, uint64(1), m.ErrorVersion())

	appendLine("INFO: normal startup")
	assert.Equal(t, uint64(1), m.ErrorVersion())

	appendLine(workload.TagStderr("listening"))
	assert.Equal(t, uint64(1), m.ErrorVersion())
}

func TestStderrIsTaggedAndClassified(t *testing.T) {
	requireShell(t)
	m := newTestManager(t)
	m.AddWorkload(commandConfig("fails", `sh -c "echo FATAL: boom >&2"`))
	m.Start("fails")

	require.Eventually(t, func() bool {
		return hasLine(m.Logs("fails"), "[stderr] FATAL: boom")
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, uint64(1), m.ErrorVersion())
}

func TestContainerStartFailureCountsOnce(t *testing.T) {
	fake := newFakeContainers()
	fake.startErr = errors.New("Error: No such container: demo")
	m := newTestManager(t, WithContainerRuntime(fake))

	m.AddWorkload(containerConfig("demo", "demo"))
	m.Start("demo")
	waitState(t, m, "demo", workload.StateError)

	st, _ := m.Status("demo")
	assert.Equal(t, "Error: Error: No such container: demo", st.String())
	assert.Contains(t, m.Logs("demo"), "[Failed to start: Error: No such container: demo]")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(1), m.ErrorVersion())
	assert.Zero(t, fake.followEnd.Load())
}

func TestContainerLifecycle(t *testing.T) {
	fake := newFakeContainers()
	fake.lines = []runtime.LogEntry{
		{Message: "ready", Source: runtime.LogSourceStdout},
		{Message: "slow query", Source: runtime.LogSourceStderr},
	}
	m := newTestManager(t, WithContainerRuntime(fake))

	m.AddWorkload(containerConfig("db", "postgres"))
	m.Start("db")
	waitState(t, m, "db", workload.StateRunning)

	require.Eventually(t, func() bool {
		lines := m.Logs("db")
		return hasLine(lines, "ready") && hasLine(lines, "[stderr] slow query")
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "[Container 'postgres' started]", m.Logs("db")[0])

	m.Stop("db")
	waitState(t, m, "db", workload.StateStopped)
	assert.True(t, hasLine(m.Logs("db"), "[Container 'postgres' stopped]"))
	require.Eventually(t, func() bool { return fake.followEnd.Load() == 1 }, waitFor, 10*time.Millisecond)
	assert.Zero(t, m.ErrorVersion())
}

func TestContainerStopFailureStillSettles(t *testing.T) {
	fake := newFakeContainers()
	fake.stopErr = errors.New("daemon unreachable")
	m := newTestManager(t, WithContainerRuntime(fake))

	m.AddWorkload(containerConfig("cache", "redis"))
	m.Start("cache")
	waitState(t, m, "cache", workload.StateRunning)

	m.Stop("cache")
	waitState(t, m, "cache", workload.StateStopped)
	assert.Contains(t, m.Logs("cache"), "[Stop error: daemon unreachable]")
}

func TestPollTracksExternalChanges(t *testing.T) {
	fake := newFakeContainers()
	m := newTestManager(t, WithContainerRuntime(fake))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.AddWorkload(containerConfig("queue", "rabbit"))
	m.Run(ctx)
	m.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	st, _ := m.Status("queue")
	assert.Equal(t, workload.Stopped, st)
	version := m.Version()

	fake.setRunning("rabbit", true)
	waitState(t, m, "queue", workload.StateRunning)
	assert.Greater(t, m.Version(), version)

	steady := m.Version()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, steady, m.Version())

	fake.setRunning("rabbit", false)
	waitState(t, m, "queue", workload.StateStopped)
	require.Eventually(t, func() bool { return fake.followEnd.Load() == 1 }, waitFor, 10*time.Millisecond)
}

func TestPollKeepsErrorUntilSeenRunning(t *testing.T) {
	fake := newFakeContainers()
	fake.startErr = errors.New("boom")
	m := newTestManager(t, WithContainerRuntime(fake))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.AddWorkload(containerConfig("api", "api"))
	m.Start("api")
	waitState(t, m, "api", workload.StateError)

	m.Run(ctx)
	time.Sleep(100 * time.Millisecond)
	waitState(t, m, "api", workload.StateError)

	fake.setRunning("api", true)
	waitState(t, m, "api", workload.StateRunning)
}

func TestRemoveRunningWorkloadStopsFirst(t *testing.T) {
	requireShell(t)
	m := newTestManager(t)
	m.AddWorkload(commandConfig("server", "sleep 30"))
	m.Start("server")
	waitState(t, m, "server", workload.StateRunning)

	m.RemoveWorkload("server")
	st, ok := m.Status("server")
	require.True(t, ok)
	assert.Equal(t, workload.Stopping, st)

	require.Eventually(t, func() bool {
		_, ok := m.Status("server")
		return !ok
	}, waitFor, 10*time.Millisecond)
	assert.Empty(t, m.List())
	assert.Nil(t, m.Logs("server"))

	m.RemoveWorkload("server")
}

func TestRestartLaunchesNewProcess(t *testing.T) {
	requireShell(t)
	m := newTestManager(t)
	m.AddWorkload(commandConfig("api", "sleep 30"))
	m.Start("api")
	waitState(t, m, "api", workload.StateRunning)
	first := m.List()[0].PID

	m.Restart("api")
	m.Restart("api")
	require.Eventually(t, func() bool {
		snap := m.List()[0]
		return snap.Status.State == workload.StateRunning && snap.PID != 0 && snap.PID != first
	}, waitFor, 10*time.Millisecond)
}

func TestRestartAll(t *testing.T) {
	fake := newFakeContainers()
	m := newTestManager(t, WithContainerRuntime(fake))
	m.AddWorkload(containerConfig("a", "a"))
	m.AddWorkload(containerConfig("b", "b"))
	m.StartAll()
	waitState(t, m, "a", workload.StateRunning)
	waitState(t, m, "b", workload.StateRunning)

	m.RestartAll()
	require.Eventually(t, func() bool {
		return fake.stops.Load() == 2 && fake.starts.Load() == 4
	}, waitFor, 10*time.Millisecond)
	waitState(t, m, "a", workload.StateRunning)
	waitState(t, m, "b", workload.StateRunning)
}

func TestStopAllLocalLeavesContainers(t *testing.T) {
	requireShell(t)
	fake := newFakeContainers()
	m := newTestManager(t, WithContainerRuntime(fake))
	m.AddWorkload(commandConfig("worker", `sh -c "sleep 30 & wait"`))
	m.AddWorkload(containerConfig("db", "postgres"))
	m.StartAll()
	waitState(t, m, "worker", workload.StateRunning)
	waitState(t, m, "db", workload.StateRunning)

	m.StopAllLocal()

	st, _ := m.Status("worker")
	assert.Equal(t, workload.Stopped, st)
	assert.Contains(t, m.Logs("worker"), "[Process stopped]")
	st, _ = m.Status("db")
	assert.Equal(t, workload.Running, st)
	assert.Zero(t, fake.stops.Load())
}

func TestStartAutoStart(t *testing.T) {
	fake := newFakeContainers()
	m := newTestManager(t, WithContainerRuntime(fake))
	auto := containerConfig("auto", "auto")
	auto.AutoStart = true
	m.InitFromConfig([]workload.Config{auto, containerConfig("manual", "manual")})

	m.StartAutoStart()
	waitState(t, m, "auto", workload.StateRunning)
	st, _ := m.Status("manual")
	assert.Equal(t, workload.Stopped, st)
}

func TestInitFromConfigIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	cfgs := []workload.Config{commandConfig("a", "true"), commandConfig("b", "true")}
	m.InitFromConfig(cfgs)
	version := m.Version()

	cfgs[0].Command = "changed"
	m.InitFromConfig(cfgs)
	assert.Equal(t, version, m.Version())

	cfg, ok := m.Config("a")
	require.True(t, ok)
	assert.Equal(t, "true", cfg.Command)

	ids := []string{}
	for _, snap := range m.List() {
		ids = append(ids, snap.Config.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestAddWorkloadAssignsID(t *testing.T) {
	m := newTestManager(t)
	id := m.AddWorkload(workload.Config{Name: "web", Command: "true"})
	require.NotEmpty(t, id)

	cfg, ok := m.Config(id)
	require.True(t, ok)
	assert.Equal(t, workload.KindCommand, cfg.Kind)
}

func TestUpdateWorkload(t *testing.T) {
	m := newTestManager(t)
	require.ErrorIs(t, m.UpdateWorkload(commandConfig("ghost", "true")), ErrUnknownWorkload)

	m.AddWorkload(commandConfig("web", "true"))
	updated := commandConfig("web", "false")
	updated.ManagedRestart = true
	require.NoError(t, m.UpdateWorkload(updated))

	cfg, _ := m.Config("web")
	assert.Equal(t, "false", cfg.Command)
	assert.True(t, cfg.ManagedRestart)
}

func TestSubscriptionCoalesces(t *testing.T) {
	m := newTestManager(t)
	sub := m.Subscribe()

	for i := 0; i < 5; i++ {
		m.AddWorkload(commandConfig(fmt.Sprintf("w%d", i), "true"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := sub.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.Version(), v)
	assert.Equal(t, v, sub.Value())

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = sub.Wait(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.AddWorkload(commandConfig("late", "true"))
	}()
	next, err := sub.Wait(ctx)
	require.NoError(t, err)
	assert.Greater(t, next, v)
}

func TestLogEventsPublished(t *testing.T) {
	m := newTestManager(t)
	m.AddWorkload(commandConfig("svc", "true"))

	got := make(chan LogEvent, 4)
	unsub := m.OnLog(func(ev LogEvent) { got <- ev })
	defer unsub()

	m.update(func(tx *txn) {
		tx.appendOutput("svc", m.entries["svc"], "panic: nil map")
	})

	select {
	case ev := <-got:
		assert.Equal(t, "svc", ev.ID)
		assert.Equal(t, "panic: nil map", ev.Line)
		assert.True(t, ev.Alarming)
	case <-time.After(waitFor):
		t.Fatal("log event not delivered")
	}
}

func TestConcurrentStartsLaunchOnce(t *testing.T) {
	fake := newFakeContainers()
	fake.startGate = make(chan struct{})
	m := newTestManager(t, WithContainerRuntime(fake))
	m.AddWorkload(containerConfig("db", "postgres"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Start("db")
		}()
	}
	wg.Wait()

	st, _ := m.Status("db")
	assert.Equal(t, workload.Starting, st)
	m.Start("db")

	close(fake.startGate)
	waitState(t, m, "db", workload.StateRunning)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fake.starts.Load())
}

func TestStartWhileStoppingIsNoop(t *testing.T) {
	fake := newFakeContainers()
	m := newTestManager(t, WithContainerRuntime(fake))
	m.AddWorkload(containerConfig("db", "postgres"))
	m.Start("db")
	waitState(t, m, "db", workload.StateRunning)

	fake.stopGate = make(chan struct{})
	m.Stop("db")
	st, _ := m.Status("db")
	require.Equal(t, workload.Stopping, st)

	version := m.Version()
	m.Start("db")
	st, _ = m.Status("db")
	assert.Equal(t, workload.Stopping, st)
	assert.Equal(t, version, m.Version())

	close(fake.stopGate)
	waitState(t, m, "db", workload.StateStopped)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fake.starts.Load())
	st, _ = m.Status("db")
	assert.Equal(t, workload.Stopped, st)
}

func TestStartBumpsVersionOnce(t *testing.T) {
	fake := newFakeContainers()
	fake.startGate = make(chan struct{})
	defer close(fake.startGate)
	m := newTestManager(t, WithContainerRuntime(fake))
	m.AddWorkload(containerConfig("db", "postgres"))

	version := m.Version()
	m.Start("db")
	assert.Equal(t, version+1, m.Version())
}

func TestRestartWaitsForSlowStop(t *testing.T) {
	if testing.Short() {
		t.Skip("waits longer than the process reap bound")
	}
	fake := newFakeContainers()
	m := newTestManager(t, WithContainerRuntime(fake))
	m.AddWorkload(containerConfig("db", "postgres"))
	m.Start("db")
	waitState(t, m, "db", workload.StateRunning)

	fake.stopDelay = stopWait + time.Second
	m.Restart("db")

	require.Eventually(t, func() bool {
		st, _ := m.Status("db")
		return st.Is(workload.StateRunning) && fake.starts.Load() == 2
	}, stopWait+restartSettle+waitFor, 20*time.Millisecond)
	assert.Equal(t, int32(1), fake.stops.Load())
	assert.True(t, hasLine(m.Logs("db"), "[Container 'postgres' started]"))
}

func TestRemovalIsPublished(t *testing.T) {
	m := newTestManager(t)
	m.AddWorkload(commandConfig("idle", "true"))

	removed := make(chan StatusEvent, 1)
	cancel := m.OnStatus(func(ev StatusEvent) {
		if ev.Removed {
			removed <- ev
		}
	})
	defer cancel()

	m.RemoveWorkload("idle")
	select {
	case ev := <-removed:
		assert.Equal(t, "idle", ev.ID)
		assert.Equal(t, workload.Stopped, ev.To)
	case <-time.After(waitFor):
		t.Fatal("removal event not published")
	}
}
