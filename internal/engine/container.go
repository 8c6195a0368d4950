package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Paintersrp/procdock/internal/runtime"
	"github.com/Paintersrp/procdock/internal/workload"
)

func (m *Manager) containerCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(m.ctx, containerCallTimeout)
}

// startContainer asks the runtime to start the container named by the
// workload command.
func (m *Manager) startContainer(id string, gen uint64, cfg workload.Config) {
	name := cfg.Command
	ctx, cancel := m.containerCtx()
	err := m.containers.Start(ctx, name)
	cancel()

	var (
		followCtx context.Context
		follow    bool
	)
	m.update(func(tx *txn) {
		e, ok := m.entries[id]
		if !ok || e.gen != gen || !e.status.Is(workload.StateStarting) {
			return
		}
		if err != nil {
			tx.appendSystem(id, e, fmt.Sprintf("[Failed to start: %v]", err))
			tx.setStatus(id, e, workload.Failed(err.Error()))
			return
		}
		tx.appendSystem(id, e, fmt.Sprintf("[Container '%s' started]", name))
		tx.setStatus(id, e, workload.Running)
		followCtx, e.stopFollow = context.WithCancel(m.ctx)
		follow = true
	})
	if err != nil {
		m.logger.Warn("container start failed", "workload", id, "container", name, "err", err)
		return
	}
	if follow {
		m.logger.Info("container started", "workload", id, "container", name)
		go m.follow(followCtx, id, gen, name)
	}
}

// stopContainer runs the blocking half of a container stop. The workload
// always settles to Stopped.
func (m *Manager) stopContainer(job *stopJob) error {
	name := job.cfg.Command
	ctx, cancel := m.containerCtx()
	err := m.containers.Stop(ctx, name)
	cancel()
	if err != nil {
		m.logger.Warn("container stop failed", "workload", job.id, "container", name, "err", err)
	}

	m.update(func(tx *txn) {
		e, ok := m.entries[job.id]
		if !ok || e.stopping != job.done {
			return
		}
		e.stopping = nil
		if err != nil {
			tx.appendSystem(job.id, e, fmt.Sprintf("[Stop error: %v]", err))
		} else {
			tx.appendSystem(job.id, e, fmt.Sprintf("[Container '%s' stopped]", name))
		}
		tx.setStatus(job.id, e, workload.Stopped)
	})
	return err
}

// follow appends container output until the workload leaves Running, which
// cancels ctx, or the stream ends.
func (m *Manager) follow(ctx context.Context, id string, gen uint64, name string) {
	lines, err := m.containers.Logs(ctx, name, containerLogTail)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("container log follow failed", "workload", id, "container", name, "err", err)
		}
		return
	}
	for entry := range lines {
		line := entry.Message
		if entry.Source == runtime.LogSourceStderr {
			line = workload.TagStderr(line)
		}
		if !m.appendFollowed(id, gen, line) {
			break
		}
	}
	// Drain so the backend can observe cancellation and close the channel.
	for range lines {
	}
}

func (m *Manager) appendFollowed(id string, gen uint64, line string) bool {
	kept := false
	m.update(func(tx *txn) {
		e, ok := m.entries[id]
		if !ok || e.gen != gen || !e.status.Is(workload.StateRunning) {
			return
		}
		tx.appendOutput(id, e, line)
		kept = true
	})
	return kept
}

// Run starts the container status poller. It stops when ctx is cancelled or
// the manager is closed. Calling Run more than once has no further effect.
func (m *Manager) Run(ctx context.Context) {
	m.pollStart.Do(func() {
		go m.pollLoop(ctx)
	})
}

func (m *Manager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.pollContainers(ctx)
		}
	}
}

type pollTarget struct {
	id   string
	name string
	gen  uint64
}

// pollContainers refreshes every container workload that is not in a
// transient state. Status only changes when the observation differs.
func (m *Manager) pollContainers(ctx context.Context) {
	var targets []pollTarget
	m.mu.Lock()
	for _, id := range m.order {
		e := m.entries[id]
		if e.cfg.Kind != workload.KindContainer || e.status.State.Transient() {
			continue
		}
		targets = append(targets, pollTarget{id: id, name: e.cfg.Command, gen: e.gen})
	}
	m.mu.Unlock()

	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		m.pollOne(ctx, target)
	}
}

func (m *Manager) pollOne(ctx context.Context, target pollTarget) {
	callCtx, cancel := context.WithTimeout(ctx, containerCallTimeout)
	running, err := m.containers.Running(callCtx, target.name)
	cancel()
	if err != nil {
		m.logger.Debug("container inspect failed", "workload", target.id, "container", target.name, "err", err)
		running = false
	}

	var followCtx context.Context
	m.update(func(tx *txn) {
		e, ok := m.entries[target.id]
		if !ok || e.gen != target.gen || e.status.State.Transient() {
			return
		}
		switch {
		case running && !e.status.Is(workload.StateRunning):
			tx.setStatus(target.id, e, workload.Running)
			followCtx, e.stopFollow = context.WithCancel(m.ctx)
		case !running && e.status.State == workload.StateRunning:
			tx.setStatus(target.id, e, workload.Stopped)
		}
	})
	if followCtx != nil {
		go m.follow(followCtx, target.id, target.gen, target.name)
	}
}
