package engine

import (
	"fmt"

	"github.com/Paintersrp/procdock/internal/command"
	"github.com/Paintersrp/procdock/internal/runtime/process"
	"github.com/Paintersrp/procdock/internal/workload"
)

// launch spawns a command workload for generation gen. The result is only
// recorded if the entry is still Starting under the same generation;
// otherwise the new process is killed.
func (m *Manager) launch(id string, gen uint64, cfg workload.Config) {
	logger := m.logger.With("workload", id, "name", cfg.DisplayName())
	logger.Debug("launch attempted", "command", cfg.Command, "dir", cfg.WorkingDir)

	program, args, err := command.Parse(cfg.Command)
	if err != nil {
		m.failStart(id, gen, err)
		return
	}
	proc, err := process.Launch(process.Spec{
		Program: program,
		Args:    args,
		Dir:     cfg.WorkingDir,
		Logger:  logger,
	})
	if err != nil {
		m.failStart(id, gen, err)
		return
	}

	accepted := false
	m.update(func(tx *txn) {
		e, ok := m.entries[id]
		if !ok || e.gen != gen || !e.status.Is(workload.StateStarting) {
			return
		}
		e.proc = proc
		tx.appendSystem(id, e, fmt.Sprintf("[Started with PID %d]", proc.PID()))
		tx.setStatus(id, e, workload.Running)
		accepted = true
	})
	if !accepted {
		logger.Debug("discarding superseded launch", "pid", proc.PID())
		m.discard(proc)
		return
	}

	logger.Info("launch succeeded", "pid", proc.PID(), "argv", proc.Label())
	go m.stream(id, gen, proc.Stdout(), false)
	go m.stream(id, gen, proc.Stderr(), true)
	go m.monitor(id, gen, proc)
}

func (m *Manager) failStart(id string, gen uint64, err error) {
	m.logger.Warn("launch failed", "workload", id, "err", err)
	m.update(func(tx *txn) {
		e, ok := m.entries[id]
		if !ok || e.gen != gen || !e.status.Is(workload.StateStarting) {
			return
		}
		tx.appendSystem(id, e, fmt.Sprintf("[Failed to start: %v]", err))
		tx.setStatus(id, e, workload.Failed(err.Error()))
	})
}

// discard tears down a process nobody owns.
func (m *Manager) discard(proc *process.Process) {
	if err := proc.Terminate(); err != nil {
		m.logger.Warn("termination failed", "pid", proc.PID(), "err", err)
	}
	_ = proc.Stdout().Close()
	_ = proc.Stderr().Close()
	go func() {
		<-proc.Done()
		proc.Release()
	}()
}
