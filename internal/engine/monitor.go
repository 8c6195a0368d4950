package engine

import (
	"fmt"
	"time"

	"github.com/Paintersrp/procdock/internal/runtime/process"
	"github.com/Paintersrp/procdock/internal/workload"
)

// monitor watches a running process until it exits or the entry stops
// owning it. Ownership is rechecked every monitor interval.
func (m *Manager) monitor(id string, gen uint64, proc *process.Process) {
	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Done():
			m.observeExit(id, gen, proc)
			return
		case <-ticker.C:
			if !m.owns(id, gen, proc) {
				return
			}
		}
	}
}

func (m *Manager) owns(id string, gen uint64, proc *process.Process) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return ok && e.gen == gen && e.proc == proc
}

func (m *Manager) observeExit(id string, gen uint64, proc *process.Process) {
	state, waitErr := proc.ExitState()
	owned := false
	m.update(func(tx *txn) {
		e, ok := m.entries[id]
		if !ok || e.gen != gen || e.proc != proc {
			return
		}
		owned = true
		e.proc = nil
		if waitErr != nil {
			tx.appendSystem(id, e, fmt.Sprintf("[Process wait failed: %v]", waitErr))
			tx.setStatus(id, e, workload.Failed(waitErr.Error()))
			return
		}
		tx.appendSystem(id, e, fmt.Sprintf("[Process exited with: %s]", state))
		tx.setStatus(id, e, workload.Stopped)
	})
	if !owned {
		return
	}
	proc.Release()
	if waitErr != nil {
		m.logger.Warn("process wait failed", "workload", id, "pid", proc.PID(), "err", waitErr)
		return
	}
	m.logger.Info("exit observed", "workload", id, "pid", proc.PID(), "state", state.String())
}
