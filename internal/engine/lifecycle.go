package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Paintersrp/procdock/internal/runtime/process"
	"github.com/Paintersrp/procdock/internal/workload"
)

// Start launches id asynchronously. It is a no-op for unknown ids and for
// workloads that are Running or have a start or stop in flight.
func (m *Manager) Start(id string) {
	var (
		cfg     workload.Config
		gen     uint64
		started bool
	)
	m.update(func(tx *txn) {
		e, ok := m.entries[id]
		if !ok {
			return
		}
		switch e.status.State {
		case workload.StateRunning, workload.StateStarting, workload.StateStopping:
			return
		}
		e.logs.Clear()
		e.gen++
		tx.setStatus(id, e, workload.Starting)
		cfg, gen, started = e.cfg, e.gen, true
	})
	if !started {
		return
	}

	if cfg.Kind == workload.KindContainer {
		go m.startContainer(id, gen, cfg)
		return
	}
	go m.launch(id, gen, cfg)
}

// Stop stops id asynchronously.
func (m *Manager) Stop(id string) {
	m.stop(id)
}

// stopJob is the blocking half of a stop, run outside the table lock.
type stopJob struct {
	id   string
	cfg  workload.Config
	proc *process.Process
	done chan struct{}
}

// stop begins stopping id and returns a channel closed once the workload
// has settled.
func (m *Manager) stop(id string) <-chan struct{} {
	var (
		job   *stopJob
		ready <-chan struct{}
	)
	m.update(func(tx *txn) {
		job, ready = tx.beginStop(id)
	})
	if job != nil {
		go m.finishStop(job)
	}
	return ready
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// beginStop performs the synchronous half of a stop under the table lock.
// It returns a job when blocking work remains, and the channel to wait on.
func (tx *txn) beginStop(id string) (*stopJob, <-chan struct{}) {
	e, ok := tx.m.entries[id]
	if !ok {
		return nil, closedCh
	}
	if e.status.State == workload.StateStopping && e.stopping != nil {
		return nil, e.stopping
	}

	if e.cfg.Kind != workload.KindContainer && e.proc == nil {
		if e.status.State != workload.StateStopped {
			tx.setStatus(id, e, workload.Stopped)
		}
		return nil, closedCh
	}

	job := &stopJob{id: id, cfg: e.cfg, proc: e.proc, done: make(chan struct{})}
	e.proc = nil
	e.stopping = job.done
	tx.setStatus(id, e, workload.Stopping)
	return job, job.done
}

// finishStop tears the workload down and settles it to Stopped.
func (m *Manager) finishStop(job *stopJob) error {
	defer close(job.done)
	if job.cfg.Kind == workload.KindContainer {
		return m.stopContainer(job)
	}

	logger := m.logger.With("workload", job.id, "pid", job.proc.PID())
	err := job.proc.Terminate()
	if err != nil {
		logger.Warn("termination failed", "err", err)
	}
	select {
	case <-job.proc.Done():
	case <-time.After(stopWait):
		logger.Warn("process did not exit after kill", "wait", stopWait)
	}
	job.proc.Release()

	m.update(func(tx *txn) {
		e, ok := m.entries[job.id]
		if !ok || e.stopping != job.done {
			return
		}
		e.stopping = nil
		if err != nil {
			tx.appendSystem(job.id, e, fmt.Sprintf("[Stop error: %v]", err))
		}
		tx.appendSystem(job.id, e, "[Process stopped]")
		tx.setStatus(job.id, e, workload.Stopped)
	})
	return err
}

// Restart stops id, waits for the stop to settle, and starts it again.
// Concurrent restarts of the same id share one run.
func (m *Manager) Restart(id string) {
	go func() {
		_, _, _ = m.restarts.Do(id, func() (any, error) {
			if !m.waitSettled(m.stop(id)) {
				return nil, nil
			}
			time.Sleep(restartSettle)
			m.Start(id)
			return nil, nil
		})
	}()
}

// waitSettled blocks until done is closed. Every stop settles on its own:
// process teardown is bounded by stopWait and container calls by
// containerCallTimeout. It reports false if the manager was closed first.
func (m *Manager) waitSettled(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// StartAll starts every workload.
func (m *Manager) StartAll() {
	for _, id := range m.ids() {
		m.Start(id)
	}
}

// StartAutoStart starts every workload flagged for auto start.
func (m *Manager) StartAutoStart() {
	for _, snap := range m.List() {
		if snap.Config.AutoStart {
			m.Start(snap.Config.ID)
		}
	}
}

// StopAll stops every workload.
func (m *Manager) StopAll() {
	m.stopAll()
}

func (m *Manager) stopAll() []<-chan struct{} {
	ids := m.ids()
	dones := make([]<-chan struct{}, 0, len(ids))
	for _, id := range ids {
		dones = append(dones, m.stop(id))
	}
	return dones
}

// RestartAll stops every workload, waits for the stops to settle, and then
// starts every workload.
func (m *Manager) RestartAll() {
	go func() {
		_, _, _ = m.restarts.Do("\x00all", func() (any, error) {
			for _, done := range m.stopAll() {
				if !m.waitSettled(done) {
					return nil, nil
				}
			}
			time.Sleep(restartSettle)
			m.StartAll()
			return nil, nil
		})
	}()
}

// StopAllLocal synchronously tears down every command workload and waits
// for each to settle. Container workloads are left running.
func (m *Manager) StopAllLocal() {
	var (
		jobs    []*stopJob
		pending []<-chan struct{}
	)
	m.update(func(tx *txn) {
		for _, id := range m.order {
			if m.entries[id].cfg.Kind == workload.KindContainer {
				continue
			}
			job, ready := tx.beginStop(id)
			if job != nil {
				jobs = append(jobs, job)
			} else {
				pending = append(pending, ready)
			}
		}
	})

	g, _ := errgroup.WithContext(context.Background())
	for _, job := range jobs {
		g.Go(func() error {
			return m.finishStop(job)
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("shutdown teardown incomplete", "err", err)
	}
	for _, ready := range pending {
		m.waitSettled(ready)
	}
}
