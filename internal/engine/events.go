package engine

import (
	"context"
	"time"

	"github.com/kelindar/event"

	"github.com/Paintersrp/procdock/internal/workload"
)

// Event type identifiers for the kelindar/event dispatcher.
const (
	TypeStatus uint32 = iota + 1
	TypeLog
)

// StatusEvent is published after a workload's status changes. A final event
// with Removed set is published once the workload leaves the table; its From
// and To both carry the last status.
type StatusEvent struct {
	Timestamp time.Time
	ID        string
	Name      string
	Kind      workload.Kind
	From      workload.Status
	To        workload.Status
	Removed   bool
}

func (StatusEvent) Type() uint32 { return TypeStatus }

// LogEvent is published for every line appended to a workload's buffer.
// Alarming is set for captured output carrying an error marker; lines the
// engine writes itself are never alarming.
type LogEvent struct {
	Timestamp time.Time
	ID        string
	Name      string
	Line      string
	Alarming  bool
}

func (LogEvent) Type() uint32 { return TypeLog }

// OnStatus subscribes fn to status transitions.
func (m *Manager) OnStatus(fn func(StatusEvent)) context.CancelFunc {
	return event.Subscribe(m.events, fn)
}

// OnLog subscribes fn to appended log lines.
func (m *Manager) OnLog(fn func(LogEvent)) context.CancelFunc {
	return event.Subscribe(m.events, fn)
}
