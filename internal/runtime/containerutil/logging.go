// Package containerutil holds helpers shared by the container backends.
package containerutil

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/Paintersrp/procdock/internal/runtime"
)

// maxPending caps a line that never sees a newline.
const maxPending = 1024 * 1024

// LogWriter is an io.Writer that turns a container output stream into
// LogEntry values, one per non-empty line.
type LogWriter struct {
	ctx     context.Context
	emit    func(runtime.LogEntry)
	source  string
	mu      sync.Mutex
	pending []byte
}

// NewLogWriter returns a writer tagging every line with source.
func NewLogWriter(ctx context.Context, emit func(runtime.LogEntry), source string) *LogWriter {
	return &LogWriter{ctx: ctx, emit: emit, source: source}
}

// ChannelEmitter returns an emit callback delivering entries to ch until ctx
// is done.
func ChannelEmitter(ctx context.Context, ch chan<- runtime.LogEntry) func(runtime.LogEntry) {
	return func(entry runtime.LogEntry) {
		select {
		case ch <- entry:
		case <-ctx.Done():
		}
	}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rest := p
	for len(rest) > 0 {
		line, tail, found := bytes.Cut(rest, []byte{'\n'})
		if !found {
			w.pending = append(w.pending, line...)
			if len(w.pending) >= maxPending {
				w.flushLocked()
			}
			break
		}
		w.pending = append(w.pending, line...)
		w.flushLocked()
		rest = tail
	}
	return len(p), nil
}

// Close flushes a trailing partial line.
func (w *LogWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

func (w *LogWriter) flushLocked() {
	line := string(bytes.TrimSuffix(w.pending, []byte{'\r'}))
	w.pending = w.pending[:0]
	if line == "" || w.ctx.Err() != nil {
		return
	}
	w.emit(runtime.LogEntry{Timestamp: time.Now(), Message: line, Source: w.source})
}
