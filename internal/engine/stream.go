package engine

import (
	"bufio"
	"io"
	"strings"

	"github.com/Paintersrp/procdock/internal/workload"
)

const maxLineSize = 1024 * 1024

// stream appends every line read from r to the workload's buffer until end
// of stream. Lines are dropped once a newer start has superseded gen.
func (m *Manager) stream(id string, gen uint64, r io.ReadCloser, stderr bool) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if stderr {
			line = workload.TagStderr(line)
		}
		m.appendCaptured(id, gen, line)
	}
	if err := scanner.Err(); err != nil {
		m.logger.Debug("output stream ended", "workload", id, "stderr", stderr, "err", err)
	}
}

// appendCaptured records line if gen is still current. It reports whether
// the line was kept.
func (m *Manager) appendCaptured(id string, gen uint64, line string) bool {
	kept := false
	m.update(func(tx *txn) {
		e, ok := m.entries[id]
		if !ok || e.gen != gen {
			return
		}
		tx.appendOutput(id, e, line)
		kept = true
	})
	return kept
}
