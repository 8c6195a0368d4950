package workload

import "strings"

const (
	// LogCapacity bounds the number of lines retained per workload.
	LogCapacity = 1000

	// StderrTag prefixes lines read from a standard error stream.
	StderrTag = "[stderr]"
)

var errorMarkers = []string{"error", "critical", "fatal", "panic", "traceback", "exception"}

// HasErrorMarker reports whether a stored log line should be treated as an
// error-severity event. The stderr tag is ignored so that it never matches
// on its own.
func HasErrorMarker(line string) bool {
	content := strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(content, StderrTag); ok {
		content = strings.TrimLeft(rest, " \t")
	}
	lower := strings.ToLower(content)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// TagStderr formats a line read from standard error for storage.
func TagStderr(line string) string {
	return StderrTag + " " + line
}

// LogBuffer is a fixed-capacity FIFO of log lines. It is not safe for
// concurrent use; the engine guards it with the table lock.
type LogBuffer struct {
	lines []string
	start int
	size  int
}

// NewLogBuffer returns an empty buffer holding at most LogCapacity lines.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{lines: make([]string, LogCapacity)}
}

// Append stores line, evicting the oldest entry once the buffer is full.
func (b *LogBuffer) Append(line string) {
	if b.size < len(b.lines) {
		b.lines[(b.start+b.size)%len(b.lines)] = line
		b.size++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % len(b.lines)
}

// Len returns the number of stored lines.
func (b *LogBuffer) Len() int {
	return b.size
}

// Clear drops every stored line.
func (b *LogBuffer) Clear() {
	for i := range b.lines {
		b.lines[i] = ""
	}
	b.start = 0
	b.size = 0
}

// Lines returns the stored lines, oldest first.
func (b *LogBuffer) Lines() []string {
	out := make([]string, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.lines[(b.start+i)%len(b.lines)]
	}
	return out
}
