package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Paintersrp/procdock/internal/logmux"
	"github.com/Paintersrp/procdock/internal/runtime"
	"github.com/Paintersrp/procdock/internal/workload"
)

// LogRecord represents a structured log line ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	ID        string    `json:"id,omitempty"`
	Workload  string    `json:"workload"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
}

// NewLogRecord converts a muxed entry into a structured log record with
// secrets masked.
func NewLogRecord(entry logmux.Entry) LogRecord {
	source := entry.Source
	if source == "" {
		source = runtime.LogSourceSystem
	}
	return LogRecord{
		Timestamp: entry.Timestamp,
		ID:        entry.ID,
		Workload:  entry.Workload,
		Level:     inferLogLevel(entry),
		Message:   RedactSecrets(entry.Message),
		Source:    source,
	}
}

var warnTokenPattern = regexp.MustCompile(`(?i)\bwarn(ing)?\b`)

func inferLogLevel(entry logmux.Entry) string {
	switch {
	case entry.Alarming, workload.HasErrorMarker(entry.Message):
		return "error"
	case warnTokenPattern.MatchString(entry.Message):
		return "warn"
	case entry.Source == runtime.LogSourceSystem && strings.HasPrefix(entry.Message, "dropped="):
		return "warn"
	default:
		return "info"
	}
}

// EncodeLogEntry encodes an entry to JSON, reporting errors to stderr if needed.
func EncodeLogEntry(enc *json.Encoder, stderr io.Writer, entry logmux.Entry) {
	if enc == nil {
		return
	}
	record := NewLogRecord(entry)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}

var (
	styleTime     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleWorkload = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleWarn     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleSystem   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
)

// TextFormatter renders entries as single human readable lines.
type TextFormatter struct {
	Color bool
}

// Format returns the rendered line without a trailing newline.
func (f TextFormatter) Format(entry logmux.Entry) string {
	record := NewLogRecord(entry)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	ts := record.Timestamp.Format("15:04:05.000")
	name := record.Workload
	if name == "" {
		name = "-"
	}
	message := record.Message
	if record.Source == runtime.LogSourceStderr {
		message = workload.TagStderr(message)
	}
	if !f.Color {
		return fmt.Sprintf("%s %s | %s", ts, name, message)
	}

	switch {
	case record.Level == "error":
		message = styleError.Render(message)
	case record.Level == "warn":
		message = styleWarn.Render(message)
	case record.Source == runtime.LogSourceSystem:
		message = styleSystem.Render(message)
	}
	return fmt.Sprintf("%s %s | %s", styleTime.Render(ts), styleWorkload.Render(name), message)
}

// Write formats entry and writes it to w followed by a newline.
func (f TextFormatter) Write(w io.Writer, entry logmux.Entry) error {
	_, err := fmt.Fprintln(w, f.Format(entry))
	return err
}
