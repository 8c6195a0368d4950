package workload

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBufferEvictsOldestFirst(t *testing.T) {
	buf := NewLogBuffer()
	for i := 0; i < LogCapacity+1; i++ {
		buf.Append(fmt.Sprintf("line %d", i))
	}

	lines := buf.Lines()
	require.Len(t, lines, LogCapacity)
	assert.Equal(t, "line 1", lines[0])
	assert.Equal(t, fmt.Sprintf("line %d", LogCapacity), lines[len(lines)-1])
}

func TestLogBufferWrapsRepeatedly(t *testing.T) {
	buf := NewLogBuffer()
	total := LogCapacity*3 + 17
	for i := 0; i < total; i++ {
		buf.Append(fmt.Sprintf("%d", i))
	}
	lines := buf.Lines()
	require.Len(t, lines, LogCapacity)
	for i, line := range lines {
		require.Equal(t, fmt.Sprintf("%d", total-LogCapacity+i), line)
	}
}

func TestLogBufferClear(t *testing.T) {
	buf := NewLogBuffer()
	buf.Append("a")
	buf.Append("b")
	buf.Clear()
	assert.Zero(t, buf.Len())
	assert.Empty(t, buf.Lines())

	buf.Append("c")
	assert.Equal(t, []string{"c"}, buf.Lines())
}

func TestHasErrorMarker(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"Compilation error: missing semicolon", true},
		{"INFO: normal startup", false},
		{"[stderr] FATAL: out of memory", true},
		{"[stderr] listening on :8080", false},
		{"Traceback (most recent call last):", true},
		{"goroutine 1 [running]: PANIC", true},
		{"java.lang.NullPointerException", true},
		{"CRITICAL disk full", true},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			assert.Equal(t, tc.want, HasErrorMarker(tc.line))
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "Error: boom", Failed("boom").String())
	assert.True(t, Stopping.State.Transient())
	assert.False(t, Failed("x").State.Transient())
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("Docker")
	require.NoError(t, err)
	assert.Equal(t, KindContainer, kind)

	kind, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindCommand, kind)

	_, err = ParseKind("vm")
	require.Error(t, err)
}

func TestNewConfigAssignsUniqueIDs(t *testing.T) {
	a := NewConfig("api", "go run .", "", KindCommand)
	b := NewConfig("api", "go run .", "", KindCommand)
	require.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "go run .", Config{Command: "go run ."}.DisplayName())
}
