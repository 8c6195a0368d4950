package containerutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/procdock/internal/runtime"
)

func TestLogWriterSplitsLines(t *testing.T) {
	var got []runtime.LogEntry
	w := NewLogWriter(context.Background(), func(e runtime.LogEntry) { got = append(got, e) }, runtime.LogSourceStderr)

	_, err := w.Write([]byte("first\r\nsec"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ond\n\nthird"))
	require.NoError(t, err)
	w.Close()

	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "second", got[1].Message)
	assert.Equal(t, "third", got[2].Message)
	for _, e := range got {
		assert.Equal(t, runtime.LogSourceStderr, e.Source)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestLogWriterStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	w := NewLogWriter(ctx, func(runtime.LogEntry) { count++ }, runtime.LogSourceStdout)
	cancel()
	_, err := w.Write([]byte("dropped\n"))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChannelEmitterUnblocksOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan runtime.LogEntry)
	emit := ChannelEmitter(ctx, ch)
	cancel()
	emit(runtime.LogEntry{Message: "x"})
	assert.Len(t, ch, 0)
}

func TestLogWriterFlushesOversizedLine(t *testing.T) {
	var got []runtime.LogEntry
	w := NewLogWriter(context.Background(), func(e runtime.LogEntry) { got = append(got, e) }, runtime.LogSourceStdout)

	chunk := make([]byte, maxPending/4)
	for i := range chunk {
		chunk[i] = 'x'
	}
	for i := 0; i < 4; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}
	require.Len(t, got, 1)
	assert.Len(t, got[0].Message, maxPending)

	w.Close()
	assert.Len(t, got, 1)
}
