//go:build !windows

package cli

import (
	"bytes"
	stdcontext "context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunStreamsAutoStartOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procdock.yaml")
	body := `version: "1"
workloads:
  - id: greet
    name: greet
    command: printf "hello from procdock\n"
    autoStart: true
  - id: idle
    name: idle
    command: sleep 30
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	root, _ := newRootCommand()
	var out, errOut syncBuffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"-f", path, "run", "--json"})

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- root.ExecuteContext(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "hello from procdock") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("timed out waiting for output; stdout:\n%s\nstderr:\n%s", out.String(), errOut.String())
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not exit after cancellation")
	}

	if !strings.Contains(out.String(), `"workload":"greet"`) {
		t.Fatalf("expected json records, got:\n%s", out.String())
	}
	if strings.Contains(out.String(), `"workload":"idle"`) {
		t.Fatalf("idle workload should not have been started:\n%s", out.String())
	}
}
