package cli

import (
	"bytes"
	stdcontext "context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Paintersrp/procdock/internal/config"
	"github.com/Paintersrp/procdock/internal/engine"
	"github.com/Paintersrp/procdock/internal/workload"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root, _ := newRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(stdcontext.Background())
	return out.String(), errOut.String(), err
}

func TestCheckPrintsArgv(t *testing.T) {
	out, _, err := execute(t, "check", `echo "hello world" \"x\"`)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	for _, want := range []string{`program: "echo"`, `arg[0]: "hello world"`, `arg[1]: "\"x\""`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestCheckRejectsShellOperators(t *testing.T) {
	_, _, err := execute(t, "check", "cat a | grep b")
	if err == nil || !strings.Contains(err.Error(), "shell operators") {
		t.Fatalf("expected shell operator error, got %v", err)
	}
}

func TestConfigAddListRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procdock.yaml")

	id, _, err := execute(t, "-f", path, "config", "add", "--name", "web", "--auto-start", "npm run dev")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		t.Fatal("expected id to be printed")
	}

	if _, _, err := execute(t, "-f", path, "config", "add", "--kind", "container", "--name", "db", "postgres"); err != nil {
		t.Fatalf("add container failed: %v", err)
	}

	out, _, err := execute(t, "-f", path, "config", "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "npm run dev") || !strings.Contains(out, "container") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	out, _, err = execute(t, "-f", path, "config", "lint")
	if err != nil {
		t.Fatalf("lint failed: %v", err)
	}
	if !strings.Contains(out, "ok (2 workloads)") {
		t.Fatalf("unexpected lint output %q", out)
	}

	if _, _, err := execute(t, "-f", path, "config", "remove", "DB"); err != nil {
		t.Fatalf("remove by name failed: %v", err)
	}
	doc, err := config.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(doc.Workloads) != 1 || doc.Workloads[0].ID != id || !doc.Workloads[0].AutoStart {
		t.Fatalf("unexpected workloads after remove: %+v", doc.Workloads)
	}
}

func TestConfigAddRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procdock.yaml")
	if _, _, err := execute(t, "-f", path, "config", "add", "--kind", "vm", "thing"); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file to be written, stat err=%v", err)
	}
}

func TestConfigLintReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procdock.yaml")
	body := "version: \"1\"\nworkloads:\n  - id: a\n    command: one\n  - id: a\n    command: two\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, errOut, err := execute(t, "-f", path, "config", "lint")
	if err == nil {
		t.Fatal("expected lint to fail on duplicate ids")
	}
	if !strings.Contains(errOut, "duplicates") {
		t.Fatalf("expected duplicate id diagnostic, got %q", errOut)
	}
}

func TestUnknownLogFormat(t *testing.T) {
	_, _, err := execute(t, "--log-format", "xml", "check", "echo")
	if err == nil || !strings.Contains(err.Error(), "unknown log format") {
		t.Fatalf("expected log format error, got %v", err)
	}
}

func TestApplyReload(t *testing.T) {
	mgr := engine.New()
	t.Cleanup(func() { _ = mgr.Close() })
	mgr.InitFromConfig([]workload.Config{
		{ID: "keep", Name: "keep", Command: "sleep 1", Kind: workload.KindCommand},
		{ID: "edit", Name: "edit", Command: "sleep 1", Kind: workload.KindCommand},
		{ID: "gone", Name: "gone", Command: "sleep 1", Kind: workload.KindCommand},
	})

	doc := &config.File{
		Version: config.CurrentVersion,
		Workloads: []workload.Config{
			{ID: "keep", Name: "keep", Command: "sleep 1", Kind: workload.KindCommand},
			{ID: "edit", Name: "edit", Command: "sleep 2", Kind: workload.KindCommand},
			{ID: "new", Name: "new", Command: "sleep 3", Kind: workload.KindCommand},
		},
	}

	res := applyReload(mgr, doc)
	if len(res.Added) != 1 || res.Added[0] != "new" {
		t.Fatalf("unexpected added %v", res.Added)
	}
	if len(res.Updated) != 1 || res.Updated[0] != "edit" {
		t.Fatalf("unexpected updated %v", res.Updated)
	}
	if len(res.Orphaned) != 1 || res.Orphaned[0] != "gone" {
		t.Fatalf("unexpected orphaned %v", res.Orphaned)
	}
	if cfg, _ := mgr.Config("edit"); cfg.Command != "sleep 2" {
		t.Fatalf("expected updated command, got %q", cfg.Command)
	}
	if _, ok := mgr.Config("gone"); !ok {
		t.Fatal("expected orphaned workload to stay in the engine")
	}

	again := applyReload(mgr, doc)
	if len(again.Added)+len(again.Updated) != 0 {
		t.Fatalf("expected second reload to be a no-op, got %+v", again)
	}
}
