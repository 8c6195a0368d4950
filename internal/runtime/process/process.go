package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Spec describes a program to launch.
type Spec struct {
	Program string
	Args    []string
	// Dir is the working directory; empty inherits the caller's.
	Dir string
	// Logger receives boundary diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// boundary groups a process and every descendant it spawns.
type boundary interface {
	assign(p *os.Process) error
	teardown() error
	release()
}

var errNoBoundary = errors.New("no termination boundary")

type noBoundary struct{}

func (noBoundary) assign(*os.Process) error { return errNoBoundary }
func (noBoundary) teardown() error          { return errNoBoundary }
func (noBoundary) release()                 {}

// Process is a running child together with its output pipes and boundary.
type Process struct {
	proc   *os.Process
	label  string
	stdout io.ReadCloser
	stderr io.ReadCloser
	bound  boundary
	logger *slog.Logger

	done     chan struct{}
	state    *os.ProcessState
	waitErr  error
	release  sync.Once
	teardown sync.Mutex
}

// Launch starts spec with the inherited environment and piped output.
func Launch(spec Spec) (*Process, error) {
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(spec.Program) == "" {
		return nil, errors.New("program is required")
	}

	cmd, err := buildCmd(spec)
	if err != nil {
		return nil, err
	}
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	bound, err := newBoundary()
	if err != nil {
		logger.Warn("termination boundary unavailable", "program", spec.Program, "err", err)
		bound = noBoundary{}
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		bound.release()
		return nil, err
	}

	if err := bound.assign(cmd.Process); err != nil {
		logger.Warn("process not contained in termination boundary",
			"program", spec.Program, "pid", cmd.Process.Pid, "err", err)
		bound.release()
		bound = noBoundary{}
	}

	p := &Process{
		proc:   cmd.Process,
		label:  label(spec),
		stdout: stdout,
		stderr: stderr,
		bound:  bound,
		logger: logger,
		done:   make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func label(spec Spec) string {
	return strings.TrimSpace(strings.Join(append([]string{spec.Program}, spec.Args...), " "))
}

// wait reaps the child without touching the pipes, so readers can drain
// buffered output after the exit is observed.
func (p *Process) wait() {
	p.state, p.waitErr = p.proc.Wait()
	close(p.done)
}

func (p *Process) PID() int {
	return p.proc.Pid
}

// Label is the program and arguments the process was launched with.
func (p *Process) Label() string {
	return p.label
}

// Stdout is the read end of the standard output pipe. The reader owns it
// and closes it once drained.
func (p *Process) Stdout() io.ReadCloser {
	return p.stdout
}

// Stderr is the read end of the standard error pipe.
func (p *Process) Stderr() io.ReadCloser {
	return p.stderr
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitState returns the wait outcome. It is only meaningful after Done.
func (p *Process) ExitState() (*os.ProcessState, error) {
	select {
	case <-p.done:
		return p.state, p.waitErr
	default:
		return nil, errors.New("process has not exited")
	}
}

// Terminate kills the process and its descendants. The boundary is torn
// down first; if that fails the descendant tree is killed explicitly, and
// as a last resort the tracked PID alone.
func (p *Process) Terminate() error {
	p.teardown.Lock()
	defer p.teardown.Unlock()

	var errs []error
	err := p.bound.teardown()
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNoBoundary) {
		errs = append(errs, fmt.Errorf("teardown boundary: %w", err))
	}

	if !p.Exited() {
		err := killTree(p.proc.Pid)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("kill process tree: %w", err))
	}

	if err := p.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = append(errs, fmt.Errorf("kill pid %d: %w", p.proc.Pid, err))
		return errors.Join(errs...)
	}
	for _, err := range errs {
		p.logger.Debug("termination fallback used", "pid", p.proc.Pid, "err", err)
	}
	return nil
}

// Release frees the boundary. Any descendant still inside it may be killed
// as a consequence on platforms where the boundary kills on close.
func (p *Process) Release() {
	p.release.Do(func() {
		p.teardown.Lock()
		defer p.teardown.Unlock()
		p.bound.release()
	})
}
