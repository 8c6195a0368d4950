//go:build !windows

package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// groupBoundary is the process group created by Setpgid.
type groupBoundary struct {
	pgid int
}

func newBoundary() (boundary, error) {
	return &groupBoundary{}, nil
}

func (g *groupBoundary) assign(p *os.Process) error {
	pgid, err := syscall.Getpgid(p.Pid)
	if err != nil {
		return fmt.Errorf("getpgid: %w", err)
	}
	if pgid != p.Pid {
		return fmt.Errorf("pid %d is not a process group leader", p.Pid)
	}
	g.pgid = pgid
	return nil
}

func (g *groupBoundary) teardown() error {
	if g.pgid <= 0 {
		return errNoBoundary
	}
	if err := syscall.Kill(-g.pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func (g *groupBoundary) release() {}

// killTree kills pid and every descendant reachable through pgrep -P. The
// tree is collected before any signal is sent.
func killTree(pid int) error {
	pids := append(descendants(pid), pid)
	var errs []error
	for _, target := range pids {
		if err := syscall.Kill(target, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			errs = append(errs, fmt.Errorf("pid %d: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

func descendants(pid int) []int {
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil
	}
	var all []int
	for _, field := range strings.Fields(string(bytes.TrimSpace(out))) {
		child, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		all = append(all, child)
		all = append(all, descendants(child)...)
	}
	return all
}
