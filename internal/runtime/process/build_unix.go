//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

func buildCmd(spec Spec) (*exec.Cmd, error) {
	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}
