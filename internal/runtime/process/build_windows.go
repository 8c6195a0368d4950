//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/Paintersrp/procdock/internal/command"
)

func buildCmd(spec Spec) (*exec.Cmd, error) {
	resolved, err := command.NewResolver().Resolve(spec.Program)
	if err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	if resolved.Interpreted {
		args := append([]string{"/C", resolved.Path}, spec.Args...)
		cmd = exec.Command(interpreter(), args...)
	} else {
		cmd = exec.Command(resolved.Path, spec.Args...)
	}
	configureHidden(cmd)
	return cmd, nil
}

func configureHidden(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}

func interpreter() string {
	if comspec := os.Getenv("ComSpec"); comspec != "" {
		return comspec
	}
	return "cmd.exe"
}
