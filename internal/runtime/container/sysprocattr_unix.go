//go:build !windows

package container

import "os/exec"

func configureCmd(cmd *exec.Cmd) {}
