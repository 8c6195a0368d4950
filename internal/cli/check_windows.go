//go:build windows

package cli

import "github.com/Paintersrp/procdock/internal/command"

func resolveForPlatform(program string) (command.Resolved, bool, error) {
	res, err := command.NewResolver().Resolve(program)
	if err != nil {
		return command.Resolved{}, false, err
	}
	return res, true, nil
}
