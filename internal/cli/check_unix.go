//go:build !windows

package cli

import "github.com/Paintersrp/procdock/internal/command"

// resolveForPlatform is a no-op where the OS finds programs itself.
func resolveForPlatform(string) (command.Resolved, bool, error) {
	return command.Resolved{}, false, nil
}
