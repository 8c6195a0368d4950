package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/procdock/internal/command"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <command>",
		Short: "Show how a command string is split into a program and arguments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, argv, err := command.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "program: %s\n", strconv.Quote(program))
			for i, arg := range argv {
				fmt.Fprintf(out, "arg[%d]: %s\n", i, strconv.Quote(arg))
			}
			resolved, ok, err := resolveForPlatform(program)
			if err != nil || !ok {
				return err
			}
			fmt.Fprintf(out, "resolved: %s", resolved.Path)
			if resolved.Interpreted {
				fmt.Fprint(out, " (via command interpreter)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}
