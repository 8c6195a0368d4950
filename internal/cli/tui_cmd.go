package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Paintersrp/procdock/internal/config"
	"github.com/Paintersrp/procdock/internal/metrics"
	"github.com/Paintersrp/procdock/internal/tui"
)

func newTuiCmd(ctx *context) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive workload interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !supportsInteractiveOutput(cmd) {
				return fmt.Errorf("tui requires an interactive terminal")
			}
			if ctx.logFile == "" {
				// Diagnostics would draw over the screen.
				ctx.silenceLogging()
			}

			doc, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			mgr, err := ctx.newEngine(doc)
			if err != nil {
				return err
			}
			defer mgr.Close()

			detachMetrics := metrics.Attach(mgr)
			defer detachMetrics()

			store := config.NewStore(ctx.configPath(), doc)
			if watch {
				w, err := watchConfig(ctx.configPath(), mgr, store, ctx.log())
				if err != nil {
					return fmt.Errorf("watch config: %w", err)
				}
				defer w.Stop()
			}

			mgr.Run(cmd.Context())
			mgr.StartAutoStart()

			ui := tui.New(mgr, tui.WithStore(store), tui.WithLogger(ctx.log()))
			return ui.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the workload file when it changes")
	return cmd
}

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	out, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(out.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}
