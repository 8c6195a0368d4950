package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/procdock/internal/config"
	"github.com/Paintersrp/procdock/internal/workload"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with the workload file",
	}
	cmd.AddCommand(newConfigLintCmd(ctx))
	cmd.AddCommand(newConfigListCmd(ctx))
	cmd.AddCommand(newConfigAddCmd(ctx))
	cmd.AddCommand(newConfigRemoveCmd(ctx))
	return cmd
}

func newConfigLintCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Validate the workload file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.configPath()
			doc, err := config.Load(path)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d workloads)\n", path, len(doc.Workloads))
			return nil
		},
	}
}

func newConfigListCmd(ctx *context) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured workloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc.Workloads)
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tAUTO\tMANAGED\tCOMMAND")
			for _, cfg := range doc.Workloads {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					cfg.ID,
					cfg.DisplayName(),
					cfg.Kind,
					yesNo(cfg.AutoStart),
					yesNo(cfg.ManagedRestart),
					cfg.Command,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print workloads as JSON")
	return cmd
}

func newConfigAddCmd(ctx *context) *cobra.Command {
	var (
		name      string
		workdir   string
		kind      string
		autoStart bool
		managed   bool
	)
	cmd := &cobra.Command{
		Use:   "add <command>",
		Short: "Add a workload to the file",
		Long:  "Add a workload. For container workloads the argument is the container name.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := workload.ParseKind(kind)
			if err != nil {
				return err
			}
			doc, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			cfg := workload.NewConfig(name, args[0], workdir, k)
			cfg.AutoStart = autoStart
			cfg.ManagedRestart = managed

			store := config.NewStore(ctx.configPath(), doc)
			if err := store.Add(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&workdir, "workdir", "", "Working directory for command workloads")
	cmd.Flags().StringVar(&kind, "kind", string(workload.KindCommand), "Workload kind: command or container")
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "Start the workload when procdock starts")
	cmd.Flags().BoolVar(&managed, "managed-restart", false, "Mark the workload as managed")
	return cmd
}

func newConfigRemoveCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id|name>",
		Aliases: []string{"rm"},
		Short:   "Remove a workload from the file",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.Load(ctx.configPath())
			if err != nil {
				return err
			}
			cfg, err := doc.Lookup(args[0])
			if err != nil {
				return err
			}
			if err := config.NewStore(ctx.configPath(), doc).Remove(cfg.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%s)\n", cfg.DisplayName(), cfg.ID)
			return nil
		},
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
