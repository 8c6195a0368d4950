package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Paintersrp/procdock/internal/cliutil"
	"github.com/Paintersrp/procdock/internal/engine"
	"github.com/Paintersrp/procdock/internal/logmux"
	"github.com/Paintersrp/procdock/internal/metrics"
)

const runBufferSize = 512

func newRunCmd(ctx *context) *cobra.Command {
	var (
		watch       bool
		metricsAddr string
		jsonOutput  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start auto-start workloads and stream their output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			mgr, err := ctx.newEngine(doc)
			if err != nil {
				return err
			}
			defer mgr.Close()

			runCtx := cmd.Context()
			logger := ctx.log()
			out := cmd.OutOrStdout()

			detachMetrics := metrics.Attach(mgr)
			defer detachMetrics()

			mux := logmux.New(runBufferSize)
			stopStatus := mgr.OnStatus(func(ev engine.StatusEvent) {
				mux.Offer(logmux.FromStatus(ev))
			})
			stopLogs := mgr.OnLog(func(ev engine.LogEvent) {
				mux.Offer(logmux.FromLog(ev))
			})

			printed := make(chan struct{})
			go func() {
				defer close(printed)
				printEntries(out, cmd.ErrOrStderr(), mux.Output(), jsonOutput, colorFor(out))
			}()

			g, gctx := errgroup.WithContext(runCtx)
			if metricsAddr != "" {
				srv, err := metrics.NewServer(metrics.ServerConfig{Addr: metricsAddr})
				if err != nil {
					return err
				}
				logger.Info("metrics listening", "addr", srv.Addr())
				g.Go(func() error {
					return srv.Run(gctx)
				})
			}

			if watch {
				w, err := watchConfig(ctx.configPath(), mgr, nil, logger)
				if err != nil {
					return fmt.Errorf("watch config: %w", err)
				}
				defer w.Stop()
			}

			mgr.Run(runCtx)
			mgr.StartAutoStart()
			logger.Info("supervising workloads", "count", len(mgr.List()), "config", ctx.configPath())

			<-gctx.Done()
			logger.Info("shutting down")
			mgr.StopAllLocal()

			stopStatus()
			stopLogs()
			mux.Close()
			<-printed

			if err := g.Wait(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the workload file when it changes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit output as JSON lines")

	return cmd
}

func printEntries(out, stderr io.Writer, entries <-chan logmux.Entry, jsonOutput, color bool) {
	if jsonOutput {
		enc := json.NewEncoder(out)
		for entry := range entries {
			cliutil.EncodeLogEntry(enc, stderr, entry)
		}
		return
	}
	formatter := cliutil.TextFormatter{Color: color}
	for entry := range entries {
		if err := formatter.Write(out, entry); err != nil {
			fmt.Fprintf(stderr, "error: write log: %v\n", err)
		}
	}
}

func colorFor(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && cliutil.ColorEnabled(f)
}
