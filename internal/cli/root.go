package cli

import (
	stdcontext "context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/procdock/internal/config"
	"github.com/Paintersrp/procdock/internal/engine"
	"github.com/Paintersrp/procdock/internal/runtime"
	"github.com/Paintersrp/procdock/internal/runtime/container"
	_ "github.com/Paintersrp/procdock/internal/runtime/docker"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{
		logLevel:  "info",
		logFormat: "text",
		stderr:    os.Stderr,
	}

	root := &cobra.Command{
		Use:   "procdock",
		Short: "Supervise local processes and containers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx.stderr = cmd.ErrOrStderr()
			return ctx.setupLogging()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.closeLogging()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&ctx.configFile, "file", "f", "", fmt.Sprintf("Path to the workload file (default $%s or %s)", config.EnvPath, config.DefaultPath))
	flags.StringVar(&ctx.logLevel, "log-level", ctx.logLevel, "Log level: debug, info, warn or error")
	flags.StringVar(&ctx.logFormat, "log-format", ctx.logFormat, "Log format: text or json")
	flags.StringVar(&ctx.logFile, "log-file", "", "Write diagnostic logs to this file instead of stderr")

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newTuiCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))
	root.AddCommand(newCheckCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	configFile string
	logLevel   string
	logFormat  string
	logFile    string

	stderr  io.Writer
	logger  *slog.Logger
	logSink io.Closer
}

func (c *context) configPath() string {
	return config.Path(c.configFile)
}

func (c *context) loadConfig() (*config.File, error) {
	return config.LoadOrDefault(c.configPath())
}

func (c *context) setupLogging() error {
	out := c.stderr
	if c.logFile != "" {
		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		c.logSink = f
		out = f
	}
	logger, err := newLogger(out, c.logFormat, c.logLevel)
	if err != nil {
		return err
	}
	c.logger = logger
	slog.SetDefault(logger)
	return nil
}

func (c *context) silenceLogging() {
	c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	slog.SetDefault(c.logger)
}

func (c *context) closeLogging() error {
	if c.logSink == nil {
		return nil
	}
	err := c.logSink.Close()
	c.logSink = nil
	return err
}

func (c *context) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// newEngine builds a manager using the document's engine settings.
func (c *context) newEngine(doc *config.File) (*engine.Manager, error) {
	backend := doc.Engine.Container.Backend
	if backend == "" {
		backend = config.BackendCLI
	}
	containers, err := runtime.New(backend, runtime.Options{Binary: doc.Engine.Container.Binary})
	if err != nil {
		return nil, err
	}
	logger := c.log().With("backend", backend)
	if cli, ok := containers.(*container.CLI); ok {
		logger = logger.With("binary", cli.Binary())
	}
	logger.Debug("container runtime ready")

	opts := []engine.Option{
		engine.WithContainerRuntime(containers),
		engine.WithLogger(c.log()),
	}
	if d := doc.Engine.MonitorInterval.Duration; d > 0 {
		opts = append(opts, engine.WithMonitorInterval(d))
	}
	if d := doc.Engine.PollInterval.Duration; d > 0 {
		opts = append(opts, engine.WithPollInterval(d))
	}
	mgr := engine.New(opts...)
	mgr.InitFromConfig(doc.Resolved())
	return mgr, nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
