// Package cmd provides the CLI commands for fmindex.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/config"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
	"github.com/Aman-CERP/fmindex/internal/logging"
	"github.com/Aman-CERP/fmindex/internal/profiling"
	"github.com/Aman-CERP/fmindex/pkg/version"
)

// logAnnotation routes a command's logs to a file; see logFileFor.
const (
	logAnnotation = "fmindex/log"
	logToBuild    = "build"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profile      *profiling.Session
)

// Logging and config flags
var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the fmindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fmindex",
		Short: "Build and query FM-indexes over JSON-lines corpora",
		Long: `fmindex builds suffix array and BWT shards from a directory of
JSON-lines documents and answers substring queries over them.

Typical flow:
  fmindex build --data-dir corpus/ --save-dir shards/000
  fmindex serve -d
  fmindex query pile count "nature"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("fmindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config, then ./fmindex.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newPrepareCmd())
	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging installs the logger and starts any requested
// profiles.
func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	logCfg := logging.Config{
		Level:         "warn",
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
		Component:     cmd.Name(),
	}
	if debugMode {
		logCfg.Level = "debug"
	}
	if logFileFor(cmd) == logToBuild {
		logCfg.FilePath = logging.BuildLogPath()
		logCfg.Component = logToBuild
		logCfg.Compress = true
		logCfg.WriteToStderr = debugMode
		if !debugMode {
			logCfg.Level = "info"
		}
	}
	cleanup, err := logging.Install(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup

	opts := profiling.Options{CPU: profileCPU, Heap: profileMem, Trace: profileTrace}
	if opts.Enabled() {
		profile, err = profiling.Start(opts)
		if err != nil {
			return err
		}
	}
	return nil
}

// stopProfilingAndLogging stops profiling and writes the heap profile.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profile != nil {
		err = profile.Stop()
		profile = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// logFileFor returns the log annotation of cmd or its nearest ancestor.
func logFileFor(cmd *cobra.Command) string {
	for c := cmd; c != nil; c = c.Parent() {
		if v, ok := c.Annotations[logAnnotation]; ok {
			return v
		}
	}
	return ""
}

// loadConfig returns the --config file when given, else the layered config
// for the working directory.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	root, err := config.FindProjectRoot(wd)
	if err != nil {
		root = wd
	}
	return config.Load(root)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		attrs := make([]any, 0, 8)
		for k, v := range fmerrors.FormatForLog(err) {
			attrs = append(attrs, slog.Any(k, v))
		}
		slog.Debug("command_failed", attrs...)
		fmt.Fprint(os.Stderr, fmerrors.FormatForCLI(err))
	}
	return err
}
