package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/config"
	"github.com/Aman-CERP/fmindex/internal/daemon"
	"github.com/Aman-CERP/fmindex/internal/logging"
	"github.com/Aman-CERP/fmindex/internal/output"
	"github.com/Aman-CERP/fmindex/internal/router"
	"github.com/Aman-CERP/fmindex/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var detach bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve every configured index over a Unix socket",
		Long: `Serve loads every index in the configuration and answers queries
over a Unix domain socket until interrupted.

Commands:
  stop    Stop the running server
  status  Show server status

Examples:
  fmindex serve          # Run in the foreground
  fmindex serve -d       # Run in the background
  fmindex serve status   # Check whether the server is running
  fmindex serve stop     # Stop the server`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if detach {
				return runServeDetached(cmd, cfg)
			}
			return runServe(cmd.Context(), cmd, cfg)
		},
	}

	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Run in the background")

	cmd.AddCommand(newServeStopCmd())
	cmd.AddCommand(newServeStatusCmd())

	return cmd
}

func newServeStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running server",
		Long: `Stop sends SIGTERM to the server and waits for in-flight queries
to finish, then SIGKILL if it does not exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServeStop(cmd, daemonConfig(cfg))
		},
	}
}

func newServeStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServeStatus(cmd.Context(), cmd, daemonConfig(cfg), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// daemonConfig maps the server section onto a daemon config. The timeout
// was checked by config validation.
func daemonConfig(cfg *config.Config) daemon.Config {
	return daemon.FromServerConfig(cfg.Server)
}

// runServe serves in the foreground until ctx is cancelled.
func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	if len(cfg.Indexes) == 0 {
		return fmt.Errorf("no indexes configured; add an indexes section to fmindex.yaml")
	}

	cleanupLog, err := logging.Install(logging.Config{
		Level:         logLevel(cfg),
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		Compress:      true,
		WriteToStderr: true,
		Component:     "server",
	})
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanupLog()

	dcfg := daemonConfig(cfg)
	out := output.New(cmd.OutOrStdout())

	start := time.Now()
	registry, err := router.OpenRegistry(ctx, cfg.IndexShards(), cfg.Server.EngineOptions())
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()
	slog.Info("indexes_loaded",
		slog.Any("indexes", registry.Names()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	var opts []router.Option

	if cfg.Server.QueryLog != "" {
		qlog, err := logging.NewRotatingWriter(cfg.Server.QueryLog, cfg.Logging.MaxSizeMB, cfg.Logging.MaxFiles)
		if err != nil {
			return fmt.Errorf("failed to open query log: %w", err)
		}
		defer func() { _ = qlog.Close() }()
		qlog.SetCompress(true)
		opts = append(opts, router.WithQueryLog(qlog))
	}

	var store telemetry.Store
	if cfg.Server.TelemetryDB != "" {
		s, err := telemetry.OpenSQLiteStore(cfg.Server.TelemetryDB)
		if err != nil {
			// Telemetry is optional; serve without persistence.
			slog.Warn("telemetry_store_unavailable",
				slog.String("path", cfg.Server.TelemetryDB),
				slog.String("error", err.Error()))
		} else {
			store = s
		}
	}
	metrics := telemetry.New(store, telemetry.DefaultConfig())
	defer func() {
		snap := metrics.Snapshot()
		slog.Info("telemetry_summary",
			slog.Int64("queries", snap.TotalQueries),
			slog.Any("by_status", snap.StatusCounts),
			slog.Any("by_index", snap.IndexCounts),
			slog.Float64("zero_result_pct", snap.ZeroResultPercentage()),
			slog.Float64("repeat_rate", snap.ExactRepeatRate()),
			slog.Duration("uptime", time.Since(snap.Since)))
		if err := metrics.Close(); err != nil {
			slog.Warn("telemetry_close_failed", slog.String("error", err.Error()))
		}
	}()
	opts = append(opts, router.WithRecorder(metrics))

	r := router.New(registry, opts...)

	out.Successf("Serving %d index(es) on %s", len(registry.Names()), dcfg.SocketPath)
	out.KeyValue("Logs", cfg.Logging.File)
	out.Status("", "Press Ctrl+C to stop")

	return daemon.Run(ctx, dcfg, daemon.NewRouterHandler(r))
}

func logLevel(cfg *config.Config) string {
	if debugMode {
		return "debug"
	}
	return cfg.Logging.Level
}

// runServeDetached re-executes serve in a new session and waits for the
// socket to answer.
func runServeDetached(cmd *cobra.Command, cfg *config.Config) error {
	out := output.New(cmd.OutOrStdout())
	dcfg := daemonConfig(cfg)

	client := daemon.NewClient(dcfg)
	if client.IsRunning() {
		out.Status("", "Server is already running")
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	bgCmd := exec.Command(execPath, args...)
	bgCmd.Stdin = nil
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	// Loading large indexes takes a while; poll for up to a minute.
	for i := 0; i < 600; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("server exited during startup: %w (see %s)", err, cfg.Logging.File)
			}
			return fmt.Errorf("server exited during startup (see %s)", cfg.Logging.File)
		case <-time.After(100 * time.Millisecond):
		}
		if client.IsRunning() {
			out.Successf("Server started (pid: %d)", bgCmd.Process.Pid)
			return nil
		}
	}
	return fmt.Errorf("server did not start within 60s (see %s)", cfg.Logging.File)
}

func runServeStop(cmd *cobra.Command, dcfg daemon.Config) error {
	out := output.New(cmd.OutOrStdout())
	pidFile := daemon.NewPIDFile(dcfg.PIDPath)

	if !pidFile.IsRunning() {
		out.Status("", "Server is not running")
		_ = pidFile.Remove()
		return nil
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	deadline := time.Now().Add(dcfg.ShutdownGracePeriod + 2*time.Second)
	for time.Now().Before(deadline) {
		if !pidFile.IsRunning() {
			out.Success("Server stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill server: %w", err)
	}
	_ = pidFile.Remove()
	out.Warning("Server did not stop in time and was killed")
	return nil
}

func runServeStatus(ctx context.Context, cmd *cobra.Command, dcfg daemon.Config, jsonOutput bool) error {
	client := daemon.NewClient(dcfg)

	status, err := client.Status(ctx)
	if err != nil {
		status = &daemon.StatusResult{Running: false}
		slog.Debug("status_unavailable", slog.String("error", err.Error()))
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), status)
	}

	out := output.New(cmd.OutOrStdout())
	if !status.Running {
		out.Status("", "Server is not running")
		out.KeyValue("Socket", dcfg.SocketPath)
		return nil
	}
	out.Success("Server is running")
	out.KeyValue("PID", status.PID)
	out.KeyValue("Uptime", status.Uptime)
	out.KeyValue("Indexes", status.Indexes)
	out.KeyValue("Queries", status.Queries)
	out.KeyValue("Socket", dcfg.SocketPath)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
