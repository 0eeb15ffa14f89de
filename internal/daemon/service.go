package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Run serves h until ctx is cancelled. It refuses to start while another
// server answers on the socket or holds the PID file, and releases the PID
// file on exit.
func Run(ctx context.Context, cfg Config, h RequestHandler) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDir(); err != nil {
		return err
	}

	if NewClient(cfg).IsRunning() {
		return fmt.Errorf("%w: %s is accepting connections", ErrAlreadyRunning, cfg.SocketPath)
	}

	pidFile := NewPIDFile(cfg.PIDPath)
	if err := pidFile.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			slog.Warn("pid_file_release_failed", slog.String("error", err.Error()))
		}
	}()

	srv, err := NewServer(cfg)
	if err != nil {
		return err
	}
	srv.SetHandler(h)

	slog.Info("server_started",
		slog.String("socket", cfg.SocketPath),
		slog.String("pid_file", cfg.PIDPath))

	err = srv.ListenAndServe(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Info("server_stopped")
		return nil
	}
	return err
}
