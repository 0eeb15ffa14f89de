// Package daemon serves queries over a Unix socket. The daemon keeps every
// index loaded, so CLI query commands connect to it instead of opening
// shards on every invocation.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/fmindex/internal/config"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// maxSocketPath is the usable length of sockaddr_un.sun_path on Linux.
const maxSocketPath = 107

// DefaultShutdownGracePeriod bounds the wait for in-flight requests.
const DefaultShutdownGracePeriod = 10 * time.Second

// Config holds the socket, PID file and timing of one server.
type Config struct {
	SocketPath string
	PIDPath    string

	// Timeout bounds one request, from accept to response.
	Timeout time.Duration

	ShutdownGracePeriod time.Duration
}

// FromServerConfig maps the server section of the configuration. An
// unparsable timeout keeps the built-in default; config validation
// reports it separately.
func FromServerConfig(s config.ServerConfig) Config {
	c := DefaultConfig()
	if s.SocketPath != "" {
		c.SocketPath = s.SocketPath
	}
	if s.PIDPath != "" {
		c.PIDPath = s.PIDPath
	}
	if d, err := s.TimeoutDuration(); err == nil {
		c.Timeout = d
	}
	return c
}

// DefaultConfig returns the built-in server settings.
func DefaultConfig() Config {
	s := config.NewConfig().Server
	timeout, err := s.TimeoutDuration()
	if err != nil {
		timeout = 30 * time.Second
	}
	return Config{
		SocketPath:          s.SocketPath,
		PIDPath:             s.PIDPath,
		Timeout:             timeout,
		ShutdownGracePeriod: DefaultShutdownGracePeriod,
	}
}

// Validate checks that the server can be started with c.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmerrors.ConfigError(fmt.Sprintf(format, args...), nil)
	}
	switch {
	case c.SocketPath == "":
		return invalid("socket path cannot be empty")
	case len(c.SocketPath) > maxSocketPath:
		return invalid("socket path is %d bytes, the limit is %d: %s", len(c.SocketPath), maxSocketPath, c.SocketPath)
	case c.PIDPath == "":
		return invalid("PID path cannot be empty")
	case c.Timeout <= 0:
		return invalid("timeout must be positive")
	case c.ShutdownGracePeriod <= 0:
		return invalid("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the socket and PID file directories.
func (c Config) EnsureDir() error {
	for _, dir := range []string{filepath.Dir(c.SocketPath), filepath.Dir(c.PIDPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmerrors.IOError("create server directory", err).WithDetail("path", dir)
		}
	}
	return nil
}
