package daemon

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fmindex/internal/config"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ".fmindex", filepath.Base(filepath.Dir(cfg.SocketPath)))
	assert.Equal(t, filepath.Dir(cfg.SocketPath), filepath.Dir(cfg.PIDPath))
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
}

func TestFromServerConfig(t *testing.T) {
	s := config.NewConfig().Server
	s.SocketPath = "/run/fm.sock"
	s.PIDPath = "/run/fm.pid"
	s.Timeout = "250ms"

	cfg := FromServerConfig(s)
	assert.Equal(t, "/run/fm.sock", cfg.SocketPath)
	assert.Equal(t, "/run/fm.pid", cfg.PIDPath)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)

	s.Timeout = "soon"
	s.SocketPath = ""
	cfg = FromServerConfig(s)
	assert.Equal(t, DefaultConfig().Timeout, cfg.Timeout)
	assert.Equal(t, DefaultConfig().SocketPath, cfg.SocketPath)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		SocketPath:          "/tmp/test.sock",
		PIDPath:             "/tmp/test.pid",
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty socket path", func(c *Config) { c.SocketPath = "" }, "socket path"},
		{"socket path too long", func(c *Config) { c.SocketPath = "/tmp/" + strings.Repeat("s", 120) }, "limit is 107"},
		{"empty PID path", func(c *Config) { c.PIDPath = "" }, "PID path"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"negative grace period", func(c *Config) { c.ShutdownGracePeriod = -time.Second }, "grace period"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Equal(t, fmerrors.ErrCodeConfigInvalid, fmerrors.GetCode(err))
		})
	}
}

func TestConfig_EnsureDir(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{
		SocketPath: filepath.Join(tmp, "run", "fmindex.sock"),
		PIDPath:    filepath.Join(tmp, "pids", "fmindex.pid"),
	}

	require.NoError(t, cfg.EnsureDir())
	assert.DirExists(t, filepath.Join(tmp, "run"))
	assert.DirExists(t, filepath.Join(tmp, "pids"))
}
