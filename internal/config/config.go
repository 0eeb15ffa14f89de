// Package config loads fmindex configuration. Values are layered in order
// of increasing precedence: built-in defaults, the user config file, the
// project fmindex.yaml, then FMINDEX_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/fmindex/internal/engine"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// ProjectFileNames are the project config names, in lookup order.
var ProjectFileNames = []string{"fmindex.yaml", "fmindex.yml"}

// Config is the complete fmindex configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Indexes []IndexConfig `yaml:"indexes" json:"indexes"`
	Build   BuildConfig   `yaml:"build" json:"build"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// IndexConfig names one index and lists its shards in order.
type IndexConfig struct {
	Name   string               `yaml:"name" json:"name"`
	Shards []engine.ShardConfig `yaml:"shards" json:"shards"`
}

// BuildConfig configures shard construction.
type BuildConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
	SaveDir string `yaml:"save_dir" json:"save_dir"`
	// TempDir holds scratch files; empty means SaveDir.
	TempDir string `yaml:"temp_dir" json:"temp_dir"`

	Workers   int     `yaml:"workers" json:"workers"`
	MemGiB    float64 `yaml:"mem_gib" json:"mem_gib"`
	BatchSize int     `yaml:"batch_size" json:"batch_size"`
	HackSize  int     `yaml:"hack_size" json:"hack_size"`

	// Worker is "native" or "exec".
	Worker       string `yaml:"worker" json:"worker"`
	WorkerBinary string `yaml:"worker_binary" json:"worker_binary"`

	// Finalizer is "native", "exec" or "none".
	Finalizer       string `yaml:"finalizer" json:"finalizer"`
	FinalizerBinary string `yaml:"finalizer_binary" json:"finalizer_binary"`

	Ulimit        uint64 `yaml:"ulimit" json:"ulimit"`
	SkipChecksums bool   `yaml:"skip_checksums" json:"skip_checksums"`
	SkipPreflight bool   `yaml:"skip_preflight" json:"skip_preflight"`
}

// ServerConfig configures the query server.
type ServerConfig struct {
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	PIDPath    string `yaml:"pid_path" json:"pid_path"`
	// QueryLog is a JSON lines file receiving one record per request.
	// Empty disables the query log.
	QueryLog string `yaml:"query_log" json:"query_log"`
	// CacheSize bounds the engine result cache. Negative disables it.
	CacheSize   int    `yaml:"cache_size" json:"cache_size"`
	TelemetryDB string `yaml:"telemetry_db" json:"telemetry_db"`
	Timeout     string `yaml:"timeout" json:"timeout"`
	LoadWorkers int    `yaml:"load_workers" json:"load_workers"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// Worker and finalizer kinds.
const (
	KindNative = "native"
	KindExec   = "exec"
	KindNone   = "none"
)

// HomeDir returns ~/.fmindex, falling back to the temp directory.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fmindex")
	}
	return filepath.Join(home, ".fmindex")
}

// NewConfig returns a Config holding the built-in defaults.
func NewConfig() *Config {
	dir := HomeDir()
	return &Config{
		Version: 1,
		Build: BuildConfig{
			Workers:   runtime.NumCPU(),
			MemGiB:    4,
			Worker:    KindNative,
			Finalizer: KindNative,
		},
		Server: ServerConfig{
			SocketPath:  filepath.Join(dir, "fmindex.sock"),
			PIDPath:     filepath.Join(dir, "fmindex.pid"),
			QueryLog:    filepath.Join(dir, "logs", "queries.jsonl"),
			CacheSize:   engine.DefaultCacheSize,
			TelemetryDB: filepath.Join(dir, "telemetry.db"),
			Timeout:     "30s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      filepath.Join(dir, "logs", "server.log"),
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the user configuration file path:
// $XDG_CONFIG_HOME/fmindex/config.yaml, or ~/.config/fmindex/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fmindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "fmindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "fmindex", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load resolves the configuration for a project directory and validates it.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if path := FindProjectFile(dir); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with exactly one file, then env.
func LoadFile(path string) (*Config, error) {
	if !fileExists(path) {
		return nil, fmerrors.New(fmerrors.ErrCodeConfigNotFound, "config file not found", nil).
			WithDetail("path", path)
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindProjectFile returns the project config in dir, or "" if none.
func FindProjectFile(dir string) string {
	for _, name := range ProjectFileNames {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
	}
	return ""
}

// FindProjectRoot walks up from startDir to the first directory holding a
// project config or a .git directory. It returns startDir when neither is
// found.
func FindProjectRoot(startDir string) (string, error) {
	if startDir == "" {
		startDir = "."
	}
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}

	for dir := abs; ; {
		if FindProjectFile(dir) != "" || dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

// loadYAML parses path and merges its non-zero values into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmerrors.ConfigError("failed to read config file", err).WithDetail("path", path)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmerrors.ConfigError("failed to parse config file: "+err.Error(), err).WithDetail("path", path)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c. Indexes are merged
// by name; a later definition replaces an earlier one.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	for _, idx := range other.Indexes {
		replaced := false
		for i := range c.Indexes {
			if c.Indexes[i].Name == idx.Name {
				c.Indexes[i] = idx
				replaced = true
			}
		}
		if !replaced {
			c.Indexes = append(c.Indexes, idx)
		}
	}

	b, ob := &c.Build, other.Build
	setString(&b.DataDir, ob.DataDir)
	setString(&b.SaveDir, ob.SaveDir)
	setString(&b.TempDir, ob.TempDir)
	setInt(&b.Workers, ob.Workers)
	if ob.MemGiB != 0 {
		b.MemGiB = ob.MemGiB
	}
	setInt(&b.BatchSize, ob.BatchSize)
	setInt(&b.HackSize, ob.HackSize)
	setString(&b.Worker, ob.Worker)
	setString(&b.WorkerBinary, ob.WorkerBinary)
	setString(&b.Finalizer, ob.Finalizer)
	setString(&b.FinalizerBinary, ob.FinalizerBinary)
	if ob.Ulimit != 0 {
		b.Ulimit = ob.Ulimit
	}
	b.SkipChecksums = b.SkipChecksums || ob.SkipChecksums
	b.SkipPreflight = b.SkipPreflight || ob.SkipPreflight

	sv, osv := &c.Server, other.Server
	setString(&sv.SocketPath, osv.SocketPath)
	setString(&sv.PIDPath, osv.PIDPath)
	setString(&sv.QueryLog, osv.QueryLog)
	setInt(&sv.CacheSize, osv.CacheSize)
	setString(&sv.TelemetryDB, osv.TelemetryDB)
	setString(&sv.Timeout, osv.Timeout)
	setInt(&sv.LoadWorkers, osv.LoadWorkers)

	l, ol := &c.Logging, other.Logging
	setString(&l.Level, ol.Level)
	setString(&l.File, ol.File)
	setInt(&l.MaxSizeMB, ol.MaxSizeMB)
	setInt(&l.MaxFiles, ol.MaxFiles)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// envOverride binds one FMINDEX_* variable to a setter.
type envOverride struct {
	name string
	set  func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"FMINDEX_DATA_DIR", func(c *Config, v string) error { c.Build.DataDir = v; return nil }},
	{"FMINDEX_SAVE_DIR", func(c *Config, v string) error { c.Build.SaveDir = v; return nil }},
	{"FMINDEX_TEMP_DIR", func(c *Config, v string) error { c.Build.TempDir = v; return nil }},
	{"FMINDEX_WORKERS", func(c *Config, v string) error { return parseInt(v, &c.Build.Workers) }},
	{"FMINDEX_MEM_GIB", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		c.Build.MemGiB = f
		return err
	}},
	{"FMINDEX_WORKER", func(c *Config, v string) error { c.Build.Worker = v; return nil }},
	{"FMINDEX_WORKER_BINARY", func(c *Config, v string) error { c.Build.WorkerBinary = v; return nil }},
	{"FMINDEX_SOCKET", func(c *Config, v string) error { c.Server.SocketPath = v; return nil }},
	{"FMINDEX_QUERY_LOG", func(c *Config, v string) error { c.Server.QueryLog = v; return nil }},
	{"FMINDEX_CACHE_SIZE", func(c *Config, v string) error { return parseInt(v, &c.Server.CacheSize) }},
	{"FMINDEX_TELEMETRY_DB", func(c *Config, v string) error { c.Server.TelemetryDB = v; return nil }},
	{"FMINDEX_TIMEOUT", func(c *Config, v string) error { c.Server.Timeout = v; return nil }},
	{"FMINDEX_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"FMINDEX_LOG_FILE", func(c *Config, v string) error { c.Logging.File = v; return nil }},
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err == nil {
		*dst = n
	}
	return err
}

// applyEnvOverrides applies FMINDEX_* variables. Empty variables are
// ignored; unparsable ones are configuration errors.
func (c *Config) applyEnvOverrides() error {
	for _, o := range envOverrides {
		v := os.Getenv(o.name)
		if v == "" {
			continue
		}
		if err := o.set(c, v); err != nil {
			return fmerrors.ConfigError(fmt.Sprintf("invalid %s=%q", o.name, v), err).
				WithDetail("variable", o.name)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmerrors.ConfigError(fmt.Sprintf(format, args...), nil)
	}

	seen := make(map[string]bool, len(c.Indexes))
	for i, idx := range c.Indexes {
		if idx.Name == "" {
			return invalid("indexes[%d]: name is required", i)
		}
		if seen[idx.Name] {
			return invalid("indexes: duplicate name %q", idx.Name)
		}
		seen[idx.Name] = true
		if len(idx.Shards) == 0 {
			return invalid("index %q: at least one shard is required", idx.Name)
		}
		for j, s := range idx.Shards {
			if s.Dir == "" {
				return invalid("index %q: shards[%d].dir is required", idx.Name, j)
			}
		}
	}

	b := c.Build
	if b.Workers < 0 || b.BatchSize < 0 || b.HackSize < 0 {
		return invalid("build: workers, batch_size and hack_size must be non-negative")
	}
	if b.MemGiB < 0 {
		return invalid("build.mem_gib must be non-negative, got %g", b.MemGiB)
	}
	switch b.Worker {
	case KindNative:
	case KindExec:
		if b.WorkerBinary == "" {
			return invalid("build.worker_binary is required when build.worker is %q", KindExec)
		}
	default:
		return invalid("build.worker must be %q or %q, got %q", KindNative, KindExec, b.Worker)
	}
	switch b.Finalizer {
	case KindNative, KindNone:
	case KindExec:
		if b.FinalizerBinary == "" {
			return invalid("build.finalizer_binary is required when build.finalizer is %q", KindExec)
		}
	default:
		return invalid("build.finalizer must be %q, %q or %q, got %q", KindNative, KindExec, KindNone, b.Finalizer)
	}

	if _, err := c.Server.TimeoutDuration(); err != nil {
		return invalid("server.timeout: %v", err)
	}
	if c.Server.LoadWorkers < 0 {
		return invalid("server.load_workers must be non-negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 {
		return invalid("logging: max_size_mb and max_files must be non-negative")
	}
	return nil
}

// MemBytes returns the build memory budget in bytes.
func (b BuildConfig) MemBytes() int64 {
	return int64(b.MemGiB * (1 << 30))
}

// TimeoutDuration parses the request timeout.
func (s ServerConfig) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s.Timeout)
	}
	return d, nil
}

// EngineOptions maps the server section onto engine options.
func (s ServerConfig) EngineOptions() engine.Options {
	return engine.Options{
		CacheSize: max(s.CacheSize, 0),
		Workers:   s.LoadWorkers,
	}
}

// IndexShards returns the shard lists keyed by index name.
func (c *Config) IndexShards() map[string][]engine.ShardConfig {
	out := make(map[string][]engine.ShardConfig, len(c.Indexes))
	for _, idx := range c.Indexes {
		out[idx.Name] = idx.Shards
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
