// Package ui provides terminal UI components for build progress and shard status display.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a build pipeline stage.
type Stage int

const (
	// StagePreflight checks disk, memory and file limits.
	StagePreflight Stage = iota
	// StagePrepare turns JSONL inputs into blobs and offsets.
	StagePrepare
	// StageMakePart sorts suffixes of each range into part files.
	StageMakePart
	// StageMerge merges part files into runs and BWT slices.
	StageMerge
	// StageConcat joins runs into the final suffix array and BWT.
	StageConcat
	// StageFinalize writes the occurrence tables and manifest.
	StageFinalize
	// StageComplete indicates the build is complete.
	StageComplete
)

var stageLabels = [...]struct{ name, icon string }{
	StagePreflight: {"Preflight", "CHECK"},
	StagePrepare:   {"Preparing", "PREP"},
	StageMakePart:  {"Sorting parts", "PART"},
	StageMerge:     {"Merging", "MERGE"},
	StageConcat:    {"Concatenating", "CONCAT"},
	StageFinalize:  {"Finalizing", "FINAL"},
	StageComplete:  {"Complete", "DONE"},
}

func (s Stage) valid() bool { return s >= 0 && int(s) < len(stageLabels) }

func (s Stage) String() string {
	if !s.valid() {
		return "Unknown"
	}
	return stageLabels[s].name
}

// Icon is the bracketed tag PlainRenderer prints for the stage.
func (s Stage) Icon() string {
	if !s.valid() {
		return "???"
	}
	return stageLabels[s].icon
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Channel string // "data" or "meta" during construction stages
	Item    string // input file or artifact being processed
	Message string
}

// ErrorEvent represents an error during processing.
type ErrorEvent struct {
	Item   string
	Err    error
	IsWarn bool
}

// StageTimings tracks duration for each build stage.
type StageTimings struct {
	Preflight time.Duration
	Prepare   time.Duration
	Construct time.Duration // make-part + merge + concat, both channels
	Finalize  time.Duration
}

// CompletionStats contains final build statistics.
type CompletionStats struct {
	Files      int
	Documents  int64
	DataBytes  int64
	MetaBytes  int64
	Generation string
	Duration   time.Duration
	Errors     int
	Warnings   int
	Skipped    bool // every artifact already existed
	Stages     StageTimings
}

// Renderer receives build events. UpdateProgress and AddError may be called
// from several goroutines; Complete is called at most once, before Stop.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	IndexDir   string // shown in the TUI header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithIndexDir sets the index directory displayed in the header.
func WithIndexDir(dir string) ConfigOption {
	return func(c *Config) {
		c.IndexDir = dir
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the TUI for interactive terminals and plain lines for
// pipes, CI runners and --no-tui.
func NewRenderer(cfg Config) Renderer {
	if !cfg.ForcePlain && !DetectCI() {
		if tui, err := NewTUIRenderer(cfg); err == nil {
			return tui
		}
	}
	return NewPlainRenderer(cfg)
}

// NopRenderer discards all events. Used by tests and by worker
// subprocesses that report through their parent.
type NopRenderer struct{}

func (NopRenderer) Start(context.Context) error  { return nil }
func (NopRenderer) UpdateProgress(ProgressEvent) {}
func (NopRenderer) AddError(ErrorEvent)          {}
func (NopRenderer) Complete(CompletionStats)     {}
func (NopRenderer) Stop() error                  { return nil }

// IsTTY reports whether w is a terminal file.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DetectNoColor honors the NO_COLOR convention: set at all means no color.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// ciEnv are variables whose presence marks a CI runner.
var ciEnv = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "JENKINS_URL", "TRAVIS"}

func DetectCI() bool {
	for _, v := range ciEnv {
		if _, set := os.LookupEnv(v); set {
			return true
		}
	}
	return false
}
