package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// Status is the outcome of one host check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Check names.
const (
	DiskSpace        = "disk_space"
	WritePermissions = "write_permissions"
	Memory           = "memory"
	FileDescriptors  = "file_descriptors"
)

// Result is the outcome of one check against one target.
type Result struct {
	Check   string `json:"check"`
	Target  string `json:"target,omitempty"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	// Hint tells the operator how to fix a failure or warning.
	Hint string `json:"hint,omitempty"`
}

func (r Result) String() string {
	if r.Target == "" {
		return r.Check + ": " + r.Message
	}
	return r.Check + " (" + r.Target + "): " + r.Message
}

// Requirements describes what a build is about to consume.
type Requirements struct {
	SaveDir string
	// TempDir holds parts, merged runs and BWT slices. Empty means SaveDir.
	TempDir string
	// DiskBytes is the estimated scratch plus output size.
	DiskBytes uint64
	// MemBytes is the construction memory budget.
	MemBytes uint64
}

// dirs returns the distinct directories a build writes to.
func (r Requirements) dirs() []string {
	dirs := []string{r.SaveDir}
	if r.TempDir != "" && filepath.Clean(r.TempDir) != filepath.Clean(r.SaveDir) {
		dirs = append(dirs, r.TempDir)
	}
	return dirs
}

// Report collects the results of one preflight run.
type Report struct {
	Results []Result `json:"results"`
}

func (r *Report) add(res Result) { r.Results = append(r.Results, res) }

// Failed reports whether any check failed.
func (r *Report) Failed() bool {
	return len(r.filter(StatusFail)) > 0
}

// Warnings returns the results that passed with a warning.
func (r *Report) Warnings() []Result {
	return r.filter(StatusWarn)
}

func (r *Report) filter(s Status) []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == s {
			out = append(out, res)
		}
	}
	return out
}

// Err returns nil when nothing failed. Otherwise it returns a single
// error naming every failure, coded as disk full when free space was one
// of them.
func (r *Report) Err() error {
	failures := r.filter(StatusFail)
	if len(failures) == 0 {
		return nil
	}
	code := fmerrors.ErrCodeConfigInvalid
	msgs := make([]string, len(failures))
	var hint string
	for i, f := range failures {
		msgs[i] = f.String()
		if f.Check == DiskSpace {
			code = fmerrors.ErrCodeDiskFull
		}
		if hint == "" {
			hint = f.Hint
		}
	}
	err := fmerrors.New(code, "preflight failed: "+strings.Join(msgs, "; "), nil)
	if hint != "" {
		return err.WithSuggestion(hint + ", or rerun with --skip-preflight")
	}
	return err.WithSuggestion("Fix the host limits or rerun with --skip-preflight")
}

// Checker runs host checks before a build.
type Checker struct {
	ulimit uint64
}

// Option configures a Checker.
type Option func(*Checker)

// WithUlimit makes the file descriptor check raise the soft RLIMIT_NOFILE
// to n (capped at the hard limit).
func WithUlimit(n uint64) Option {
	return func(c *Checker) {
		c.ulimit = n
	}
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run checks every directory the build writes to, then memory and the open
// file limit. It stops early when ctx is cancelled.
func (c *Checker) Run(ctx context.Context, req Requirements) (*Report, error) {
	report := &Report{}
	for _, dir := range req.dirs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.add(c.CheckDiskSpace(dir, req.DiskBytes))
		report.add(c.CheckWritePermissions(dir))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report.add(c.CheckMemory(req.MemBytes))
	report.add(c.CheckFileDescriptors())
	return report, nil
}

// CheckWritePermissions creates and removes a probe file in dir.
func (c *Checker) CheckWritePermissions(dir string) Result {
	res := Result{Check: WritePermissions, Target: dir}

	f, err := os.CreateTemp(dir, ".fmindex-preflight-*")
	if err != nil {
		res.Status = StatusFail
		res.Message = fmt.Sprintf("not writable: %v", err)
		res.Hint = "Choose a writable --save-dir or --temp-dir"
		return res
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	res.Message = "writable"
	return res
}
