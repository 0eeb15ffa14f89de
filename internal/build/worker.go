package build

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"

	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// PartRequest asks a worker to sort the suffixes starting in one byte
// range of DataFile. Start and End are file offsets.
type PartRequest struct {
	DataFile string
	PartsDir string
	Start    int64
	End      int64
	Ratio    int
}

// MergeRequest asks a worker to merge every part in PartsDir into sorted
// runs in MergedDir, with matching BWT blocks in BWTDir.
type MergeRequest struct {
	DataFile  string
	PartsDir  string
	MergedDir string
	BWTDir    string
	Threads   int
	HackSize  int
	Ratio     int
}

// ConcatRequest asks a worker to assemble the runs into the final SA and
// BWT files.
type ConcatRequest struct {
	DataFile   string
	MergedDir  string
	MergedFile string
	BWTDir     string
	BWTFile    string
	Threads    int
	Ratio      int
}

// ConstructionWorker sorts suffixes on behalf of the Coordinator.
// Any returned error aborts the build.
type ConstructionWorker interface {
	MakePart(ctx context.Context, req PartRequest) error
	Merge(ctx context.Context, req MergeRequest) error
	Concat(ctx context.Context, req ConcatRequest) error
}

// Args renders the request as the worker command line.
func (r PartRequest) Args() []string {
	return []string{"make-part",
		"--data-file", r.DataFile,
		"--parts-dir", r.PartsDir,
		"--start-byte", strconv.FormatInt(r.Start, 10),
		"--end-byte", strconv.FormatInt(r.End, 10),
		"--ratio", strconv.Itoa(r.Ratio),
	}
}

// Args renders the request as the worker command line.
func (r MergeRequest) Args() []string {
	return []string{"merge",
		"--data-file", r.DataFile,
		"--parts-dir", r.PartsDir,
		"--merged-dir", r.MergedDir,
		"--bwt-dir", r.BWTDir,
		"--num-threads", strconv.Itoa(r.Threads),
		"--hacksize", strconv.Itoa(r.HackSize),
		"--ratio", strconv.Itoa(r.Ratio),
	}
}

// Args renders the request as the worker command line.
func (r ConcatRequest) Args() []string {
	return []string{"concat",
		"--data-file", r.DataFile,
		"--merged-dir", r.MergedDir,
		"--merged-file", r.MergedFile,
		"--bwt-dir", r.BWTDir,
		"--bwt-file", r.BWTFile,
		"--num-threads", strconv.Itoa(r.Threads),
		"--ratio", strconv.Itoa(r.Ratio),
	}
}

// ExecWorker runs an external construction worker binary. Exit code 0 is
// success; anything else is a ConstructionWorkerError.
type ExecWorker struct {
	Binary string
	// ExtraArgs are inserted before the subcommand, e.g. ["worker"] when
	// Binary is fmindex itself.
	ExtraArgs []string
}

func (w *ExecWorker) MakePart(ctx context.Context, req PartRequest) error {
	return w.run(ctx, "make-part", req.Args())
}

func (w *ExecWorker) Merge(ctx context.Context, req MergeRequest) error {
	return w.run(ctx, "merge", req.Args())
}

func (w *ExecWorker) Concat(ctx context.Context, req ConcatRequest) error {
	return w.run(ctx, "concat", req.Args())
}

func (w *ExecWorker) run(ctx context.Context, stage string, args []string) error {
	full := append(append([]string{}, w.ExtraArgs...), args...)
	cmd := exec.CommandContext(ctx, w.Binary, full...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmerrors.ConstructionWorkerError(stage, err)
	}
	cmd.Stdout = io.Discard

	slog.Debug("starting construction worker", slog.String("stage", stage), slog.Any("args", full))
	if err := cmd.Start(); err != nil {
		return fmerrors.ConstructionWorkerError(stage, err)
	}

	// Keep the last stderr line for the error message; log the rest.
	var last string
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		last = sc.Text()
		slog.Debug("construction worker output", slog.String("stage", stage), slog.String("line", last))
	}

	if err := cmd.Wait(); err != nil {
		if last != "" {
			err = fmt.Errorf("%w: %s", err, last)
		}
		return fmerrors.ConstructionWorkerError(stage, err).
			WithDetail("binary", w.Binary)
	}
	return nil
}
