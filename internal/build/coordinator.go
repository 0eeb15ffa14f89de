package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/fmindex/internal/codec"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// Construction stage names, as used on the worker command line.
const (
	StageMakePart = "make-part"
	StageMerge    = "merge"
	StageConcat   = "concat"
)

// CoordinatorConfig configures SA and BWT construction for one shard.
type CoordinatorConfig struct {
	// SaveDir holds the blobs and receives the final SA and BWT files.
	SaveDir string
	// TempDir holds the parts, merged and bwt scratch directories.
	// Defaults to SaveDir.
	TempDir string

	MemBytes    int64
	Parallelism int
	// HackSize defaults to the package HackSize.
	HackSize int

	// Progress, when set, receives (stage, done, total) updates.
	Progress func(ch codec.Channel, stage string, done, total int)
}

// ChannelResult describes the construction of one channel.
type ChannelResult struct {
	Channel  codec.Channel
	Skipped  bool
	Plan     *Plan
	Duration time.Duration
}

// Coordinator drives a ConstructionWorker through make-part, merge and
// concat within a memory budget.
type Coordinator struct {
	cfg    CoordinatorConfig
	worker ConstructionWorker
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig, worker ConstructionWorker) (*Coordinator, error) {
	if worker == nil {
		return nil, fmt.Errorf("construction worker is required")
	}
	if cfg.SaveDir == "" {
		return nil, fmt.Errorf("save dir is required")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = cfg.SaveDir
	}
	if cfg.Parallelism <= 0 {
		return nil, fmt.Errorf("parallelism must be positive, got %d", cfg.Parallelism)
	}
	if cfg.HackSize <= 0 {
		cfg.HackSize = HackSize
	}
	return &Coordinator{cfg: cfg, worker: worker}, nil
}

// Built reports whether the SA and BWT of ch already exist in dir.
func Built(dir string, ch codec.Channel) bool {
	for _, name := range []string{ch.SAName(), ch.BWTName()} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Build constructs the SA and BWT of one channel. It is skipped when both
// files already exist. Scratch directories are removed after the stage
// that consumes them.
func (c *Coordinator) Build(ctx context.Context, ch codec.Channel) (*ChannelResult, error) {
	start := time.Now()
	if Built(c.cfg.SaveDir, ch) {
		slog.Info("construction skipped, SA and BWT exist", slog.String("channel", string(ch)))
		return &ChannelResult{Channel: ch, Skipped: true}, nil
	}

	dataFile := filepath.Join(c.cfg.SaveDir, ch.BlobName())
	layout, err := codec.DetectBlob(dataFile)
	if err != nil {
		return nil, err
	}
	plan, err := NewPlan(int64(layout.TextLength), c.cfg.MemBytes, c.cfg.Parallelism, int64(c.cfg.HackSize))
	if err != nil {
		return nil, fmerrors.ConfigError("plan construction", err)
	}
	slog.Info("construction planned",
		slog.String("channel", string(ch)),
		slog.Uint64("text_length", layout.TextLength),
		slog.Int("ratio", plan.Ratio),
		slog.Int("batches", plan.Batches),
		slog.Int("total_jobs", plan.TotalJobs))

	partsDir := filepath.Join(c.cfg.TempDir, "parts")
	mergedDir := filepath.Join(c.cfg.TempDir, "merged")
	bwtDir := filepath.Join(c.cfg.TempDir, "bwt")
	for _, dir := range []string{partsDir, mergedDir, bwtDir} {
		if err := resetDir(dir); err != nil {
			return nil, fmerrors.IOError("prepare scratch dir", err).WithDetail("path", dir)
		}
	}

	// make-part, one batch of at most Parallelism jobs at a time.
	done := 0
	for _, batch := range plan.BatchRanges() {
		g, gctx := errgroup.WithContext(ctx)
		for _, r := range batch {
			g.Go(func() error {
				return c.worker.MakePart(gctx, PartRequest{
					DataFile: dataFile,
					PartsDir: partsDir,
					Start:    layout.BlobHeader + r.Start,
					End:      layout.BlobHeader + r.End,
					Ratio:    plan.Ratio,
				})
			})
		}
		if err := g.Wait(); err != nil {
			return nil, workerError(StageMakePart, err)
		}
		done += len(batch)
		c.progress(ch, StageMakePart, done, plan.TotalJobs)
	}

	if err := c.worker.Merge(ctx, MergeRequest{
		DataFile:  dataFile,
		PartsDir:  partsDir,
		MergedDir: mergedDir,
		BWTDir:    bwtDir,
		Threads:   c.cfg.Parallelism,
		HackSize:  c.cfg.HackSize,
		Ratio:     plan.Ratio,
	}); err != nil {
		return nil, workerError(StageMerge, err)
	}
	_ = os.RemoveAll(partsDir)
	c.progress(ch, StageMerge, 1, 1)

	saPath := filepath.Join(c.cfg.SaveDir, ch.SAName())
	bwtPath := filepath.Join(c.cfg.SaveDir, ch.BWTName())
	if err := c.worker.Concat(ctx, ConcatRequest{
		DataFile:   dataFile,
		MergedDir:  mergedDir,
		MergedFile: saPath + ".tmp",
		BWTDir:     bwtDir,
		BWTFile:    bwtPath + ".tmp",
		Threads:    c.cfg.Parallelism,
		Ratio:      plan.Ratio,
	}); err != nil {
		_ = os.Remove(saPath + ".tmp")
		_ = os.Remove(bwtPath + ".tmp")
		return nil, workerError(StageConcat, err)
	}
	_ = os.RemoveAll(mergedDir)
	_ = os.RemoveAll(bwtDir)

	// BWT first: Built checks both, and a crash between the renames must
	// not leave a pair that looks complete.
	if err := os.Rename(bwtPath+".tmp", bwtPath); err != nil {
		return nil, fmerrors.IOError("publish bwt", err)
	}
	if err := os.Rename(saPath+".tmp", saPath); err != nil {
		return nil, fmerrors.IOError("publish suffix array", err)
	}
	c.progress(ch, StageConcat, 1, 1)

	result := &ChannelResult{Channel: ch, Plan: plan, Duration: time.Since(start)}
	slog.Info("construction complete",
		slog.String("channel", string(ch)),
		slog.Duration("duration", result.Duration))
	return result, nil
}

func (c *Coordinator) progress(ch codec.Channel, stage string, done, total int) {
	if c.cfg.Progress != nil {
		c.cfg.Progress(ch, stage, done, total)
	}
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// workerError makes sure a worker failure carries the construction code.
func workerError(stage string, err error) error {
	if fmerrors.GetCode(err) == fmerrors.ErrCodeConstructionWorker {
		return err
	}
	return fmerrors.ConstructionWorkerError(stage, err)
}
