package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Aman-CERP/fmindex/internal/codec"
	"github.com/Aman-CERP/fmindex/internal/docstore"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
	"github.com/Aman-CERP/fmindex/internal/preflight"
	"github.com/Aman-CERP/fmindex/internal/ui"
)

// diskFactor estimates peak disk use as a multiple of the raw corpus size:
// blobs, parts of up to 5-byte entries with overlap, merged runs, final SA
// and BWT.
const diskFactor = 10

// PipelineConfig configures a full shard build.
type PipelineConfig struct {
	// DataDir holds the JSONL corpus.
	DataDir string
	// SaveDir receives every shard artifact.
	SaveDir string
	// TempDir holds prepare, parts, merged and bwt scratch. Defaults to SaveDir.
	TempDir string

	// Workers bounds prepare concurrency and construction parallelism.
	Workers   int
	MemBytes  int64
	BatchSize int
	HackSize  int

	// Ulimit raises RLIMIT_NOFILE before building when positive.
	Ulimit uint64
	// SkipPreflight disables host checks.
	SkipPreflight bool
	// Checksums hashes every artifact into the manifest.
	Checksums bool
}

// PipelineDependencies contains the injected collaborators of a Pipeline.
type PipelineDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Worker performs suffix sorting (required).
	Worker ConstructionWorker

	// Finalizer runs after both channels are built. Defaults to NativeFinalizer.
	Finalizer Finalizer

	// Checker runs host checks. Defaults to preflight.New with the
	// configured ulimit.
	Checker *preflight.Checker
}

// PipelineResult contains the outcome of a shard build.
type PipelineResult struct {
	Prepare  *docstore.Stats
	Channels []*ChannelResult
	Manifest *Manifest
	Duration time.Duration
	// Skipped is set when every stage found its outputs present.
	Skipped bool
}

// Pipeline builds one shard end to end: preflight, lock, prepare, data and
// meta construction, finalize, manifest.
type Pipeline struct {
	renderer  ui.Renderer
	worker    ConstructionWorker
	finalizer Finalizer
	checker   *preflight.Checker
}

// NewPipeline creates a Pipeline with injected dependencies.
func NewPipeline(deps PipelineDependencies) (*Pipeline, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Worker == nil {
		return nil, fmt.Errorf("construction worker is required")
	}
	finalizer := deps.Finalizer
	if finalizer == nil {
		finalizer = &NativeFinalizer{}
	}
	return &Pipeline{
		renderer:  deps.Renderer,
		worker:    deps.Worker,
		finalizer: finalizer,
		checker:   deps.Checker,
	}, nil
}

// Run executes the pipeline. Each stage is skipped when its outputs exist,
// so a failed build resumes from the first incomplete stage.
func (p *Pipeline) Run(ctx context.Context, cfg PipelineConfig) (*PipelineResult, error) {
	start := time.Now()
	if cfg.SaveDir == "" {
		return nil, fmerrors.ConfigError("save dir is required", nil)
	}
	if cfg.TempDir == "" {
		cfg.TempDir = cfg.SaveDir
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	for _, dir := range []string{cfg.SaveDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmerrors.IOError("create directory", err).WithDetail("path", dir)
		}
	}

	var timings ui.StageTimings

	// Stage 1: preflight
	stageStart := time.Now()
	p.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StagePreflight, Message: "checking host"})
	if !cfg.SkipPreflight {
		if err := p.preflight(ctx, cfg); err != nil {
			p.renderer.AddError(ui.ErrorEvent{Err: err})
			return nil, err
		}
	}
	timings.Preflight = time.Since(stageStart)

	lock := NewShardLock(cfg.SaveDir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()

	result := &PipelineResult{}

	// Stage 2: prepare
	stageStart = time.Now()
	stats, err := docstore.NewBuilder(docstore.Config{
		DataDir:   cfg.DataDir,
		SaveDir:   cfg.SaveDir,
		TempDir:   cfg.TempDir,
		Workers:   cfg.Workers,
		BatchSize: cfg.BatchSize,
		OnFile: func(done, total int, relPath string) {
			p.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:   ui.StagePrepare,
				Current: done,
				Total:   total,
				Item:    relPath,
			})
		},
	}).Prepare(ctx)
	if err != nil {
		p.renderer.AddError(ui.ErrorEvent{Item: cfg.DataDir, Err: err})
		return nil, err
	}
	result.Prepare = stats
	timings.Prepare = time.Since(stageStart)

	// Stage 3: construction, data then meta
	stageStart = time.Now()
	coord, err := NewCoordinator(CoordinatorConfig{
		SaveDir:     cfg.SaveDir,
		TempDir:     cfg.TempDir,
		MemBytes:    cfg.MemBytes,
		Parallelism: cfg.Workers,
		HackSize:    cfg.HackSize,
		Progress: func(ch codec.Channel, stage string, done, total int) {
			p.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:   uiStage(stage),
				Channel: string(ch),
				Current: done,
				Total:   total,
			})
		},
	}, p.worker)
	if err != nil {
		return nil, err
	}
	allSkipped := stats.Skipped
	for _, ch := range codec.Channels {
		chResult, err := coord.Build(ctx, ch)
		if err != nil {
			p.renderer.AddError(ui.ErrorEvent{Item: string(ch), Err: err})
			return nil, err
		}
		allSkipped = allSkipped && chResult.Skipped
		result.Channels = append(result.Channels, chResult)
	}
	timings.Construct = time.Since(stageStart)

	// Stage 4: finalize and manifest
	stageStart = time.Now()
	p.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageFinalize, Message: "writing occurrence tables"})
	if err := p.finalizer.Finalize(ctx, cfg.SaveDir); err != nil {
		p.renderer.AddError(ui.ErrorEvent{Item: cfg.SaveDir, Err: err})
		return nil, err
	}

	manifest, err := ReadManifest(cfg.SaveDir)
	if err != nil || !allSkipped {
		if manifest, err = NewManifest(cfg.SaveDir, cfg.Checksums); err != nil {
			return nil, err
		}
		if err := manifest.Write(cfg.SaveDir); err != nil {
			return nil, fmerrors.IOError("write manifest", err)
		}
		allSkipped = false
	}
	result.Manifest = manifest
	timings.Finalize = time.Since(stageStart)

	result.Skipped = allSkipped
	result.Duration = time.Since(start)

	completion := ui.CompletionStats{
		Files:      stats.Files,
		Documents:  int64(manifest.Documents),
		DataBytes:  int64(manifest.Channels[string(codec.ChannelData)].TextLength),
		MetaBytes:  int64(manifest.Channels[string(codec.ChannelMeta)].TextLength),
		Generation: manifest.Generation,
		Duration:   result.Duration,
		Skipped:    result.Skipped,
		Stages:     timings,
	}
	p.renderer.Complete(completion)

	slog.Info("build_complete",
		slog.String("save_dir", cfg.SaveDir),
		slog.Int("documents", manifest.Documents),
		slog.Bool("skipped", result.Skipped),
		slog.Int64("duration_total_ms", result.Duration.Milliseconds()),
		slog.Int64("duration_prepare_ms", timings.Prepare.Milliseconds()),
		slog.Int64("duration_construct_ms", timings.Construct.Milliseconds()),
		slog.Int64("duration_finalize_ms", timings.Finalize.Milliseconds()))

	return result, nil
}

func (p *Pipeline) preflight(ctx context.Context, cfg PipelineConfig) error {
	checker := p.checker
	if checker == nil {
		checker = preflight.New(preflight.WithUlimit(cfg.Ulimit))
	}
	report, err := checker.Run(ctx, preflight.Requirements{
		SaveDir:   cfg.SaveDir,
		TempDir:   cfg.TempDir,
		DiskBytes: estimateDisk(cfg),
		MemBytes:  uint64(max(cfg.MemBytes, 0)),
	})
	if err != nil {
		return err
	}
	for _, w := range report.Warnings() {
		slog.Warn("preflight_warning", slog.String("check", w.Check), slog.String("message", w.Message))
		p.renderer.AddError(ui.ErrorEvent{Item: w.Check, Err: errors.New(w.Message), IsWarn: true})
	}
	return report.Err()
}

// estimateDisk sizes the build from the raw corpus. Compressed inputs are
// underestimated; the preflight floor still applies.
func estimateDisk(cfg PipelineConfig) uint64 {
	if docstore.Exists(cfg.SaveDir) {
		var total uint64
		for _, name := range codec.CoreArtifacts() {
			if info, err := os.Stat(filepath.Join(cfg.SaveDir, name)); err == nil {
				total += uint64(info.Size())
			}
		}
		return total * diskFactor
	}
	inputs, err := docstore.ListInputs(cfg.DataDir)
	if err != nil {
		return 0
	}
	var total uint64
	for _, in := range inputs {
		if info, err := os.Stat(in.Path); err == nil {
			total += uint64(info.Size())
		}
	}
	return total * diskFactor
}

func uiStage(stage string) ui.Stage {
	switch stage {
	case StageMakePart:
		return ui.StageMakePart
	case StageMerge:
		return ui.StageMerge
	default:
		return ui.StageConcat
	}
}
