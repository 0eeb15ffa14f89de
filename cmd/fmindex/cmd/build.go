package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/build"
	"github.com/Aman-CERP/fmindex/internal/config"
	"github.com/Aman-CERP/fmindex/internal/output"
	"github.com/Aman-CERP/fmindex/internal/profiling"
	"github.com/Aman-CERP/fmindex/internal/ui"
)

// selfWorker as worker_binary runs this executable's worker subcommand.
const selfWorker = "self"

type buildFlags struct {
	dataDir         string
	saveDir         string
	tempDir         string
	workers         int
	memGiB          float64
	batchSize       int
	hackSize        int
	worker          string
	workerBinary    string
	finalizer       string
	finalizerBinary string
	ulimit          uint64
	skipChecksums   bool
	skipPreflight   bool
	noTUI           bool
	noColor         bool
	quiet           bool
}

func newBuildCmd() *cobra.Command {
	var f buildFlags

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build one shard from a JSON-lines corpus",
		Long: `Build runs every stage for one shard: preflight checks, prepare,
suffix array and BWT construction for the data and meta channels,
finalize, and the manifest.

Each stage is skipped when its outputs already exist, so rerunning an
interrupted build resumes it. Flags override the build section of the
configuration.

Examples:
  fmindex build --data-dir corpus/ --save-dir shards/000
  fmindex build --worker exec --worker-binary self --mem-gib 16
  fmindex build --temp-dir /scratch --ulimit 65536`,
		Annotations: map[string]string{logAnnotation: logToBuild},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg.Build)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runBuild(cmd.Context(), cmd, cfg.Build, f.renderer(cmd, cfg.Build.SaveDir))
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.dataDir, "data-dir", "", "Directory of .jsonl, .json, .gz and .zst inputs")
	fs.StringVar(&f.saveDir, "save-dir", "", "Shard output directory")
	fs.StringVar(&f.tempDir, "temp-dir", "", "Scratch directory (default: save dir)")
	fs.IntVar(&f.workers, "workers", 0, "Parallelism for prepare and construction")
	fs.Float64Var(&f.memGiB, "mem-gib", 0, "Memory budget for construction, in GiB")
	fs.IntVar(&f.batchSize, "batch-size", 0, "Lines per prepare batch")
	fs.IntVar(&f.hackSize, "hack-size", 0, "Merge comparison cap in bytes")
	fs.StringVar(&f.worker, "worker", "", "Construction worker: native or exec")
	fs.StringVar(&f.workerBinary, "worker-binary", "", "Worker executable for --worker exec ('self' for this binary)")
	fs.StringVar(&f.finalizer, "finalizer", "", "Finalizer: native, exec or none")
	fs.StringVar(&f.finalizerBinary, "finalizer-binary", "", "Indexer executable for --finalizer exec")
	fs.Uint64Var(&f.ulimit, "ulimit", 0, "Raise the open file limit before building")
	fs.BoolVar(&f.skipChecksums, "skip-checksums", false, "Do not hash artifacts into the manifest")
	fs.BoolVar(&f.skipPreflight, "skip-preflight", false, "Skip disk, memory and file limit checks")
	fs.BoolVar(&f.noTUI, "no-tui", false, "Plain progress output")
	fs.BoolVar(&f.noColor, "no-color", false, "Disable colors")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "No progress output, only the final summary")

	return cmd
}

// apply copies every flag the user set onto b.
func (f *buildFlags) apply(cmd *cobra.Command, b *config.BuildConfig) {
	changed := cmd.Flags().Changed
	if changed("data-dir") {
		b.DataDir = f.dataDir
	}
	if changed("save-dir") {
		b.SaveDir = f.saveDir
	}
	if changed("temp-dir") {
		b.TempDir = f.tempDir
	}
	if changed("workers") {
		b.Workers = f.workers
	}
	if changed("mem-gib") {
		b.MemGiB = f.memGiB
	}
	if changed("batch-size") {
		b.BatchSize = f.batchSize
	}
	if changed("hack-size") {
		b.HackSize = f.hackSize
	}
	if changed("worker") {
		b.Worker = f.worker
	}
	if changed("worker-binary") {
		b.WorkerBinary = f.workerBinary
	}
	if changed("finalizer") {
		b.Finalizer = f.finalizer
	}
	if changed("finalizer-binary") {
		b.FinalizerBinary = f.finalizerBinary
	}
	if changed("ulimit") {
		b.Ulimit = f.ulimit
	}
	if changed("skip-checksums") {
		b.SkipChecksums = f.skipChecksums
	}
	if changed("skip-preflight") {
		b.SkipPreflight = f.skipPreflight
	}
}

// renderer picks the progress display for the build flags.
func (f *buildFlags) renderer(cmd *cobra.Command, saveDir string) ui.Renderer {
	if f.quiet {
		return ui.NopRenderer{}
	}
	return ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(f.noTUI),
		ui.WithNoColor(f.noColor || ui.DetectNoColor()),
		ui.WithIndexDir(saveDir)))
}

func runBuild(ctx context.Context, cmd *cobra.Command, b config.BuildConfig, renderer ui.Renderer) error {
	if b.DataDir == "" || b.SaveDir == "" {
		return fmt.Errorf("--data-dir and --save-dir are required")
	}

	worker, err := newWorker(b)
	if err != nil {
		return err
	}

	pipeline, err := build.NewPipeline(build.PipelineDependencies{
		Renderer:  renderer,
		Worker:    worker,
		Finalizer: newFinalizer(b),
	})
	if err != nil {
		return err
	}

	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start progress display: %w", err)
	}
	result, runErr := pipeline.Run(ctx, build.PipelineConfig{
		DataDir:       b.DataDir,
		SaveDir:       b.SaveDir,
		TempDir:       b.TempDir,
		Workers:       b.Workers,
		MemBytes:      b.MemBytes(),
		BatchSize:     b.BatchSize,
		HackSize:      b.HackSize,
		Ulimit:        b.Ulimit,
		SkipPreflight: b.SkipPreflight,
		Checksums:     !b.SkipChecksums,
	})
	if err := renderer.Stop(); err != nil {
		slog.Warn("renderer_stop_failed", slog.String("error", err.Error()))
	}
	if runErr != nil {
		return runErr
	}

	if mem, err := profiling.ReadMemory(); err == nil {
		slog.Info("build_memory",
			slog.String("peak_rss", ui.FormatBytes(int64(mem.PeakRSS))),
			slog.String("heap_in_use", ui.FormatBytes(int64(mem.HeapInUse))),
			slog.Int64("mem_budget", b.MemBytes()))
	}

	out := output.New(cmd.OutOrStdout())
	if result.Skipped {
		out.Successf("Shard %s is already built", b.SaveDir)
	} else {
		out.Successf("Built %s: %d documents in %s", b.SaveDir, result.Manifest.Documents, result.Duration.Round(1e6))
	}
	return nil
}

// newWorker returns the construction worker selected by b.
func newWorker(b config.BuildConfig) (build.ConstructionWorker, error) {
	if b.Worker != config.KindExec {
		return &build.NativeWorker{}, nil
	}
	if b.WorkerBinary != selfWorker {
		return &build.ExecWorker{Binary: b.WorkerBinary}, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	return &build.ExecWorker{Binary: self, ExtraArgs: []string{"worker"}}, nil
}

// newFinalizer returns the finalizer selected by b, or nil for the default.
func newFinalizer(b config.BuildConfig) build.Finalizer {
	switch b.Finalizer {
	case config.KindExec:
		return &build.ExecFinalizer{Binary: b.FinalizerBinary}
	case config.KindNone:
		return noFinalizer{}
	default:
		return nil
	}
}

type noFinalizer struct{}

func (noFinalizer) Finalize(context.Context, string) error { return nil }
