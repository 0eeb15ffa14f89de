package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/build"
)

// newWorkerCmd exposes the native construction worker under the external
// worker command line, so build --worker exec --worker-binary self can run
// each step in a child process.
func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one suffix construction step",
		Hidden: true,
		Long: `Worker runs a single construction step and exits 0 on success.

Subcommands:
  make-part  Sort the suffixes starting in one byte range
  merge      Merge sorted parts into runs and BWT blocks
  concat     Join the runs into the final SA and BWT files`,
	}

	cmd.AddCommand(newWorkerMakePartCmd())
	cmd.AddCommand(newWorkerMergeCmd())
	cmd.AddCommand(newWorkerConcatCmd())

	return cmd
}

func newWorkerMakePartCmd() *cobra.Command {
	var req build.PartRequest

	cmd := &cobra.Command{
		Use:   "make-part",
		Short: "Sort the suffixes starting in [start-byte, end-byte)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return (&build.NativeWorker{}).MakePart(cmd.Context(), req)
		},
	}

	cmd.Flags().StringVar(&req.DataFile, "data-file", "", "Blob to sort")
	cmd.Flags().StringVar(&req.PartsDir, "parts-dir", "", "Output directory for part files")
	cmd.Flags().Int64Var(&req.Start, "start-byte", 0, "First file offset of the range")
	cmd.Flags().Int64Var(&req.End, "end-byte", 0, "File offset one past the range")
	cmd.Flags().IntVar(&req.Ratio, "ratio", 0, "Bytes per suffix array entry")
	markRequired(cmd, "data-file", "parts-dir", "start-byte", "end-byte", "ratio")

	return cmd
}

func newWorkerMergeCmd() *cobra.Command {
	var req build.MergeRequest

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge part files into sorted runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return (&build.NativeWorker{}).Merge(cmd.Context(), req)
		},
	}

	cmd.Flags().StringVar(&req.DataFile, "data-file", "", "Blob the parts index into")
	cmd.Flags().StringVar(&req.PartsDir, "parts-dir", "", "Directory of part files")
	cmd.Flags().StringVar(&req.MergedDir, "merged-dir", "", "Output directory for runs")
	cmd.Flags().StringVar(&req.BWTDir, "bwt-dir", "", "Output directory for BWT blocks")
	cmd.Flags().IntVar(&req.Threads, "num-threads", 1, "Number of runs to produce")
	cmd.Flags().IntVar(&req.HackSize, "hacksize", build.HackSize, "Comparison cap in bytes")
	cmd.Flags().IntVar(&req.Ratio, "ratio", 0, "Bytes per suffix array entry")
	markRequired(cmd, "data-file", "parts-dir", "merged-dir", "bwt-dir", "ratio")

	return cmd
}

func newWorkerConcatCmd() *cobra.Command {
	var req build.ConcatRequest

	cmd := &cobra.Command{
		Use:   "concat",
		Short: "Join runs into the final suffix array and BWT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return (&build.NativeWorker{}).Concat(cmd.Context(), req)
		},
	}

	cmd.Flags().StringVar(&req.DataFile, "data-file", "", "Blob the runs index into")
	cmd.Flags().StringVar(&req.MergedDir, "merged-dir", "", "Directory of runs")
	cmd.Flags().StringVar(&req.MergedFile, "merged-file", "", "Final suffix array path")
	cmd.Flags().StringVar(&req.BWTDir, "bwt-dir", "", "Directory of BWT blocks")
	cmd.Flags().StringVar(&req.BWTFile, "bwt-file", "", "Final BWT path")
	cmd.Flags().IntVar(&req.Threads, "num-threads", 1, "Concurrent copy workers")
	cmd.Flags().IntVar(&req.Ratio, "ratio", 0, "Bytes per suffix array entry")
	markRequired(cmd, "data-file", "merged-dir", "merged-file", "bwt-dir", "bwt-file", "ratio")

	return cmd
}

func markRequired(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		_ = cmd.MarkFlagRequired(name)
	}
}
