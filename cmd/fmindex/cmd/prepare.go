package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/docstore"
	"github.com/Aman-CERP/fmindex/internal/output"
)

func newPrepareCmd() *cobra.Command {
	var (
		dataDir   string
		saveDir   string
		tempDir   string
		workers   int
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Convert a corpus into blob and offset files",
		Long: `Prepare reads every input under --data-dir in sorted path order and
writes data.blob, data.offset, meta.blob and meta.offset into --save-dir.

It is the first stage of build and is skipped when its outputs exist.`,
		Annotations: map[string]string{logAnnotation: logToBuild},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dataDir == "" || saveDir == "" {
				return fmt.Errorf("--data-dir and --save-dir are required")
			}
			out := output.New(cmd.OutOrStdout())
			stats, err := docstore.NewBuilder(docstore.Config{
				DataDir:   dataDir,
				SaveDir:   saveDir,
				TempDir:   tempDir,
				Workers:   workers,
				BatchSize: batchSize,
				OnFile: func(done, total int, relPath string) {
					out.Progress(done, total, relPath)
				},
			}).Prepare(cmd.Context())
			if err != nil {
				return err
			}

			if stats.Skipped {
				out.Successf("%s is already prepared", saveDir)
				return nil
			}
			out.Successf("Prepared %d documents from %d files", stats.Documents, stats.Files)
			out.KeyValue("Strategy", stats.Strategy)
			out.KeyValue("Data bytes", stats.DataBytes)
			out.KeyValue("Meta bytes", stats.MetaBytes)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory of corpus inputs")
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "Shard output directory")
	cmd.Flags().StringVar(&tempDir, "temp-dir", "", "Scratch directory (default: save dir)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parse concurrency (default: CPU count)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Lines per parse batch")

	return cmd
}
