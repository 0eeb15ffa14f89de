package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/build"
	"github.com/Aman-CERP/fmindex/internal/output"
)

// errNoChecksums marks a shard built with --skip-checksums.
var errNoChecksums = errors.New("manifest has no checksums; rebuild without --skip-checksums")

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <shard-dir>...",
		Short: "Check shard artifacts against their manifest checksums",
		Long: `Verify rehashes every artifact recorded in each shard's manifest and
reports the ones whose contents changed. It exits non-zero when any shard
fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())

			results := make([]error, len(args))
			for i, dir := range args {
				results[i] = verifyShard(dir)
				out.Progress(i+1, len(args), dir)
			}

			failed := 0
			for i, err := range results {
				switch {
				case err == nil:
				case errors.Is(err, errNoChecksums):
					out.Warningf("%s: %v", args[i], err)
				default:
					out.Errorf("%s: %v", args[i], err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d shards failed verification", failed, len(args))
			}
			out.Successf("%d shard(s) verified", len(args))
			return nil
		},
	}
}

func verifyShard(dir string) error {
	manifest, err := build.ReadManifest(dir)
	if err != nil {
		return fmt.Errorf("no readable manifest: %w", err)
	}
	if len(manifest.Checksums) == 0 {
		return errNoChecksums
	}
	mismatched, err := manifest.Verify(dir)
	if err != nil {
		return err
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("checksum mismatch: %v", mismatched)
	}
	return nil
}
