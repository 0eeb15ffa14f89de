package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/codec"
	"github.com/Aman-CERP/fmindex/pkg/version"
)

// versionReport adds the readable shard generations to the build info.
type versionReport struct {
	version.BuildInfo
	ShardFormats []string `json:"shard_formats"`
}

func shardFormats() []string {
	return []string{codec.GenerationLegacy.String(), codec.GenerationCurrent.String()}
}

func newVersionCmd() *cobra.Command {
	var asJSON, short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the release, git commit, build date and Go toolchain of this
binary, and the shard layouts it can read.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			switch {
			case short:
				_, err := fmt.Fprintln(w, version.Short())
				return err
			case asJSON:
				return writeJSON(w, versionReport{BuildInfo: version.GetInfo(), ShardFormats: shardFormats()})
			}
			_, err := fmt.Fprintf(w, "%s\nshard formats: %s\n", version.String(), strings.Join(shardFormats(), ", "))
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "Output only the version number")

	return cmd
}
