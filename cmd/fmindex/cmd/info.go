package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/build"
	"github.com/Aman-CERP/fmindex/internal/codec"
	"github.com/Aman-CERP/fmindex/internal/ui"
)

func newInfoCmd() *cobra.Command {
	var (
		jsonOutput bool
		verify     bool
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "info [shard-dir...]",
		Short: "Show shard layout and artifacts",
		Long: `Info describes each shard: generation, document count, channel
layout and artifact sizes. Without arguments it describes every shard of
every configured index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := infoTargets(args)
			if err != nil {
				return err
			}

			r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
			var infos []ui.StatusInfo
			for _, t := range targets {
				info, err := shardStatus(t.name, t.dir, verify)
				if err != nil {
					return fmt.Errorf("%s: %w", t.dir, err)
				}
				if jsonOutput {
					infos = append(infos, info)
					continue
				}
				if err := r.Render(info); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&verify, "verify", false, "Check artifact checksums against the manifest")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colors")

	return cmd
}

type shardTarget struct {
	name string
	dir  string
}

func infoTargets(args []string) ([]shardTarget, error) {
	if len(args) > 0 {
		targets := make([]shardTarget, len(args))
		for i, dir := range args {
			targets[i] = shardTarget{name: filepath.Base(filepath.Clean(dir)), dir: dir}
		}
		return targets, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	var targets []shardTarget
	for _, idx := range cfg.Indexes {
		for i, s := range idx.Shards {
			targets = append(targets, shardTarget{name: fmt.Sprintf("%s/%d", idx.Name, i), dir: s.Dir})
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no shard directories given and no indexes configured")
	}
	return targets, nil
}

// shardStatus describes the shard in dir. Shards without a manifest are
// inspected directly.
func shardStatus(name, dir string, verify bool) (ui.StatusInfo, error) {
	info := ui.StatusInfo{Name: name, Dir: dir}

	manifest, err := build.ReadManifest(dir)
	if err == nil {
		info.BuiltAt = manifest.CreatedAt
	} else if manifest, err = build.NewManifest(dir, false); err != nil {
		return info, err
	}

	info.Generation = manifest.Generation
	info.Documents = manifest.Documents
	for _, ch := range codec.Channels {
		c := manifest.Channels[string(ch)]
		info.Channels = append(info.Channels, ui.ChannelStatus{Name: string(ch), TextLength: c.TextLength, Ratio: c.Ratio})
	}

	for _, artifact := range shardFiles() {
		st, err := os.Stat(filepath.Join(dir, artifact))
		if err != nil {
			continue
		}
		info.Artifacts = append(info.Artifacts, ui.ArtifactInfo{
			Name:     artifact,
			Size:     st.Size(),
			Checksum: manifest.Checksums[artifact],
		})
		info.TotalSize += st.Size()
	}

	if verify && len(manifest.Checksums) > 0 {
		mismatched, err := manifest.Verify(dir)
		if err != nil {
			return info, err
		}
		info.Verified = "ok"
		if len(mismatched) > 0 {
			info.Verified = "mismatch"
		}
	}
	return info, nil
}

// shardFiles lists every file a finished shard may hold, sorted.
func shardFiles() []string {
	names := codec.CoreArtifacts()
	for _, ch := range codec.Channels {
		names = append(names, ch.SAName(), ch.BWTName(), ch.OccName())
	}
	names = append(names, codec.ManifestName)
	sort.Strings(names)
	return names
}
