package cmd

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/logging"
	"github.com/Aman-CERP/fmindex/internal/ui"
)

type logsFlags struct {
	follow  bool
	lines   int
	level   string
	filter  string
	since   time.Duration
	noColor bool
	file    string
	source  string
}

// viewer validates the flags and resolves the files to read.
func (f *logsFlags) viewer(cmd *cobra.Command) (*logging.Viewer, []string, error) {
	var filter logging.Filter
	if f.level != "" {
		if !logging.ValidLevel(f.level) {
			return nil, nil, fmt.Errorf("invalid level %q (use: debug, info, warn, error)", f.level)
		}
		filter.MinLevel = f.level
	}
	if f.filter != "" {
		re, err := regexp.Compile(f.filter)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		filter.Pattern = re
	}
	if f.since > 0 {
		filter.Since = time.Now().Add(-f.since)
	}

	src, err := logging.ParseLogSource(f.source)
	if err != nil {
		return nil, nil, err
	}
	paths, err := logging.FindLogFiles(src, f.file)
	if err != nil {
		return nil, nil, err
	}
	v := logging.NewViewer(logging.ViewerConfig{
		Filter:     filter,
		NoColor:    f.noColor || ui.DetectNoColor(),
		ShowSource: len(paths) > 1,
	}, cmd.OutOrStdout())
	return v, paths, nil
}

func newLogsCmd() *cobra.Command {
	f := &logsFlags{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View server and build logs",
		Long: `Print the JSON logs of the query server and of shard builds as
readable lines, optionally filtered, and follow them as they grow.

Sources:
  server  ~/.fmindex/logs/server.log
  build   ~/.fmindex/logs/build.log
  all     both, merged by time`,
		Example: `  fmindex logs -f
  fmindex logs --source build -n 100
  fmindex logs --level error --since 1h --filter shard`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, paths, err := f.viewer(cmd)
			if err != nil {
				return err
			}
			entries, err := v.Tail(paths, f.lines)
			if err != nil {
				return err
			}
			v.Print(entries...)
			if !f.follow {
				return nil
			}

			ch := make(chan logging.Entry, 64)
			done := make(chan error, 1)
			go func() {
				defer close(ch)
				done <- v.Follow(cmd.Context(), paths, ch)
			}()
			for e := range ch {
				v.Print(e)
			}
			return <-done
		},
	}

	fl := cmd.Flags()
	fl.BoolVarP(&f.follow, "follow", "f", false, "Keep printing lines as they are written")
	fl.IntVarP(&f.lines, "lines", "n", 50, "Number of matching lines to show")
	fl.StringVar(&f.level, "level", "", "Minimum level (debug|info|warn|error)")
	fl.StringVar(&f.filter, "filter", "", "Only lines matching this regex")
	fl.DurationVar(&f.since, "since", 0, "Only lines newer than this, e.g. 30m")
	fl.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	fl.StringVar(&f.file, "file", "", "Read this file instead of --source")
	fl.StringVar(&f.source, "source", "server", "Log source: server, build, or all")

	return cmd
}
