package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// PlainRenderer prints one line per event, for CI logs and pipes.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

func (r *PlainRenderer) Start(context.Context) error { return nil }
func (r *PlainRenderer) Stop() error                 { return nil }

func (r *PlainRenderer) println(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.out, line+"\n")
}

// UpdateProgress prints "[TAG channel] current/total - detail". Events with
// neither counts nor a detail are dropped.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	detail := event.Message
	if detail == "" {
		detail = event.Item
	}
	tag := event.Stage.Icon()
	if event.Channel != "" {
		tag += " " + event.Channel
	}

	switch {
	case event.Total > 0:
		r.println(fmt.Sprintf("[%s] %d/%d - %s", tag, event.Current, event.Total, detail))
	case detail != "":
		r.println(fmt.Sprintf("[%s] %s", tag, detail))
	}
}

func (r *PlainRenderer) AddError(event ErrorEvent) {
	level := "ERROR"
	if event.IsWarn {
		level = "WARN"
	}
	if event.Item == "" {
		r.println(fmt.Sprintf("%s: %v", level, event.Err))
		return
	}
	r.println(fmt.Sprintf("%s: %s: %v", level, event.Item, event.Err))
}

func (r *PlainRenderer) Complete(stats CompletionStats) {
	tenth := func(d time.Duration) time.Duration { return d.Round(100 * time.Millisecond) }

	if stats.Skipped {
		r.println(fmt.Sprintf("Complete: index already built (%s)", tenth(stats.Duration)))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Complete: %d documents from %d files (%s text, %s metadata) in %s",
		stats.Documents, stats.Files, FormatBytes(stats.DataBytes), FormatBytes(stats.MetaBytes), tenth(stats.Duration))
	if stats.Errors+stats.Warnings > 0 {
		fmt.Fprintf(&b, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	b.WriteByte('\n')

	if st := stats.Stages; st.Prepare > 0 || st.Construct > 0 {
		b.WriteString("\nStage Breakdown:\n")
		fmt.Fprintf(&b, "  Preflight: %s\n", st.Preflight.Round(time.Millisecond))
		fmt.Fprintf(&b, "  Prepare:   %s (blobs + offsets)\n", tenth(st.Prepare))
		if bytes := stats.DataBytes + stats.MetaBytes; st.Construct > 0 && bytes > 0 {
			fmt.Fprintf(&b, "  Construct: %s (SA + BWT @ %.1f MB/sec)\n",
				tenth(st.Construct), float64(bytes)/(1<<20)/st.Construct.Seconds())
		}
		fmt.Fprintf(&b, "  Finalize:  %s (occ tables + manifest)\n", tenth(st.Finalize))
	}
	if stats.Generation != "" {
		fmt.Fprintf(&b, "\nFormat: %s\n", stats.Generation)
	}
	r.println(strings.TrimSuffix(b.String(), "\n"))
}

var _ Renderer = (*PlainRenderer)(nil)
