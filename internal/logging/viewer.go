package logging

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Entry is one log line. Lines that are not JSON keep only Raw and Source.
type Entry struct {
	Time    time.Time
	Level   string
	Msg     string
	Source  string
	Attrs   map[string]any
	Raw     string
	IsValid bool
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	MinLevel string
	// Pattern is matched against the raw line.
	Pattern *regexp.Regexp
	// Since drops valid entries logged before it.
	Since time.Time
}

// Match reports whether e passes every set condition.
func (f Filter) Match(e Entry) bool {
	switch {
	case f.MinLevel != "" && LevelFromString(e.Level) < LevelFromString(f.MinLevel):
		return false
	case f.Pattern != nil && !f.Pattern.MatchString(e.Raw):
		return false
	case !f.Since.IsZero() && e.IsValid && e.Time.Before(f.Since):
		return false
	}
	return true
}

type ViewerConfig struct {
	Filter
	NoColor bool
	// ShowSource prefixes each line with its source, for merged output.
	ShowSource bool
}

// Viewer reads, filters and prints JSON log files.
type Viewer struct {
	cfg    ViewerConfig
	out    io.Writer
	styles map[string]lipgloss.Style
}

var viewerColors = map[string]string{
	"debug":  "8",
	"info":   "2",
	"warn":   "3",
	"error":  "1",
	"server": "6",
	"build":  "5",
}

func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	v := &Viewer{cfg: cfg, out: out, styles: map[string]lipgloss.Style{}}
	if !cfg.NoColor {
		for key, c := range viewerColors {
			v.styles[key] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
	return v
}

const (
	maxLineSize  = 1 << 20
	pollInterval = 100 * time.Millisecond
)

// Tail returns the last n matching entries across paths, oldest first.
// Entries from several files are merged by time. A missing file is an
// error only when it is the sole path.
func (v *Viewer) Tail(paths []string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	var merged []Entry
	for _, path := range paths {
		entries, err := v.tailFile(path, n)
		if err != nil && len(paths) == 1 {
			return nil, err
		}
		merged = append(merged, entries...)
	}
	slices.SortStableFunc(merged, func(a, b Entry) int { return a.Time.Compare(b.Time) })
	return merged[max(0, len(merged)-n):], nil
}

// tailFile keeps the last n matching entries of one file in a ring.
func (v *Viewer) tailFile(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	source := sourceFromPath(path)
	ring := make([]Entry, n)
	seen := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		if e := parseLine(sc.Text(), source); v.cfg.Match(e) {
			ring[seen%n] = e
			seen++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	if seen <= n {
		return ring[:seen], nil
	}
	start := seen % n
	return append(ring[start:], ring[:start]...), nil
}

// Follow sends matching lines appended to paths after the call until ctx
// is done.
func (v *Viewer) Follow(ctx context.Context, paths []string, entries chan<- Entry) error {
	files := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open %s: %w", p, err)
		}
		files = append(files, f)
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek %s: %w", p, err)
		}
	}

	var wg sync.WaitGroup
	for i, f := range files {
		source := sourceFromPath(paths[i])
		wg.Go(func() { v.poll(ctx, bufio.NewReader(f), source, entries) })
	}
	wg.Wait()
	return nil
}

func (v *Viewer) poll(ctx context.Context, r *bufio.Reader, source string, entries chan<- Entry) {
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	var pending strings.Builder
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		for {
			chunk, err := r.ReadString('\n')
			pending.WriteString(chunk)
			if err != nil {
				// Partial line; finish it on a later tick.
				break
			}
			line := strings.TrimSuffix(pending.String(), "\n")
			pending.Reset()
			e := parseLine(line, source)
			if line == "" || !v.cfg.Match(e) {
				continue
			}
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
	}
}

// FormatEntry renders "15:04:05.000 LEVEL [source] msg k=v ..." with
// attributes in key order. Invalid entries render as their raw line.
func (v *Viewer) FormatEntry(e Entry) string {
	if !e.IsValid {
		return e.Raw
	}
	parts := []string{
		e.Time.Format("15:04:05.000"),
		v.paint(strings.ToLower(e.Level), fmt.Sprintf("%-5.5s", strings.ToUpper(e.Level))),
	}
	if v.cfg.ShowSource && e.Source != "" {
		parts = append(parts, v.paint(e.Source, "["+e.Source+"]"))
	}
	parts = append(parts, e.Msg)
	for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Attrs[k]))
	}
	return strings.Join(parts, " ")
}

func (v *Viewer) paint(key, text string) string {
	if s, ok := v.styles[key]; ok {
		return s.Render(text)
	}
	return text
}

func (v *Viewer) Print(entries ...Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, v.FormatEntry(e))
	}
}

// parseLine reads the time, level and msg keys of a JSON record; every
// other key becomes an attribute. A "component" attribute overrides the
// file-derived source.
func parseLine(line, source string) Entry {
	e := Entry{Raw: line, Source: source}
	var rec map[string]any
	if json.Unmarshal([]byte(line), &rec) != nil {
		return e
	}
	e.IsValid = true

	if ts, ok := rec["time"].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
	}
	e.Level, _ = rec["level"].(string)
	e.Msg, _ = rec["msg"].(string)
	e.Source = cmp.Or(stringAttr(rec, "component"), source)

	delete(rec, "time")
	delete(rec, "level")
	delete(rec, "msg")
	delete(rec, "component")
	e.Attrs = rec
	return e
}

func stringAttr(rec map[string]any, key string) string {
	s, _ := rec[key].(string)
	return s
}
