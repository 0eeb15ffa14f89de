package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

// ArtifactInfo describes one file of a shard.
type ArtifactInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// ChannelStatus describes one text channel of a shard.
type ChannelStatus struct {
	Name       string `json:"name"`
	TextLength uint64 `json:"text_length"`
	Ratio      int    `json:"ratio"`
}

// StatusInfo contains shard health information.
type StatusInfo struct {
	Name       string          `json:"name"`
	Dir        string          `json:"dir"`
	Generation string          `json:"generation"`
	Documents  int             `json:"documents"`
	BuiltAt    time.Time       `json:"built_at,omitzero"`
	Channels   []ChannelStatus `json:"channels"`
	Artifacts  []ArtifactInfo  `json:"artifacts"`
	TotalSize  int64           `json:"total_size"`
	// Verified is "ok", "mismatch" or "" when checksums were not checked.
	Verified string `json:"verified,omitempty"`
}

// StatusRenderer displays shard status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index: "+info.Name))

	_, _ = fmt.Fprintf(r.out, "  Directory:  %s\n", info.Dir)
	_, _ = fmt.Fprintf(r.out, "  Format:     %s\n", info.Generation)
	_, _ = fmt.Fprintf(r.out, "  Documents:  %d\n", info.Documents)
	if !info.BuiltAt.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Built:      %s\n", formatTime(info.BuiltAt))
	}
	if info.Verified != "" {
		_, _ = fmt.Fprintf(r.out, "  Checksums:  %s\n", r.renderVerified(info.Verified))
	}
	_, _ = fmt.Fprintln(r.out)

	if len(info.Channels) > 0 {
		tbl := tablewriter.NewWriter(r.out)
		tbl.SetHeader([]string{"Channel", "Text length", "SA width"})
		for _, ch := range info.Channels {
			tbl.Append([]string{ch.Name, strconv.FormatUint(ch.TextLength, 10), strconv.Itoa(ch.Ratio)})
		}
		tbl.Render()
		_, _ = fmt.Fprintln(r.out)
	}

	tbl := tablewriter.NewWriter(r.out)
	tbl.SetHeader([]string{"Artifact", "Size", "xxhash64"})
	tbl.SetFooter([]string{"Total", FormatBytes(info.TotalSize), ""})
	for _, a := range info.Artifacts {
		tbl.Append([]string{a.Name, FormatBytes(a.Size), a.Checksum})
	}
	tbl.Render()

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderVerified(status string) string {
	switch status {
	case "ok":
		return r.styles.Success.Render(status)
	case "mismatch":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// agoUnits drive formatTime's relative rendering; anything older than a
// week prints as a date.
var agoUnits = []struct {
	limit time.Duration
	unit  time.Duration
	name  string
}{
	{time.Hour, time.Minute, "minute"},
	{24 * time.Hour, time.Hour, "hour"},
	{7 * 24 * time.Hour, 24 * time.Hour, "day"},
}

func formatTime(t time.Time) string {
	diff := time.Since(t)
	if diff < time.Minute {
		return "just now"
	}
	for _, u := range agoUnits {
		if diff >= u.limit {
			continue
		}
		n := int(diff / u.unit)
		if n == 1 {
			return "1 " + u.name + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, u.name)
	}
	return t.Format("2006-01-02 15:04")
}

// FormatBytes renders n with a binary unit, one decimal above 1 KB.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}
