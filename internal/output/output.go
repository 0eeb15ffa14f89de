// Package output writes the human-facing lines of fmindex commands:
// status marks, key/value details, section headings, tables and an
// in-place progress bar.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

const (
	indent   = "   "
	barWidth = 30
)

// Writer is not safe for concurrent use.
type Writer struct {
	out    io.Writer
	color  bool
	styles map[string]lipgloss.Style
}

// New colors output only for a terminal with NO_COLOR unset.
func New(out io.Writer) *Writer {
	f, ok := out.(*os.File)
	color := ok && os.Getenv("NO_COLOR") == "" &&
		(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
	return NewWithColor(out, color)
}

func NewWithColor(out io.Writer, color bool) *Writer {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return &Writer{
		out:   out,
		color: color,
		styles: map[string]lipgloss.Style{
			"✓":       fg("2"),
			"!":       fg("3"),
			"✗":       fg("1").Bold(true),
			"key":     fg("8"),
			"section": lipgloss.NewStyle().Bold(true),
		},
	}
}

func (w *Writer) paint(style, text string) string {
	if !w.color {
		return text
	}
	return w.styles[style].Render(text)
}

func (w *Writer) line(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

// Status prints msg after icon, or indented under the previous line when
// icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		w.line("%s%s", indent, msg)
		return
	}
	w.line("%s %s", icon, msg)
}

func (w *Writer) mark(icon, msg string) { w.Status(w.paint(icon, icon), msg) }

func (w *Writer) Success(msg string) { w.mark("✓", msg) }
func (w *Writer) Warning(msg string) { w.mark("!", msg) }
func (w *Writer) Error(msg string)   { w.mark("✗", msg) }

func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }
func (w *Writer) Errorf(format string, args ...any)   { w.Error(fmt.Sprintf(format, args...)) }

// KeyValue prints an indented detail with the key padded to 14 columns.
func (w *Writer) KeyValue(key string, value any) {
	w.line("%s%s %v", indent, w.paint("key", fmt.Sprintf("%-14s", key+":")), value)
}

// Section prints a blank line and a heading.
func (w *Writer) Section(title string) {
	w.line("\n%s", w.paint("section", title))
}

// Table prints rows under header. Nothing is printed for no rows.
func (w *Writer) Table(header []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	tbl := tablewriter.NewWriter(w.out)
	tbl.SetHeader(header)
	tbl.AppendBulk(rows)
	tbl.Render()
}

// Progress redraws "[bar] pct msg" on the current line and ends the line
// once current reaches total.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	_, _ = fmt.Fprintf(w.out, "\r[%s] %3.0f%% %s", bar(current, total, barWidth), 100*float64(current)/float64(total), msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func bar(current, total, width int) string {
	filled := 0
	if total > 0 {
		filled = min(max(current*width/total, 0), width)
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
