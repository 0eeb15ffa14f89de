package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// errNotTerminal is returned by NewTUIRenderer for non-terminal output.
var errNotTerminal = errors.New("output is not a TTY")

// quitWait bounds how long Stop waits for the bubbletea program to exit.
const quitWait = 2 * time.Second

// TUIRenderer draws build progress in the alternate screen. Events are
// folded into a ProgressTracker and the bubbletea program redraws from it
// on every tick.
type TUIRenderer struct {
	cfg     Config
	tracker *ProgressTracker
	model   *buildModel

	mu      sync.Mutex
	program *tea.Program
	cancel  context.CancelFunc
	exited  chan struct{}
}

func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errNotTerminal
	}
	tracker := NewProgressTracker()
	model := newBuildModel(tracker, cfg.IndexDir)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{cfg: cfg, tracker: tracker, model: model}, nil
}

func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.exited = make(chan struct{})

	go func(p *tea.Program, exited chan struct{}) {
		defer close(exited)
		_, _ = p.Run()
	}(r.program, r.exited)
	return nil
}

// send forwards msg to the running program, if any.
func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	if s := r.tracker.Stats(); s.Stage != event.Stage || s.Channel != event.Channel {
		r.tracker.SetStage(event.Stage, event.Channel, event.Total)
	}
	r.tracker.Update(event.Current, event.Item)
}

func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
}

func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.SetStage(StageComplete, "", 0)
	r.send(completeMsg(stats))
}

func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p, cancel, exited := r.program, r.cancel, r.exited
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-exited:
	case <-time.After(quitWait):
	}
	return nil
}

type completeMsg CompletionStats
type tickMsg time.Time

// buildModel renders a ProgressTracker. It owns no build state of its own
// besides the final CompletionStats.
type buildModel struct {
	tracker  *ProgressTracker
	indexDir string
	styles   Styles
	spinner  spinner.Model
	bar      progress.Model
	width    int
	quitting bool
	done     *CompletionStats
}

func newBuildModel(tracker *ProgressTracker, indexDir string) *buildModel {
	spin := spinner.New(spinner.WithSpinner(spinner.Dot))
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))
	return &buildModel{
		tracker:  tracker,
		indexDir: indexDir,
		styles:   DefaultStyles(),
		spinner:  spin,
		bar:      progress.New(progress.WithSolidFill(ColorLime), progress.WithWidth(50), progress.WithoutPercentage()),
		width:    80,
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *buildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if k := msg.String(); k == "q" || k == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case completeMsg:
		stats := CompletionStats(msg)
		m.done = &stats
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *buildModel) View() string {
	switch {
	case m.quitting:
		return "Cancelled.\n"
	case m.done != nil:
		return m.summaryView(*m.done)
	}

	inner := max(m.width-4, 40)
	stats := m.tracker.Stats()

	body := []string{m.stageStrip(stats.Stage)}
	if hist := m.historyLines(); len(hist) > 0 {
		body = append(body, m.rule(inner))
		body = append(body, hist...)
	}
	body = append(body, m.rule(inner), m.currentLine(stats), m.rateLine(stats))
	if stats.Item != "" {
		body = append(body, m.styles.Dim.Render(truncatePath(stats.Item, inner-2)))
	}

	title := "FM-Index Builder"
	if m.indexDir != "" {
		title += " • " + m.indexDir
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(inner)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		box.Render(strings.Join(body, "\n")),
	) + "\n" + m.footer(stats)
}

// stripLabels are the short names shown in the stage strip.
var stripLabels = map[Stage]string{
	StagePreflight: "Check",
	StagePrepare:   "Prepare",
	StageMakePart:  "Sort",
	StageMerge:     "Merge",
	StageConcat:    "Concat",
	StageFinalize:  "Finalize",
}

func (m *buildModel) stageStrip(current Stage) string {
	parts := make([]string, 0, len(stripLabels))
	for s := StagePreflight; s < StageComplete; s++ {
		label := stripLabels[s]
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+label))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+label))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+label))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

// historyLines lists finished phases that did measurable work.
func (m *buildModel) historyLines() []string {
	var lines []string
	for _, rec := range m.tracker.History() {
		if rec.Units == 0 && rec.Duration < time.Second {
			continue
		}
		line := fmt.Sprintf("✓ %-18s %s", rec.Phase.String(), formatDuration(rec.Duration))
		if rec.Units > 0 {
			line += fmt.Sprintf("  (%d)", rec.Units)
		}
		lines = append(lines, m.styles.Label.Render(line))
	}
	return lines
}

func (m *buildModel) currentLine(stats ProgressStats) string {
	label := Phase{Stage: stats.Stage, Channel: stats.Channel}.String()
	if stats.Total == 0 {
		return m.spinner.View() + " " + label + "..."
	}
	return fmt.Sprintf("%s  %s\n%s",
		m.bar.ViewAs(stats.Progress),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100)),
		m.styles.Label.Render(fmt.Sprintf("%s: %d / %d", label, stats.Current, stats.Total)))
}

func (m *buildModel) rateLine(stats ProgressStats) string {
	parts := []string{m.styles.Speed.Render(fmt.Sprintf("Rate: %.1f/s (peak %.1f)", stats.Speed.Avg, stats.Speed.Peak))}
	if stats.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(stats.ETA)))
	}
	parts = append(parts, m.styles.Label.Render("Elapsed: "+formatDuration(m.tracker.Elapsed())))
	return strings.Join(parts, m.styles.Dim.Render("  •  "))
}

func (m *buildModel) rule(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

func (m *buildModel) footer(stats ProgressStats) string {
	var parts []string
	if n := stats.WarnCount; n > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", n)))
	}
	if n := stats.ErrorCount; n > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", n)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *buildModel) summaryView(s CompletionStats) string {
	var b strings.Builder
	b.WriteString(m.styles.Success.Render("✓ Build Complete"))
	b.WriteString("\n\n")
	field := func(name, value string) {
		fmt.Fprintf(&b, "%-11s %s\n", m.styles.Label.Render(name+":"), m.styles.Active.Render(value))
	}

	if s.Skipped {
		field("Status", "already built")
	} else {
		field("Documents", fmt.Sprint(s.Documents))
		field("Files", fmt.Sprint(s.Files))
		field("Text", FormatBytes(s.DataBytes))
		field("Metadata", FormatBytes(s.MetaBytes))
	}
	if s.Generation != "" {
		field("Format", s.Generation)
	}
	field("Duration", formatDuration(s.Duration))

	if s.Errors > 0 {
		b.WriteString("\n" + m.styles.Error.Render(fmt.Sprintf("✗ %d errors", s.Errors)))
	}
	if s.Warnings > 0 {
		b.WriteString("\n" + m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", s.Warnings)))
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(1, 2).
		Width(max(m.width-4, 40))
	return box.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

// formatDuration renders d as "12s", "2m 5s" or "1h 30m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, mnt, sec := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, mnt)
	case mnt > 0 && sec == 0:
		return fmt.Sprintf("%dm", mnt)
	case mnt > 0:
		return fmt.Sprintf("%dm %ds", mnt, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

// truncatePath keeps the tail of path within maxLen bytes.
func truncatePath(path string, maxLen int) string {
	switch {
	case len(path) <= maxLen:
		return path
	case maxLen <= 3:
		return "..."
	default:
		return "..." + path[len(path)-maxLen+3:]
	}
}

var _ Renderer = (*TUIRenderer)(nil)
