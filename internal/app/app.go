package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// --- Styles ---
var (
	titleStyle              = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle              = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle        = lipgloss.NewStyle().Padding(0, 1)
	fileProgressHeaderStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	fileStatusStyle         = map[string]lipgloss.Style{
		StatusProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		StatusComplete:   lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		StatusError:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// maxFailuresShown bounds the failure list under the table.
const maxFailuresShown = 5

type archiveRow struct {
	Status  string
	Records int
	Skipped int
	Rows    int
	Start   time.Time
	Elapsed time.Duration
	ErrMsg  string
}

// Model renders report-run progress. It is fed by ProgressMsg, ArchiveMsg and
// DoneMsg sent through tea.Program.Send and quits once DoneMsg arrives.
type Model struct {
	State           AppState
	title           string
	spinner         spinner.Model
	overallProgress progress.Model

	archives     map[string]*archiveRow
	archiveOrder []string
	failures     []string
	completed    int
	failed       int
	total        int
	records      int

	Done *DoneMsg
	// Interrupted is set when the user quit before the run finished.
	Interrupted bool
	onInterrupt func()

	termWidth  int
	termHeight int
}

// NewModel builds the view. onInterrupt, when non-nil, is called once if the
// user quits early; callers use it to cancel the run.
func NewModel(title string, onInterrupt func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &Model{
		State:           Running,
		title:           title,
		spinner:         s,
		overallProgress: progress.New(progress.WithDefaultGradient()),
		archives:        make(map[string]*archiveRow),
		onInterrupt:     onInterrupt,
		termWidth:       80,
		termHeight:      24,
	}
}

// --- Bubbletea Interface ---

func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if m.State == Running {
				m.Interrupted = true
				if m.onInterrupt != nil {
					m.onInterrupt()
					m.onInterrupt = nil
				}
			}
			m.State = Exiting
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.overallProgress.Width = max(0, m.termWidth-4)
	case ProgressMsg:
		m.completed = msg.Completed
		m.failed = msg.Failed
		m.total = msg.Total
		m.records = msg.Records
		var percent float64
		if msg.Total > 0 {
			percent = float64(msg.Completed) / float64(msg.Total)
		}
		cmds = append(cmds, m.overallProgress.SetPercent(percent))
	case ArchiveMsg:
		row, exists := m.archives[msg.Archive]
		if !exists {
			row = &archiveRow{Start: time.Now()}
			m.archives[msg.Archive] = row
			m.archiveOrder = append(m.archiveOrder, msg.Archive)
		}
		row.Status = msg.Status
		row.Records = msg.Records
		row.Skipped = msg.Skipped
		row.Rows = msg.Rows
		row.ErrMsg = msg.ErrMsg
		if msg.Elapsed > 0 {
			row.Elapsed = msg.Elapsed
		} else if msg.Status != StatusProcessing && row.Elapsed == 0 {
			row.Elapsed = time.Since(row.Start)
		}
		if msg.Status == StatusError {
			m.failures = append(m.failures, msg.ErrMsg)
		}
	case DoneMsg:
		m.Done = &msg
		m.State = Finished
		return m, tea.Quit
	case spinner.TickMsg:
		if m.State == Running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case progress.FrameMsg:
		progModel, frameCmd := m.overallProgress.Update(msg)
		if newModel, ok := progModel.(progress.Model); ok {
			m.overallProgress = newModel
			cmds = append(cmds, frameCmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("--- " + m.title + " ---"))
	b.WriteString("\n\n")

	switch m.State {
	case Running:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(infoStyle.Render("Report running... 'q' or Ctrl+C to stop."))
	case Finished:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(m.viewDone())
	case Exiting:
		b.WriteString(infoStyle.Render("Exiting..."))
	}
	b.WriteString("\n")
	return b.String()
}

// --- View Helpers ---

func (m *Model) viewProgress() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Archives: %d/%d  failed: %d  records: %d\n", m.spinner.View(), m.completed, m.total, m.failed, m.records)
	b.WriteString(progressBarStyle.Render(m.overallProgress.View()))
	b.WriteString("\n\n")

	maxLines := max(1, m.termHeight-12)
	startIdx := 0
	if len(m.archiveOrder) > maxLines {
		startIdx = len(m.archiveOrder) - maxLines
	}

	if len(m.archiveOrder) > 0 {
		b.WriteString(fileProgressHeaderStyle.Render(fmt.Sprintf("%-40s | %-10s | %8s | %5s | %s", "Archive", "Status", "Records", "Rows", "Elapsed")))
		b.WriteString("\n")
		b.WriteString(strings.Repeat("-", m.termWidth))
		b.WriteString("\n")
		for _, name := range m.archiveOrder[startIdx:] {
			row := m.archives[name]
			statusStyled, ok := fileStatusStyle[row.Status]
			if !ok {
				statusStyled = infoStyle
			}
			elapsedStr := ""
			if row.Elapsed > 0 {
				elapsedStr = row.Elapsed.Round(time.Millisecond).String()
			} else if row.Status == StatusProcessing {
				elapsedStr = time.Since(row.Start).Round(time.Second).String() + "..."
			}
			b.WriteString(fmt.Sprintf("%-40s | %-10s | %8d | %5d | %s", truncate(name, 40), statusStyled.Render(row.Status), row.Records, row.Rows, elapsedStr))
			b.WriteString("\n")
		}
	}

	if len(m.failures) > 0 {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Failures (%d):", len(m.failures))))
		b.WriteString("\n")
		shown := m.failures
		if len(shown) > maxFailuresShown {
			shown = shown[len(shown)-maxFailuresShown:]
		}
		for _, f := range shown {
			b.WriteString(errorStyle.Render("  -> " + truncate(f, max(10, m.termWidth-6))))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *Model) viewDone() string {
	if m.Done == nil {
		return ""
	}
	s := m.Done.Summary
	line := fmt.Sprintf("Finished in %s: %d processed, %d failed, %d records, %d skipped, %d bookplate rows.",
		s.Duration.Round(time.Millisecond), s.Processed, s.Failed, s.Records, s.Skipped, s.Rows)
	if m.Done.Err != nil {
		return errorStyle.Render(line)
	}
	return infoStyle.Render(line)
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}
