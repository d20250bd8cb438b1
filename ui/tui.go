package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/franksops/rftp/engine"
)

// UIState represents the aggregated state for the TUI
type UIState struct {
	Target         string
	Stats          engine.StatsSnapshot
	Workers        []engine.WorkerState
	ThroughputBPms float64 // bytes per millisecond
	Done           bool
}

// CollectState reads the run counters and worker states.
func CollectState(target string, stats *engine.Stats, pool *engine.WorkerPool, started time.Time) *UIState {
	snap := stats.Snapshot()
	state := &UIState{
		Target:  target,
		Stats:   snap,
		Workers: pool.States(),
	}
	if ms := time.Since(started).Milliseconds(); ms > 0 {
		state.ThroughputBPms = float64(snap.BytesUploaded) / float64(ms)
	}
	return state
}

// ActiveWorkers counts workers executing a job.
func (s *UIState) ActiveWorkers() int {
	n := 0
	for _, w := range s.Workers {
		if w == engine.WorkerExecuting {
			n++
		}
	}
	return n
}

// TUIModel implements the tea.Model interface
type TUIModel struct {
	state    *UIState
	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model

	width  int
	height int

	// Styles
	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	workerStyle  lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
}

// TUIUpdateMsg is sent periodically to update the UI state
type TUIUpdateMsg struct {
	State *UIState
}

func NewTUIModel(initialState *UIState) TUIModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	prog := progress.New(progress.WithDefaultGradient())

	return TUIModel{
		state:        initialState,
		spinner:      s,
		progress:     prog,
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		workerStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

func (m TUIModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 14

		headerHeight := 6
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, max(msg.Height-headerHeight-footerHeight, 1))

	case TUIUpdateMsg:
		m.state = msg.State
		if m.state.Done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder
	st := m.state.Stats

	// Header
	header := fmt.Sprintf("%s rftp %s", m.spinner.View(), m.titleStyle.Render("-> "+m.state.Target))
	sb.WriteString(header + "\n")

	// Global Progress
	var percent float64
	if st.BytesQueued > 0 {
		percent = float64(st.BytesUploaded) / float64(st.BytesQueued)
	}
	if st.FilesQueued > 0 && st.FilesDone() == st.FilesQueued {
		percent = 1
	}

	opsInfo := fmt.Sprintf("ETA: %s | Workers: %d/%d | %s / %s | %s",
		formatETA(percent, m.state.ThroughputBPms, st.BytesQueued, st.BytesUploaded),
		m.state.ActiveWorkers(), len(m.state.Workers),
		formatBytes(st.BytesUploaded), formatBytes(st.BytesQueued),
		formatSpeed(m.state.ThroughputBPms*1000))
	sb.WriteString(m.infoStyle.Render(opsInfo) + "\n")

	counts := fmt.Sprintf("dirs %d | uploaded %d | skipped %d | queued %d",
		st.DirsEnsured, st.FilesUploaded, st.FilesSkipped, st.FilesQueued)
	if st.JobsFailed > 0 {
		counts += " | " + m.errorStyle.Render(fmt.Sprintf("failed %d", st.JobsFailed))
	}
	sb.WriteString(counts + "\n")
	sb.WriteString(m.progress.ViewAs(percent) + "\n\n")

	// Workers
	sb.WriteString("Workers:\n")
	var workers strings.Builder
	for i, w := range m.state.Workers {
		line := fmt.Sprintf("#%-3d %s", i, w)
		if w == engine.WorkerExecuting {
			line = m.workerStyle.Render(line)
		} else {
			line = m.infoStyle.Render(line)
		}
		workers.WriteString(line + "\n")
	}
	m.viewport.SetContent(workers.String())
	sb.WriteString(m.viewport.View())

	// Footer
	help := m.helpStyle.Render("q/ctrl+c: quit")
	if m.state.Done {
		help = m.successStyle.Render("Sync Complete!") + " Press 'q' to exit."
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec >= 1024*1024*1024 {
		return fmt.Sprintf("%.2f GB/s", bytesPerSec/(1024*1024*1024))
	} else if bytesPerSec >= 1024*1024 {
		return fmt.Sprintf("%.2f MB/s", bytesPerSec/(1024*1024))
	} else if bytesPerSec >= 1024 {
		return fmt.Sprintf("%.2f KB/s", bytesPerSec/1024)
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}

func formatETA(progress float64, bytesPerMs float64, totalBytes, completedBytes int64) string {
	if progress == 0 || bytesPerMs <= 0 || totalBytes == 0 {
		return "Calculating..."
	}

	remainingBytes := totalBytes - completedBytes
	if remainingBytes <= 0 || progress >= 1 {
		return "0s"
	}

	remainingMs := float64(remainingBytes) / bytesPerMs
	d := time.Duration(remainingMs) * time.Millisecond

	if d.Hours() > 24 {
		return "> 1d"
	}

	return d.Round(time.Second).String()
}
