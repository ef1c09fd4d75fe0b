package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"replayq/internal/replay"
	"replayq/internal/report"
	"replayq/internal/tui/components"
	"replayq/internal/tui/styles"
)

type snapshotMsg replay.Snapshot

type doneMsg struct {
	rep report.Report
	err error
}

// Model is the live replay dashboard: a progress bar toward the run budget,
// throughput and lag sparklines, and the running status counts.
type Model struct {
	runner  *replay.Runner
	updates replay.SnapshotChan
	cancel  context.CancelFunc

	Progress progress.Model
	RpsLine  components.Sparkline
	LagLine  components.Sparkline

	snap     replay.Snapshot
	lastSent int64
	lastAt   time.Time

	rep  *report.Report
	err  error
	done bool

	Width  int
	Height int
}

func NewModel(r *replay.Runner, updates replay.SnapshotChan, cancel context.CancelFunc) Model {
	return Model{
		runner:   r,
		updates:  updates,
		cancel:   cancel,
		Progress: progress.New(progress.WithDefaultGradient()),
		RpsLine:  components.NewSparkline(40, "RPS", styles.Active),
		LagLine:  components.NewSparkline(40, "Seconds Behind", styles.Warn),
		lastAt:   time.Now(),
	}
}

// Run starts the replay under a bubbletea program and blocks until it
// finishes or the user quits, returning the final report so callers can
// export and persist it.
func Run(r *replay.Runner, updates replay.SnapshotChan) (report.Report, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewModel(r, updates, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		rep, err := r.Run(ctx)
		p.Send(doneMsg{rep, err})
	}()

	final, err := p.Run()
	if err != nil {
		return report.Report{}, err
	}
	if fm, ok := final.(Model); ok {
		if fm.err != nil {
			return report.Report{}, fm.err
		}
		if fm.rep != nil {
			return *fm.rep, nil
		}
	}
	return report.Report{}, nil
}

func (m Model) Init() tea.Cmd {
	return m.waitForSnapshot()
}

func (m Model) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(<-m.updates)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			if m.done {
				return m, tea.Quit
			}
			// Let the runner drain; doneMsg quits for us.
			return m, nil
		}
		return m, nil

	case snapshotMsg:
		snap := replay.Snapshot(msg)

		now := time.Now()
		dt := now.Sub(m.lastAt).Seconds()
		if dt < 0.01 {
			dt = 0.01
		}
		rps := float64(snap.Sent-m.lastSent) / dt

		m.RpsLine.Add(rps)
		m.LagLine.Add(snap.SecondsBehind)
		m.snap = snap
		m.lastSent = snap.Sent
		m.lastAt = now

		pct := 0.0
		if snap.Budget > 0 {
			pct = float64(snap.Elapsed) / float64(snap.Budget)
		}
		if pct > 1.0 {
			pct = 1.0
		}
		return m, tea.Batch(m.Progress.SetPercent(pct), m.waitForSnapshot())

	case doneMsg:
		m.done = true
		m.err = msg.err
		if msg.err == nil {
			m.rep = &msg.rep
		} else {
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := (msg.Width / 2) - 4
		if half < 10 {
			half = 10
		}
		m.RpsLine.Width = half
		m.LagLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.rep != nil {
		return m.summaryView()
	}
	return m.liveView()
}

func (m Model) liveView() string {
	s := strings.Builder{}

	s.WriteString(styles.Title.Render("REPLAYQ — " + m.snap.State.String()))
	s.WriteString("\n\n")

	col1 := fmt.Sprintf("SENT: %d\nOUT:  %d", m.snap.Sent, m.snap.Outstanding)
	col2 := fmt.Sprintf("LOOPS: %d\nCANC:  %d", m.snap.Loops, m.snap.Cancelled)

	lagStyle := styles.Active
	if m.snap.SecondsBehind > 1.0 {
		lagStyle = styles.Warn
	}
	if m.snap.SecondsBehind > 10.0 {
		lagStyle = styles.Error
	}
	col3 := fmt.Sprintf("BEHIND: %s\nAVG:    %.1f ms",
		lagStyle.Render(fmt.Sprintf("%.2fs", m.snap.SecondsBehind)),
		m.snap.Summary.AverageTimePerSuccessfulRequest,
	)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LagLine.View()),
	))
	s.WriteString("\n\n")

	if line := statusLine(m.snap.Summary.CompletionStatusCounts); line != "" {
		width := m.Width - 4
		if width < 20 {
			width = 20
		}
		s.WriteString(styles.Box.Width(width).Render(line))
		s.WriteString("\n\n")
	}

	s.WriteString(m.Progress.View())
	s.WriteString("\n\n")
	s.WriteString(styles.RenderKey("q", "stop and drain"))

	return s.String()
}

func (m Model) summaryView() string {
	run := m.rep.RunInformation
	acc := m.rep.AccumulatorInformation

	s := strings.Builder{}
	s.WriteString(styles.Title.Render("REPLAY COMPLETE"))
	s.WriteString("\n\n")

	left := fmt.Sprintf(
		"Run Time       %.2f min\nRequests Sent  %d\nAvg RPS        %.2f\nSource Loops   %d",
		run.RunTimeMinutes, run.NumSentRequests, run.AverageRequestsPerSecond, run.SourceLoops)
	right := fmt.Sprintf(
		"Outstanding    %d\nCancelled      %d\nSeconds Behind %.2f\nPercent Behind %.1f%%",
		run.NumOutstandingRequests, run.NumCancelledRequests, run.SecondsBehind, run.PercentageBehind*100)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(left),
		styles.Box.Render(right),
	))
	s.WriteString("\n\n")

	s.WriteString(styles.Box.Render(
		"Status Counts\n" + statusLine(acc.CompletionStatusCounts) +
			fmt.Sprintf("\n\nAvg / Successful Request: %.2f ms", acc.AverageTimePerSuccessfulRequest)))
	s.WriteString("\n\n")
	s.WriteString(styles.RenderKey("q", "quit"))

	return s.String()
}

func statusLine(counts map[string]int64) string {
	if len(counts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", styles.Subtle.Render(k), styles.Value.Render(fmt.Sprintf("%d", counts[k]))))
	}
	return strings.Join(parts, "   ")
}
