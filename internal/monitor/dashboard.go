// Package monitor implements the terminal dashboard behind "iosm watch" and the
// iosmd API client it polls.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	iosmhttp "github.com/rokoss21/IOSM/internal/http"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	fetchTimeout    = 5 * time.Second
)

// Model is the BubbleTea dashboard for one system.
type Model struct {
	client     *Client
	systemID   string
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	notice     string
	quitting   bool

	indexProgress     progress.Model
	dimensionProgress progress.Model
}

// Snapshot is one poll of the iosmd API.
type Snapshot struct {
	// Known is false while iosmd has neither a live run nor history for the system.
	Known   bool
	Status  iosmhttp.StatusResponse
	Entries orchestrator.History
}

// CurrentIndex prefers the live index of a running cycle over the last recorded one.
func (s Snapshot) CurrentIndex() (float64, bool) {
	if s.Status.Live != nil && s.Status.Live.Index != nil {
		return *s.Status.Live.Index, true
	}
	if last, ok := s.Entries.Last(); ok {
		return last.Index, true
	}
	if s.Status.LastRun != nil {
		return s.Status.LastRun.LastIndex, true
	}
	return 0, false
}

// Indices returns the trailing index series of the displayed run.
func (s Snapshot) Indices() []float64 {
	indices := s.Entries.Indices()
	if len(indices) > historySize {
		indices = indices[len(indices)-historySize:]
	}
	return indices
}

// Lipgloss styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling client for systemID every interval.
func NewModel(client *Client, systemID string, interval time.Duration) Model {
	return Model{
		client:   client,
		systemID: systemID,
		interval: interval,
		indexProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
		dimensionProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(20),
			progress.WithoutPercentage(),
		),
	}
}

// statusBadge summarizes the system state.
func statusBadge(s Snapshot) string {
	switch {
	case !s.Known:
		return dimStyle.Render("○ UNKNOWN")
	case s.Status.Running:
		return warningStyle.Render("● RUNNING")
	case s.Status.Live != nil && s.Status.Live.Event == orchestrator.EventRunFailed:
		return errorStyle.Render("✗ FAILED")
	case s.Status.LastRun != nil && s.Status.LastRun.Stopped():
		return healthyStyle.Render("✓ STOPPED")
	default:
		return dimStyle.Render("○ IDLE")
	}
}

// indexBadge colors an index against the usual stop threshold band.
func indexBadge(index float64) string {
	switch {
	case index >= 0.9:
		return healthyStyle.Render("[✓]")
	case index >= 0.7:
		return warningStyle.Render("[⚠]")
	default:
		return errorStyle.Render("[✗]")
	}
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type triggeredMsg iosmhttp.RunResponse
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.client, m.systemID),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot polls status and the latest run's history.
func fetchSnapshot(client *Client, systemID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		status, err := client.Status(ctx, systemID)
		if errors.Is(err, ErrUnknownSystem) {
			return snapshotMsg(Snapshot{Status: iosmhttp.StatusResponse{SystemID: systemID}})
		}
		if err != nil {
			return errMsg(err)
		}

		hist, err := client.History(ctx, systemID)
		if err != nil {
			return errMsg(err)
		}

		return snapshotMsg(Snapshot{Known: true, Status: status, Entries: hist.Entries})
	}
}

// triggerRun asks iosmd to start a run for the system.
func triggerRun(client *Client, systemID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		resp, err := client.Trigger(ctx, systemID, false)
		if err != nil {
			return errMsg(err)
		}
		return triggeredMsg(resp)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.client, m.systemID)
		case "t":
			if m.snapshot.Status.Running {
				m.notice = "a run is already in progress"
				return m, nil
			}
			return m, triggerRun(m.client, m.systemID)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.client, m.systemID),
		)

	case snapshotMsg:
		m.snapshot = Snapshot(msg)
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case triggeredMsg:
		m.notice = "started run " + msg.RunID
		return m, fetchSnapshot(m.client, m.systemID)

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.err != nil {
		return m.renderError()
	}

	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render("IOSM Monitor")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach iosmd") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.client.baseURL) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the daemon with: iosmd -c iosm.yaml") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

// renderDashboard renders index, live cycle, dimension and run sections.
func (m Model) renderDashboard() string {
	var b strings.Builder
	s := m.snapshot

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" IOSM Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s   %s   %s\n",
		statusBadge(s),
		dimStyle.Render("System:"),
		valueStyle.Render(m.systemID),
		dimStyle.Render(lastUpdateStr)))

	// Index
	b.WriteString("\n" + sectionStyle.Render("┃ IOSM-Index") + "\n")
	if index, ok := s.CurrentIndex(); ok {
		indices := s.Indices()
		delta := ""
		if n := len(indices); n >= 2 {
			delta = "  " + dimStyle.Render(FormatDelta(indices[n-1]-indices[n-2]))
		}
		b.WriteString(labelStyle.Render("  Index: ") +
			valueStyle.Render(FormatIndex(index)) + " " + indexBadge(index) + delta +
			"   " + createSparkline(indices) + "\n")
		b.WriteString(labelStyle.Render("  Progress: ") + m.indexProgress.ViewAs(index) + "\n")
	} else {
		b.WriteString(dimStyle.Render("  no cycles scored yet") + "\n")
	}

	// Live cycle
	if live := s.Status.Live; live != nil {
		b.WriteString("\n" + sectionStyle.Render("┃ Live") + "\n")
		b.WriteString(labelStyle.Render("  Run: ") + valueStyle.Render(live.RunID) + "\n")
		b.WriteString(labelStyle.Render("  Cycle: ") + valueStyle.Render(fmt.Sprintf("%d", live.Cycle)))
		if live.Phase != "" {
			b.WriteString(labelStyle.Render("  Phase: ") + valueStyle.Render(string(live.Phase)))
		}
		if live.Attempt > 0 {
			b.WriteString(labelStyle.Render("  Attempt: ") + valueStyle.Render(fmt.Sprintf("%d", live.Attempt)))
		}
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("  Event: ") + valueStyle.Render(string(live.Event)) +
			"  " + dimStyle.Render(FormatDuration(time.Since(live.UpdatedAt))+" ago") + "\n")
		if live.Error != "" {
			b.WriteString(labelStyle.Render("  Error: ") + errorStyle.Render(live.Error) + "\n")
		}
	}

	// Dimensions of the last scored cycle
	if last, ok := s.Entries.Last(); ok {
		b.WriteString("\n" + sectionStyle.Render(fmt.Sprintf("┃ Dimensions (cycle %d)", last.Cycle)) + "\n")
		for _, d := range orchestrator.AllDimensions() {
			v := last.Metrics[d]
			b.WriteString(labelStyle.Render(fmt.Sprintf("  %-12s", d)) +
				m.dimensionProgress.ViewAs(v) + " " + dimStyle.Render(FormatPercentage(v)) + "\n")
		}
		if len(last.Goals) > 0 {
			b.WriteString(labelStyle.Render("  Goals: ") + valueStyle.Render(strings.Join(last.Goals, ", ")) + "\n")
		}
	}

	// Last run
	if run := s.Status.LastRun; run != nil {
		b.WriteString("\n" + sectionStyle.Render("┃ Last Run") + "\n")
		b.WriteString(labelStyle.Render("  Run: ") + valueStyle.Render(run.RunID) +
			labelStyle.Render("  Cycles: ") + valueStyle.Render(fmt.Sprintf("%d", run.Cycles)) + "\n")
		b.WriteString(labelStyle.Render("  Decision: ") + valueStyle.Render(FormatDecision(run.Decision, run.Reason)) +
			"  " + dimStyle.Render(FormatDuration(run.FinishedAt.Sub(run.StartedAt))) + "\n")
	}

	if m.notice != "" {
		b.WriteString("\n" + dimStyle.Render(m.notice) + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerKeyStyle.Render("[t]") + footerStyle.Render(" trigger run  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}
