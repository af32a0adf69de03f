// Package tui renders the terminal dashboard: daily token chart, session
// list, and per-session trace detail.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/janekbaraniewski/sessionlens/internal/config"
	"github.com/janekbaraniewski/sessionlens/internal/core"
	"github.com/janekbaraniewski/sessionlens/internal/logsource"
	"github.com/janekbaraniewski/sessionlens/internal/telemetry"
)

const dashboardDays = 14

type dataMsg struct {
	sessions []core.SessionMeta
	daily    []core.DailyUsage
	total    core.TokenUsage
	err      error
}

type summaryMsg struct {
	summary core.SessionSummary
	err     error
}

type Model struct {
	sources  []logsource.Source
	location *time.Location

	sessions []core.SessionMeta
	daily    []core.DailyUsage
	total    core.TokenUsage

	selected *core.SessionSummary
	cursor   int
	width    int
	height   int
	loading  bool
	err      error
}

func NewModel(cfg config.Config, sources []logsource.Source) Model {
	return Model{
		sources:  sources,
		location: cfg.Location(),
		loading:  true,
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(cfg config.Config, sources []logsource.Source) error {
	program := tea.NewProgram(NewModel(cfg, sources), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.loadData()
}

func (m Model) loadData() tea.Cmd {
	sources := m.sources
	location := m.location
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var msg dataMsg
		sessions, _, err := logsource.DiscoverAll(ctx, sources, "")
		if err != nil {
			msg.err = err
			return msg
		}
		msg.sessions = sessions

		agg := &telemetry.Aggregator{Sources: sources, Location: location}
		daily, _, err := agg.DailyUsage(ctx, dashboardDays)
		if err != nil {
			msg.err = err
			return msg
		}
		msg.daily = daily
		for _, day := range daily {
			msg.total.Add(day.Usage)
		}
		return msg
	}
}

func (m Model) loadSummary(meta core.SessionMeta) tea.Cmd {
	sources := m.sources
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		found, adapter, ok, err := logsource.FindSession(ctx, sources, meta.ID)
		if err != nil || !ok {
			return summaryMsg{err: fmt.Errorf("session %s unavailable: %v", meta.ID, err)}
		}
		summary, err := telemetry.BuildSessionSummary(ctx, adapter, found)
		return summaryMsg{summary: summary, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case dataMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.sessions = msg.sessions
			m.daily = msg.daily
			m.total = msg.total
			if m.cursor >= len(m.sessions) {
				m.cursor = 0
			}
		}
		return m, nil

	case summaryMsg:
		if msg.err == nil {
			summary := msg.summary
			m.selected = &summary
		} else {
			m.err = msg.err
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading = true
			m.err = nil
			m.selected = nil
			return m, m.loadData()
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "j":
			if m.cursor < len(m.sessions)-1 {
				m.cursor++
			}
			return m, nil
		case "enter":
			if m.cursor < len(m.sessions) {
				return m, m.loadSummary(m.sessions[m.cursor])
			}
			return m, nil
		case "esc":
			m.selected = nil
			return m, nil
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("sessionlens"))
	b.WriteString(statusStyle.Render(fmt.Sprintf("  %d sessions · %s tokens / %dd", len(m.sessions), formatTokens(m.total.TotalTokens()), dashboardDays)))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n\n")
	}
	if m.loading {
		b.WriteString(statusStyle.Render("scanning transcripts..."))
		b.WriteString("\n")
		return b.String()
	}

	chartWidth := m.width - 4
	if chartWidth > 80 {
		chartWidth = 80
	}
	if chart := renderDailyChart(m.daily, chartWidth); chart != "" {
		b.WriteString(chart)
		b.WriteString("\n\n")
	}

	if m.selected != nil {
		b.WriteString(m.renderDetail(chartWidth))
	} else {
		b.WriteString(m.renderSessionList())
	}

	b.WriteString("\n")
	b.WriteString(statusStyle.Render("↑/↓ select · enter detail · esc back · r refresh · q quit"))
	return b.String()
}

func (m Model) renderSessionList() string {
	if len(m.sessions) == 0 {
		return statusStyle.Render("no sessions found")
	}

	visible := m.height - 16
	if visible < 5 {
		visible = 5
	}
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}

	var b strings.Builder
	for i := start; i < len(m.sessions) && i < start+visible; i++ {
		s := m.sessions[i]
		line := fmt.Sprintf("%-8s %-19s %s", s.Tool, s.CreatedAt.In(m.location).Format("2006-01-02 15:04:05"), truncate(s.WorkingDirectory, 48))
		if i == m.cursor {
			b.WriteString(selectedItemStyle.Render("> " + line))
		} else {
			b.WriteString(listItemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderDetail(width int) string {
	s := m.selected
	var b strings.Builder
	b.WriteString(titleStyle.Render("session " + s.ID))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("tool=%s duration=%s tokens=%s\n",
		s.Tool,
		(time.Duration(s.DurationMs) * time.Millisecond).Round(time.Second),
		formatTokens(s.TokenUsage.TotalTokens())))

	counts := make([]string, 0, len(core.EventKinds))
	for _, kind := range core.EventKinds {
		if n := s.EventCounts[kind]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s=%d", kind, n))
		}
	}
	b.WriteString(statusStyle.Render(strings.Join(counts, " ")))
	b.WriteString("\n\n")

	if bar := renderTraceBar(s.Trace, width); bar != "" {
		b.WriteString(legendStyle.Render("trace  ") +
			toolSpanStyle.Render("█ tool ") +
			waitingSpanStyle.Render("█ waiting ") +
			thinkSpanStyle.Render("█ think ") +
			genStyle.Render("█ gen"))
		b.WriteString("\n")
		b.WriteString(bar)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if lipgloss.Width(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return "…" + string(runes[len(runes)-n+1:])
}
