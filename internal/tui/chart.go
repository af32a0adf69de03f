package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/janekbaraniewski/sessionlens/internal/core"
)

const (
	dailyChartHeight = 8
	dailyBarWidth    = 2
)

// renderDailyChart draws the per-day token series as a bar chart, prefill and
// generation stacked per bar.
func renderDailyChart(days []core.DailyUsage, width int) string {
	if len(days) == 0 {
		return ""
	}
	if width < 20 {
		width = 20
	}

	var maxVal float64
	for _, d := range days {
		if v := float64(d.Usage.TotalTokens()); v > maxVal {
			maxVal = v
		}
	}
	if maxVal == 0 {
		maxVal = 1
	}

	chart := barchart.New(width, dailyChartHeight,
		barchart.WithStyles(axisStyle, labelStyle),
	)
	chart.SetBarWidth(dailyBarWidth)
	chart.SetMax(maxVal)

	for _, d := range days {
		label := ""
		if len(d.Day) >= 10 {
			label = d.Day[8:10] // day of month
		}
		chart.Push(barchart.BarData{
			Label: label,
			Values: []barchart.BarValue{
				{Name: "prefill", Value: float64(d.Usage.PrefillTokens()), Style: prefillStyle},
				{Name: "gen", Value: float64(d.Usage.GenTokens()), Style: genStyle},
			},
		})
	}
	chart.Draw()

	legend := legendStyle.Render("tokens/day  ") +
		prefillStyle.Render("█ prefill  ") +
		genStyle.Render("█ gen")
	return legend + "\n" + chart.View()
}

// formatTokens renders a count as a compact human figure (1.2k, 3.4M).
func formatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// renderTraceBar draws the trace partition as one proportional line.
func renderTraceBar(spans []core.TraceSpan, width int) string {
	if len(spans) == 0 || width < 8 {
		return ""
	}
	var totalMs int64
	for _, sp := range spans {
		totalMs += sp.DurationMs
	}
	if totalMs == 0 {
		return ""
	}

	var b strings.Builder
	used := 0
	for i, sp := range spans {
		cells := int(float64(width) * float64(sp.DurationMs) / float64(totalMs))
		if cells < 1 {
			cells = 1
		}
		if i == len(spans)-1 {
			cells = width - used
			if cells < 1 {
				cells = 1
			}
		}
		used += cells
		b.WriteString(spanStyle(sp.Kind).Render(strings.Repeat("█", cells)))
		if used >= width {
			break
		}
	}
	return b.String()
}

func spanStyle(kind core.SpanKind) lipgloss.Style {
	switch kind {
	case core.SpanTool:
		return toolSpanStyle
	case core.SpanWaiting:
		return waitingSpanStyle
	case core.SpanGen:
		return genStyle
	default:
		return thinkSpanStyle
	}
}
