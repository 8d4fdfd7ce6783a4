package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/sherine-k/simulated-city/pkg/event"
)

const (
	chartWidth  = 80
	chartHeight = 10
	labelWidth  = 28
)

// Generator renders the dashboard as ASCII text
type Generator struct {
	width  int
	height int
}

// NewGenerator creates a new chart generator
func NewGenerator() *Generator {
	return &Generator{
		width:  chartWidth,
		height: chartHeight,
	}
}

func (g *Generator) header(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", g.width))
	sb.WriteString("\n\n")
}

// GenerateFillChart draws one horizontal bar per container with the alert
// threshold marked on each bar.
func (g *Generator) GenerateFillChart(readings []Reading, threshold int) string {
	if len(readings) == 0 {
		return "No status events yet. Run the simulator to produce events."
	}

	var sb strings.Builder
	g.header(&sb, "Container Fill Levels")

	barWidth := g.width - labelWidth - 10
	mark := threshold * barWidth / 100

	for _, r := range readings {
		filled := r.FillPct * barWidth / 100

		bar := make([]rune, barWidth)
		for x := range bar {
			switch {
			case x < filled:
				bar[x] = '█'
			case x == mark:
				bar[x] = '|'
			default:
				bar[x] = ' '
			}
		}

		flag := " "
		if r.FillPct >= threshold {
			flag = "!"
		}
		sb.WriteString(fmt.Sprintf("%-*s [%s] %3d%% %s\n", labelWidth, truncate(r.Series, labelWidth), string(bar), r.FillPct, flag))
	}

	sb.WriteString("\n")
	sb.WriteString("Legend:\n")
	sb.WriteString("    █ - Filled\n")
	sb.WriteString(fmt.Sprintf("    | - Alert threshold (%d%%)\n", threshold))
	sb.WriteString("    ! - At or above threshold\n")
	sb.WriteString("\n")

	return sb.String()
}

// GenerateHistoryChart plots the fill of one series over simulated time.
// Between updates a series keeps its last value.
func (g *Generator) GenerateHistoryChart(key string, points []Point) string {
	if len(points) == 0 {
		return "No data to display"
	}

	var sb strings.Builder
	g.header(&sb, fmt.Sprintf("Fill History: %s", key))

	plotWidth := g.width - 6
	start := points[0].Timestamp
	total := points[len(points)-1].Timestamp.Sub(start)

	// Step-after sampling: each column shows the newest point at or before
	// its time.
	columns := make([]int, plotWidth)
	next := 0
	for x := range columns {
		at := start
		if total > 0 {
			at = start.Add(time.Duration(float64(total) * float64(x) / float64(plotWidth-1)))
		}
		for next < len(points)-1 && !points[next+1].Timestamp.After(at) {
			next++
		}
		columns[x] = points[next].FillPct
	}

	step := 100 / g.height
	for row := g.height; row >= 1; row-- {
		level := row * step
		sb.WriteString(fmt.Sprintf("%3d |", level))
		for _, fill := range columns {
			if fill >= level {
				sb.WriteString("█")
			} else {
				sb.WriteString(" ")
			}
		}
		sb.WriteString("\n")
	}

	// X-axis
	sb.WriteString("    +")
	sb.WriteString(strings.Repeat("-", plotWidth))
	sb.WriteString("\n")

	// X-axis labels: elapsed simulated time at the start, middle and end.
	labelLine := make([]rune, plotWidth)
	for i := range labelLine {
		labelLine[i] = ' '
	}
	place := func(position int, marker string) {
		if position+len(marker) > plotWidth {
			position = plotWidth - len(marker)
		}
		for i, ch := range marker {
			if position+i >= 0 && position+i < plotWidth {
				labelLine[position+i] = ch
			}
		}
	}
	place(0, "+0s")
	if total > 0 {
		place(plotWidth/2, "+"+FormatDuration(total/2))
		place(plotWidth, "+"+FormatDuration(total))
	}
	sb.WriteString("    ")
	sb.WriteString(string(labelLine))
	sb.WriteString("\n")

	return sb.String()
}

// GenerateEventSummary counts events by kind and distinct containers
func (g *Generator) GenerateEventSummary(events []event.StatusEvent) string {
	var sb strings.Builder
	g.header(&sb, "Event Summary")

	byKind := make(map[event.Kind]int)
	locations := make(map[string]struct{})
	containers := make(map[string]struct{})
	for _, ev := range events {
		byKind[ev.Kind]++
		locations[ev.LocationID] = struct{}{}
		containers[event.SeriesKey(ev.LocationID, ev.Container)] = struct{}{}
	}

	sb.WriteString(fmt.Sprintf("Total Events: %d\n", len(events)))
	sb.WriteString(fmt.Sprintf("  - Init: %d\n", byKind[event.KindInit]))
	sb.WriteString(fmt.Sprintf("  - Status: %d\n", byKind[event.KindStatus]))
	sb.WriteString(fmt.Sprintf("  - Locations: %d\n", len(locations)))
	sb.WriteString(fmt.Sprintf("  - Containers: %d\n", len(containers)))
	sb.WriteString("\n")

	return sb.String()
}

// GenerateAlerts lists containers at or above threshold
func (g *Generator) GenerateAlerts(alerts []Reading, threshold int) string {
	var sb strings.Builder
	g.header(&sb, "Alerts")

	if len(alerts) == 0 {
		sb.WriteString("All containers are below the alert threshold.\n")
		return sb.String()
	}

	parts := make([]string, 0, len(alerts))
	for _, a := range alerts {
		parts = append(parts, fmt.Sprintf("%s=%d%%", a.Series, a.FillPct))
	}
	sb.WriteString(fmt.Sprintf("ALERT: Containers at or above %d%%: %s\n", threshold, strings.Join(parts, ", ")))
	for _, a := range alerts {
		sb.WriteString(fmt.Sprintf("[%s] %s reached %d%%\n", a.Timestamp.Format("2006-01-02 15:04:05"), a.Series, a.FillPct))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Total Alerts: %d\n", len(alerts)))
	sb.WriteString("\n")

	return sb.String()
}

// GenerateDetailedTimeline lists the most recent events, newest last
func (g *Generator) GenerateDetailedTimeline(events []event.StatusEvent, limit int) string {
	var sb strings.Builder

	shown := events
	if limit > 0 && limit < len(events) {
		shown = events[len(events)-limit:]
	}

	title := "Detailed Timeline"
	if len(shown) < len(events) {
		title += fmt.Sprintf(" (showing last %d events)", len(shown))
	}
	g.header(&sb, title)

	if skipped := len(events) - len(shown); skipped > 0 {
		sb.WriteString(fmt.Sprintf("... %d earlier events\n\n", skipped))
	}

	for _, ev := range shown {
		icon := "S"
		if ev.Kind == event.KindInit {
			icon = "I"
		}
		step := fmt.Sprintf("t=%d", ev.TimestepIndex)
		sb.WriteString(fmt.Sprintf("[%s] %s %-8s %s %d%%\n",
			ev.Timestamp.Format("2006-01-02 15:04"),
			icon,
			step,
			event.SeriesKey(ev.LocationID, ev.Container),
			ev.FillPct))
	}

	sb.WriteString("\n")

	return sb.String()
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
