package viewer

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/geosegment/internal/notify"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/session"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	nameWidth       = 22
)

// healthBadge renders the backend status indicator.
func healthBadge(h segment.HealthState) string {
	switch h {
	case segment.HealthHealthy:
		return healthyStyle.Render("✓ ONLINE")
	case segment.HealthUnhealthy:
		return errorStyle.Render("✗ OFFLINE")
	}
	return warningStyle.Render("? UNKNOWN")
}

func noticeBadge(l notify.Level) string {
	switch l {
	case notify.LevelSuccess:
		return healthyStyle.Render("[✓]")
	case notify.LevelError:
		return errorStyle.Render("[✗]")
	}
	return warningStyle.Render("[i]")
}

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

// View renders the viewer
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	lastCheck := "never"
	if !m.lastCheck.IsZero() {
		lastCheck = m.lastCheck.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" geosegment ") + "\n")
	fmt.Fprintf(&b, "%s   %s %s   %s\n",
		healthBadge(m.snap.Health),
		dimStyle.Render("backend:"),
		valueStyle.Render(m.sess.Backend().Name()),
		dimStyle.Render("checked "+lastCheck))

	b.WriteString(m.renderUpload())
	if m.snap.State == session.ResultsReady && m.snap.Result != nil {
		b.WriteString(m.renderResult(m.snap.Result))
	}
	if len(m.latencies) > 0 {
		b.WriteString("\n" + sectionStyle.Render("┃ Latency") + "\n")
		last := m.latencies[len(m.latencies)-1] / 1000
		b.WriteString(labelStyle.Render("  Last: ") + valueStyle.Render(FormatLatency(last)) +
			"   " + createSparkline(m.latencies) + "\n")
	}
	b.WriteString(m.renderNotices())
	b.WriteString("\n" + m.renderFooter())

	return containerStyle.Render(b.String())
}

func (m Model) renderUpload() string {
	var b strings.Builder
	b.WriteString("\n" + sectionStyle.Render("┃ Upload") + "\n")

	if f := m.snap.File; f != nil {
		b.WriteString(labelStyle.Render("  File: ") + valueStyle.Render(f.Name) + "\n")
		b.WriteString(labelStyle.Render("  Size: ") + valueStyle.Render(upload.FormatSize(f.Size)) +
			"  " + dimStyle.Render(f.ContentType) + "\n")
	} else {
		b.WriteString(dimStyle.Render("  "+m.sess.Filter().Policy.Prompt()) + "\n")
	}
	if m.input.Focused() {
		b.WriteString("  " + m.input.View() + "\n")
	}

	state := valueStyle.Render(m.snap.State.String())
	if m.snap.State == session.Processing {
		state = m.spinner.View() + " " + state
	}
	b.WriteString(labelStyle.Render("  State: ") + state + "\n")

	if m.snap.LastErr != nil {
		b.WriteString(errorStyle.Render("  "+session.MsgFailure) + "\n")
		b.WriteString(dimStyle.Render("  "+m.snap.LastErr.Error()) + "\n")
	}
	if m.snap.Health == segment.HealthUnhealthy {
		b.WriteString(errorStyle.Render("  backend offline, processing disabled") + "\n")
	}
	return b.String()
}

func (m Model) renderResult(res *segment.Result) string {
	var b strings.Builder

	if acc := res.Metrics; acc != nil {
		b.WriteString("\n" + sectionStyle.Render("┃ Accuracy") + "\n")
		b.WriteString(m.metricRow("Accuracy", &acc.Accuracy))
		b.WriteString(m.metricRow("F1 score", acc.F1Score))
		b.WriteString(m.metricRow("IoU", acc.IoU))
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Classes") + "\n")
	if len(res.Stats) == 0 {
		b.WriteString(dimStyle.Render("  no class statistics") + "\n")
	}
	// rows follow the backend's order and names; the catalog only colors them
	for _, e := range m.catalog.Legend(res.LegendRows()) {
		swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(e.Color)).Render("■")
		name := fmt.Sprintf("%-*s", nameWidth, e.Name)
		share := e.Label()
		if e.Pixels > 0 {
			share += fmt.Sprintf(" (%d px)", e.Pixels)
		}
		b.WriteString("  " + swatch + " " + labelStyle.Render(name) +
			m.bar.ViewAs(clamp(e.Percent/100)) + " " + dimStyle.Render(share) + "\n")
	}
	return b.String()
}

func (m Model) metricRow(label string, v *float64) string {
	name := labelStyle.Render(fmt.Sprintf("  %-10s", label+":"))
	if v == nil {
		return name + dimStyle.Render(FormatMetric(nil)) + "\n"
	}
	return name + m.bar.ViewAs(clamp(*v)) + " " + valueStyle.Render(FormatMetric(v)) + "\n"
}

func (m Model) renderNotices() string {
	if len(m.recent) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n" + sectionStyle.Render("┃ Notifications") + "\n")
	for _, n := range m.recent {
		line := "  " + noticeBadge(n.Level) + " " + valueStyle.Render(n.Message)
		if n.Detail != "" {
			line += " " + dimStyle.Render(n.Detail)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

type keyHint struct {
	key  string
	desc string
}

var (
	browseHints = []keyHint{
		{"[o]", "open"}, {"[p]", "process"}, {"[c]", "clear"}, {"[r]", "recheck"}, {"[q]", "quit"},
	}
	inputHints = []keyHint{{"[enter]", "select"}, {"[esc]", "cancel"}}
)

func (m Model) renderFooter() string {
	hints := browseHints
	if m.input.Focused() {
		hints = inputHints
	}
	parts := make([]string, 0, len(hints))
	for _, h := range hints {
		parts = append(parts, footerKeyStyle.Render(h.key)+" "+dimStyle.Render(h.desc))
	}
	return footerStyle.Render(strings.Join(parts, "  "))
}
