package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/telltale/internal/events"
)

// renderEventStream wraps the scrollable event viewport in its pane.
func renderEventStream(view string, empty bool, theme Theme, width int) string {
	innerWidth := width - 4

	if empty {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		view,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

// formatEventLog renders the newest-first log into viewport content.
func formatEventLog(eventLog []events.Event, theme Theme) string {
	lines := make([]string, 0, len(eventLog))
	for _, e := range eventLog {
		lines = append(lines, formatEvent(e, theme))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	// Color the event type based on what it means for a request.
	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeResultsDelivered:
		typeStyle = theme.StatusOK
	case events.TypeBatchRejected, events.TypeRequestsTimedOut, events.TypeBackendRejected:
		typeStyle = theme.StatusFailed
	case events.TypeBatchAdmitted:
		typeStyle = theme.StatusActive
	case events.TypeDaemonStarted, events.TypeDaemonStopping:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))

	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if client, ok := data["client"].(string); ok && client != "" {
		if len(client) > 8 {
			client = client[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", client))
	}

	if kind, ok := data["kind"].(string); ok && kind != "" {
		parts = append(parts, kind)
	}

	// JSON numbers decode as float64.
	if count, ok := data["count"].(float64); ok && count > 0 {
		parts = append(parts, fmt.Sprintf("×%d", int(count)))
	}

	if ms, ok := data["elapsed_ms"].(float64); ok && ms > 0 {
		parts = append(parts, fmt.Sprintf("%.1fms", ms))
	}

	if timedOut, ok := data["timed_out"].(bool); ok && timedOut {
		parts = append(parts, "TRY_AGAIN")
	}

	if reason, ok := data["reason"].(string); ok && reason != "" {
		if len(reason) > 48 {
			reason = reason[:48] + "..."
		}
		parts = append(parts, reason)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
