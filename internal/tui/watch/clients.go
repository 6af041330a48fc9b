package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/telltale/internal/events"
)

// ClientState tracks one dispatch client discovered from the event stream.
type ClientState struct {
	ID        string
	Kind      string // get | set
	Admitted  int    // requests admitted
	Delivered int    // results delivered
	TimedOut  int    // requests resolved as TRY_AGAIN
	Rejected  int    // batches rejected after admission (backend refusals)
	LastSeen  time.Time
}

// updateClientState folds one hub event into the per-client table. Events
// without a client id (synchronous rejections before admission) are skipped.
func updateClientState(clients map[string]*ClientState, e events.Event) {
	switch e.Type {
	case events.TypeBatchAdmitted, events.TypeResultsDelivered,
		events.TypeRequestsTimedOut, events.TypeBackendRejected:
	default:
		return
	}

	var data struct {
		Client string `json:"client"`
		Kind   string `json:"kind"`
		Count  int    `json:"count"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.Client == "" {
		return
	}

	c, ok := clients[data.Client]
	if !ok {
		c = &ClientState{ID: data.Client, Kind: data.Kind}
		clients[data.Client] = c
	}
	if data.Kind != "" {
		c.Kind = data.Kind
	}
	c.LastSeen = time.Now()

	switch e.Type {
	case events.TypeBatchAdmitted:
		c.Admitted += data.Count
	case events.TypeResultsDelivered:
		c.Delivered += data.Count
	case events.TypeRequestsTimedOut:
		c.TimedOut += data.Count
	case events.TypeBackendRejected:
		c.Rejected++
	}
}

// sortedClientIDs returns client ids, most recently active first.
func sortedClientIDs(clients map[string]*ClientState) []string {
	ids := make([]string, 0, len(clients))
	for id := range clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := clients[ids[i]], clients[ids[j]]
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.ID < b.ID
	})
	return ids
}

func renderClients(clients map[string]*ClientState, theme Theme, width int) string {
	innerWidth := width - 4

	if len(clients) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("CLIENTS"),
			theme.Dim.Render("  No client activity yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	ids := sortedClientIDs(clients)
	var lines []string
	for i, id := range ids {
		if i >= 8 {
			lines = append(lines, theme.Dim.Render(fmt.Sprintf("  ... and %d more", len(ids)-i)))
			break
		}
		lines = append(lines, renderClientRow(clients[id], theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("CLIENTS")}, lines...)...,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderClientRow(c *ClientState, theme Theme) string {
	id := c.ID
	if len(id) > 8 {
		id = id[:8]
	}

	inFlight := c.Admitted - c.Delivered
	if inFlight < 0 {
		inFlight = 0
	}
	var activity string
	if inFlight > 0 {
		activity = theme.StatusActive.Render(fmt.Sprintf("[%d in flight]", inFlight))
	} else {
		activity = theme.Dim.Render("[idle]")
	}

	counters := fmt.Sprintf("%d admitted  %d delivered", c.Admitted, c.Delivered)
	if c.TimedOut > 0 {
		counters += "  " + theme.StatusFailed.Render(fmt.Sprintf("%d timed out", c.TimedOut))
	}
	if c.Rejected > 0 {
		counters += "  " + theme.StatusFailed.Render(fmt.Sprintf("%d refused", c.Rejected))
	}

	seen := ""
	if !c.LastSeen.IsZero() {
		seen = theme.Dim.Render(formatAgo(time.Since(c.LastSeen).Round(time.Second)))
	}

	return fmt.Sprintf(" %s %-4s %s  %s  %s",
		theme.Highlight.Render(id), c.Kind, activity, counters, seen)
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
