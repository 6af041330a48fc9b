package watch

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// StatsState is the last /v1/stats answer.
type StatsState struct {
	AdmittedGets     uint64
	AdmittedSets     uint64
	RejectedBatches  uint64
	DeliveredResults uint64
	TimedOutRequests uint64

	AdmittedPerSec  float64
	DeliveredPerSec float64
	TimedOutPerSec  float64
	AvgDeliveryMS   float64
	AvgBatchSize    float64

	RequestTimeoutMS int64
	Seen             bool
}

func (s *StatsState) apply(msg statsMsg) {
	s.AdmittedGets = msg.Dispatch.AdmittedGets
	s.AdmittedSets = msg.Dispatch.AdmittedSets
	s.RejectedBatches = msg.Dispatch.RejectedBatches
	s.DeliveredResults = msg.Dispatch.DeliveredResults
	s.TimedOutRequests = msg.Dispatch.TimedOutRequests
	s.AdmittedPerSec = msg.Rates.AdmittedPerSec
	s.DeliveredPerSec = msg.Rates.DeliveredPerSec
	s.TimedOutPerSec = msg.Rates.TimedOutPerSec
	s.AvgDeliveryMS = msg.Rates.AvgDeliveryMS
	s.AvgBatchSize = msg.Rates.AvgBatchSize
	s.RequestTimeoutMS = msg.RequestTimeoutMS
	s.Seen = true
}

func renderStats(st StatsState, theme Theme, width int) string {
	innerWidth := width - 4

	if !st.Seen {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("DISPATCH"),
			theme.Dim.Render("  Waiting for /v1/stats..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	rateLine := fmt.Sprintf(" %s admitted/s  %s delivered/s  %s",
		theme.Highlight.Render(fmt.Sprintf("%.1f", st.AdmittedPerSec)),
		theme.Highlight.Render(fmt.Sprintf("%.1f", st.DeliveredPerSec)),
		renderTimeoutRate(st.TimedOutPerSec, theme),
	)

	avgLine := fmt.Sprintf(" avg %s/delivery  %s req/batch  timeout %s",
		theme.Highlight.Render(fmt.Sprintf("%.1fms", st.AvgDeliveryMS)),
		theme.Highlight.Render(fmt.Sprintf("%.1f", st.AvgBatchSize)),
		theme.Dim.Render(fmt.Sprintf("%dms", st.RequestTimeoutMS)),
	)

	lifeLine := fmt.Sprintf(" total: %d gets  %d sets  %d delivered  %s  %s",
		st.AdmittedGets,
		st.AdmittedSets,
		st.DeliveredResults,
		renderFailureCount(st.TimedOutRequests, "timed out", theme),
		renderFailureCount(st.RejectedBatches, "rejected", theme),
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("DISPATCH"),
		rateLine,
		avgLine,
		lifeLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderTimeoutRate(perSec float64, theme Theme) string {
	s := fmt.Sprintf("%.1f timeouts/s", perSec)
	if perSec > 0 {
		return theme.StatusFailed.Render(s)
	}
	return theme.Dim.Render(s)
}

func renderFailureCount(n uint64, label string, theme Theme) string {
	s := fmt.Sprintf("%d %s", n, label)
	if n > 0 {
		return theme.StatusFailed.Render(s)
	}
	return theme.Dim.Render(s)
}
