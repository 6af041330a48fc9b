package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/telltale/internal/events"
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	// State
	health   HealthState
	stats    StatsState
	clients  map[string]*ClientState
	eventLog []events.Event

	// Live indicators
	ticker  Ticker
	spinner Spinner

	// UI state
	theme     Theme
	eventView viewport.Model

	// Communication
	hubEvents chan events.Event

	// Error display
	lastError string
}

// New creates a new watch TUI model. apiURL is the daemon's base URL,
// e.g. http://127.0.0.1:8080.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		clients:   make(map[string]*ClientState),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		spinner:   NewSpinner(),
		theme:     NewDefaultTheme(),
		eventView: viewport.New(80, 8),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		func() tea.Msg { return fetchStats(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		// Remaining keys (arrows, pgup/pgdn) scroll the event viewport.
		var cmd tea.Cmd
		m.eventView, cmd = m.eventView.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.eventView.Width = max(msg.Width-6, 20)
		m.eventView.Height = eventPaneHeight(msg.Height)

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		// Update event log (newest first)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 100 {
			m.eventLog = m.eventLog[:100]
		}
		m.eventView.SetContent(formatEventLog(m.eventLog, m.theme))

		m.spinner.OnEvent()
		updateClientState(m.clients, e)

		// Mark as connected
		m.health.Connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.PendingRequests = msg.PendingRequests
		m.health.Clients = msg.Clients
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case statsMsg:
		m.stats.apply(msg)
		return m, tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
			return fetchStats(m.apiURL, m.apiKey)
		})

	case statsErrMsg:
		m.lastError = msg.err.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchStats(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// Reconnect after a short delay; the existing receiveNextEvent
		// goroutine is still waiting on the channel and will pick up
		// events from the new subscription.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		// Retry health in 5s
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing telltale watch..."
	}

	header := renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width)
	statsPane := renderStats(m.stats, m.theme, m.width)
	clientsPane := renderClients(m.clients, m.theme, m.width)
	eventStream := renderEventStream(m.eventView.View(), len(m.eventLog) == 0, m.theme, m.width)

	// Error bar
	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll Events")

	parts := []string{header, statsPane, clientsPane, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// eventPaneHeight sizes the viewport to the space left under the fixed
// panes, keeping it usable on small terminals.
func eventPaneHeight(termHeight int) int {
	h := termHeight - 26
	if h < 4 {
		return 4
	}
	if h > 14 {
		return 14
	}
	return h
}
