package watch

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/telltale/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	PendingRequests int    `json:"pending_requests"`
	Clients         int    `json:"clients"`
}

// statsMsg mirrors the slice of GET /v1/stats the panes show. The shapes are
// decoded locally so the watch screen stays a plain HTTP client of the
// daemon.
type statsMsg struct {
	Dispatch struct {
		AdmittedGets     uint64 `json:"admitted_gets"`
		AdmittedSets     uint64 `json:"admitted_sets"`
		RejectedBatches  uint64 `json:"rejected_batches"`
		DeliveredResults uint64 `json:"delivered_results"`
		TimedOutRequests uint64 `json:"timed_out_requests"`
	} `json:"dispatch"`
	Rates struct {
		AdmittedPerSec  float64 `json:"admitted_per_sec"`
		DeliveredPerSec float64 `json:"delivered_per_sec"`
		TimedOutPerSec  float64 `json:"timed_out_per_sec"`
		AvgDeliveryMS   float64 `json:"avg_delivery_ms"`
		AvgBatchSize    float64 `json:"avg_batch_size"`
	} `json:"rates"`
	RequestTimeoutMS int64 `json:"request_timeout_ms"`
}

type tickMsg time.Time

type errMsg error

// statsErrMsg is a concrete type so stats failures retry their own fetch
// chain instead of falling into the errMsg health retry.
type statsErrMsg struct{ err error }

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to the SSE /v1/events endpoint and feeds events
// into the provided channel. Returns sseDisconnectedMsg when the connection
// drops.
func subscribeToEvents(apiURL, apiKey string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{}
		req, err := http.NewRequest("GET", apiURL+"/v1/events", nil)
		if err != nil {
			return errMsg(err)
		}
		setAuth(req, apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var current struct {
			id   int64
			typ  string
			data string
		}

		for scanner.Scan() {
			line := scanner.Text()

			if line == "" {
				if current.data != "" {
					ch <- events.Event{
						ID:   current.id,
						Type: current.typ,
						At:   time.Now(),
						Data: []byte(current.data),
					}
					current = struct {
						id   int64
						typ  string
						data string
					}{}
				}
				continue
			}

			if strings.HasPrefix(line, "id: ") {
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					current.id = id
				}
			} else if strings.HasPrefix(line, "event: ") {
				current.typ = line[7:]
			} else if strings.HasPrefix(line, "data: ") {
				current.data = line[6:]
			}
		}

		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL, apiKey string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest("GET", apiURL+"/healthz", nil)
	if err != nil {
		return errMsg(err)
	}
	setAuth(req, apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchStats queries the /v1/stats endpoint.
func fetchStats(apiURL, apiKey string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest("GET", apiURL+"/v1/stats", nil)
	if err != nil {
		return statsErrMsg{err}
	}
	setAuth(req, apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return statsErrMsg{err}
	}
	defer resp.Body.Close()

	var st statsMsg
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return statsErrMsg{err}
	}
	return st
}

func setAuth(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
