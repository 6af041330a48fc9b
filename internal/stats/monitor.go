// Package stats derives throughput and latency figures from the event
// stream. The monitor subscribes to the hub, folds dispatch events into
// per-interval rates and moving averages, and exposes them as a Snapshot
// for the API and the watch screen.
package stats

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"

	"github.com/mattjoyce/telltale/internal/events"
	"github.com/mattjoyce/telltale/internal/log"
)

// DefaultReportInterval is how often the monitor computes rates and logs
// a report line.
const DefaultReportInterval = 10 * time.Second

// averageWindow is the number of samples kept by the moving averages.
const averageWindow = 20

// Snapshot is one monitor reading. Rates cover the last completed
// interval; averages are rolling over recent deliveries.
type Snapshot struct {
	AdmittedPerSec  float64 `json:"admitted_per_sec"`
	DeliveredPerSec float64 `json:"delivered_per_sec"`
	TimedOutPerSec  float64 `json:"timed_out_per_sec"`
	AvgDeliveryMS   float64 `json:"avg_delivery_ms"`
	AvgBatchSize    float64 `json:"avg_batch_size"`
}

// Monitor consumes dispatch events and keeps rolling stats over them.
type Monitor struct {
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	admitted   int
	delivered  int
	timedOut   int
	deliveryMS *movingaverage.MovingAverage
	batchSize  *movingaverage.MovingAverage
	last       Snapshot

	cancel func()
	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a stopped Monitor. A non-positive interval selects
// DefaultReportInterval.
func New(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &Monitor{
		interval:   interval,
		logger:     log.WithComponent("stats"),
		deliveryMS: movingaverage.New(averageWindow),
		batchSize:  movingaverage.New(averageWindow),
	}
}

// Start subscribes to the hub and launches the worker. A second Start
// without a Stop in between is a no-op.
func (m *Monitor) Start(hub *events.Hub) {
	if m.stopCh != nil {
		return
	}

	ch, cancel := hub.Subscribe()
	m.cancel = cancel
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.worker(ch)
}

// Stop unsubscribes from the hub and waits for the worker to exit.
func (m *Monitor) Stop() {
	if m.stopCh == nil {
		return
	}

	close(m.stopCh)
	m.cancel()
	<-m.doneCh
	m.stopCh = nil
}

// Snapshot returns the rates from the last completed interval together
// with the current moving averages.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.last
	snap.AvgDeliveryMS = m.deliveryMS.Avg()
	snap.AvgBatchSize = m.batchSize.Avg()
	return snap
}

func (m *Monitor) worker(ch <-chan events.Event) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.consume(ev)
		case <-ticker.C:
			m.report()
		}
	}
}

func (m *Monitor) consume(ev events.Event) {
	switch ev.Type {
	case events.TypeBatchAdmitted:
		var data events.BatchEvent
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		m.mu.Lock()
		m.admitted += data.Count
		m.mu.Unlock()

	case events.TypeRequestsTimedOut:
		var data events.BatchEvent
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		m.mu.Lock()
		m.timedOut += data.Count
		m.mu.Unlock()

	case events.TypeResultsDelivered:
		var data events.DeliveryEvent
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		m.mu.Lock()
		m.delivered += data.Count
		m.batchSize.Add(float64(data.Count))
		// Timed-out batches resolve at the deadline, not at a measured
		// backend latency; keep them out of the latency average.
		if !data.TimedOut {
			m.deliveryMS.Add(data.ElapsedMS)
		}
		m.mu.Unlock()
	}
}

// report folds the interval counters into rates, publishes them as the
// current Snapshot, and resets the counters.
func (m *Monitor) report() {
	secs := m.interval.Seconds()

	m.mu.Lock()
	snap := Snapshot{
		AdmittedPerSec:  float64(m.admitted) / secs,
		DeliveredPerSec: float64(m.delivered) / secs,
		TimedOutPerSec:  float64(m.timedOut) / secs,
		AvgDeliveryMS:   m.deliveryMS.Avg(),
		AvgBatchSize:    m.batchSize.Avg(),
	}
	m.admitted = 0
	m.delivered = 0
	m.timedOut = 0
	m.last = snap
	m.mu.Unlock()

	m.logger.Debug("dispatch rates",
		slog.Float64("admitted_per_sec", snap.AdmittedPerSec),
		slog.Float64("delivered_per_sec", snap.DeliveredPerSec),
		slog.Float64("timed_out_per_sec", snap.TimedOutPerSec),
		slog.Float64("avg_delivery_ms", snap.AvgDeliveryMS),
		slog.Float64("avg_batch_size", snap.AvgBatchSize))
}
