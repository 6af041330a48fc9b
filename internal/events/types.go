package events

// Event types published on the hub. The dispatcher publishes the batch and
// delivery types; the daemon publishes the lifecycle types.
const (
	TypeBatchAdmitted    = "batch.admitted"
	TypeBatchRejected    = "batch.rejected"
	TypeResultsDelivered = "results.delivered"
	TypeRequestsTimedOut = "requests.timed_out"
	TypeBackendRejected  = "backend.rejected"
	TypeDaemonStarted    = "daemon.started"
	TypeDaemonStopping   = "daemon.stopping"
)

// BatchEvent describes the admission or rejection of one client batch.
type BatchEvent struct {
	Client string `json:"client,omitempty"`
	Kind   string `json:"kind"` // get | set
	Count  int    `json:"count,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// DeliveryEvent describes one result batch pushed through a client callback.
// ElapsedMS measures from admission to delivery.
type DeliveryEvent struct {
	Client    string  `json:"client"`
	Kind      string  `json:"kind"`
	Count     int     `json:"count"`
	TimedOut  bool    `json:"timed_out,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms"`
}
