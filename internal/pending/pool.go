// Package pending is the registry of in-flight requests. It is the sole
// authority on whether a (client, request id) pair is still awaiting a
// result: admission registers ids all-or-nothing, retirement releases an id
// exactly once, and a per-batch timer expires whatever the hardware has not
// answered by the deadline. The backend-completion path and the timer path
// both funnel through Retire, so whichever loses the race gets false and
// must stay silent.
package pending

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/telltale/internal/log"
)

var (
	// ErrDuplicateRequestID marks an admission that collided with an id
	// still pending for the same client.
	ErrDuplicateRequestID = errors.New("request id already pending for this client")

	// ErrPoolClosed marks operations against a pool that has been shut down.
	ErrPoolClosed = errors.New("pending pool is closed")
)

// ClientID identifies one registered client within the pool.
type ClientID string

// TimeoutFunc receives the ids of one admitted batch that were still pending
// when its deadline fired. The ids are already retired when the callback
// runs; the callback's job is to deliver TRY_AGAIN results for them. Called
// from the timer goroutine, never under the pool lock.
type TimeoutFunc func(client ClientID, requestIDs []int64)

// Pool tracks pending request ids per client under one mutex.
type Pool struct {
	mu        sync.Mutex
	clients   map[ClientID]map[int64]struct{}
	timers    map[*time.Timer]struct{}
	onTimeout TimeoutFunc
	closed    bool
	logger    *slog.Logger
}

// New builds an empty pool. onTimeout may be nil when no timeout delivery is
// wanted (tests, drains).
func New(onTimeout TimeoutFunc) *Pool {
	return &Pool{
		clients:   make(map[ClientID]map[int64]struct{}),
		timers:    make(map[*time.Timer]struct{}),
		onTimeout: onTimeout,
		logger:    log.WithComponent("pending"),
	}
}

// TryAdmit registers every id in requestIDs for the client with the given
// deadline, or nothing at all: if any id is already pending for that client
// (or repeated within the slice), the whole admission fails and the pool is
// unchanged. On success one timer is armed for the batch.
func (p *Pool) TryAdmit(client ClientID, requestIDs []int64, deadline time.Time) error {
	if len(requestIDs) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	ids := p.clients[client]
	seen := make(map[int64]struct{}, len(requestIDs))
	for _, id := range requestIDs {
		if _, dup := ids[id]; dup {
			return fmt.Errorf("request %d: %w", id, ErrDuplicateRequestID)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("request %d: %w", id, ErrDuplicateRequestID)
		}
		seen[id] = struct{}{}
	}

	if ids == nil {
		ids = make(map[int64]struct{}, len(requestIDs))
		p.clients[client] = ids
	}
	for _, id := range requestIDs {
		ids[id] = struct{}{}
	}

	// The expiry callback locks the pool first, so storing the timer handle
	// here is ordered before any possible fire.
	batch := make([]int64, len(requestIDs))
	copy(batch, requestIDs)
	var timer *time.Timer
	timer = time.AfterFunc(time.Until(deadline), func() {
		p.expire(timer, client, batch)
	})
	p.timers[timer] = struct{}{}

	p.logger.Debug("batch admitted",
		slog.String("client_id", string(client)),
		slog.Int("requests", len(requestIDs)),
		slog.Time("deadline", deadline))
	return nil
}

// Retire releases one pending id. It returns true exactly once per admitted
// id; late callers, whichever completion path they are on, get false and
// must not deliver a result.
func (p *Pool) Retire(client ClientID, requestID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(client, requestID)
}

// CountPending returns the number of ids still awaiting a result across all
// clients. Drains to zero once every admitted request completed or timed
// out.
func (p *Pool) CountPending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, ids := range p.clients {
		n += len(ids)
	}
	return n
}

// PendingFor returns the number of ids still pending for one client.
func (p *Pool) PendingFor(client ClientID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients[client])
}

// Close stops all batch timers and rejects further admissions. Entries still
// pending are dropped without timeout delivery.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for t := range p.timers {
		t.Stop()
	}
	p.timers = make(map[*time.Timer]struct{})
	p.clients = make(map[ClientID]map[int64]struct{})
}

// expire retires whatever the batch still has pending and reports the
// expired ids to the timeout callback.
func (p *Pool) expire(timer *time.Timer, client ClientID, requestIDs []int64) {
	expired := make([]int64, 0, len(requestIDs))

	p.mu.Lock()
	delete(p.timers, timer)
	if p.closed {
		p.mu.Unlock()
		return
	}
	for _, id := range requestIDs {
		if p.removeLocked(client, id) {
			expired = append(expired, id)
		}
	}
	p.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	p.logger.Debug("batch deadline fired",
		slog.String("client_id", string(client)),
		slog.Int("expired", len(expired)))
	if p.onTimeout != nil {
		p.onTimeout(client, expired)
	}
}

func (p *Pool) removeLocked(client ClientID, requestID int64) bool {
	ids, ok := p.clients[client]
	if !ok {
		return false
	}
	if _, ok := ids[requestID]; !ok {
		return false
	}
	delete(ids, requestID)
	if len(ids) == 0 {
		delete(p.clients, client)
	}
	return true
}
