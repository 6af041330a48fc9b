package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/telltale/internal/events"
	"github.com/mattjoyce/telltale/internal/hardware"
	"github.com/mattjoyce/telltale/internal/log"
	"github.com/mattjoyce/telltale/internal/pending"
	"github.com/mattjoyce/telltale/internal/prop"
	"github.com/mattjoyce/telltale/internal/registry"
	"github.com/mattjoyce/telltale/internal/schema"
	"github.com/mattjoyce/telltale/internal/transport"
	"github.com/mattjoyce/telltale/internal/validate"
)

// DefaultRequestTimeout bounds how long an admitted request may wait for its
// backend answer before the dispatcher synthesizes a TRY_AGAIN result.
const DefaultRequestTimeout = 30 * time.Second

// Request kinds, also used as the pool client id prefix so the timeout path
// knows which registry to resolve.
const (
	kindGet = "get"
	kindSet = "set"
)

// GetClient receives get result batches. Implementations must have a
// comparable dynamic type; the registry keys on callback identity.
type GetClient interface {
	OnGetResults(env *transport.Envelope) error
}

// SetClient receives set result batches, same identity rule as GetClient.
type SetClient interface {
	OnSetResults(env *transport.Envelope) error
}

// Option configures a Service at construction.
type Option func(*Service)

// WithTimeout sets the initial request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.SetTimeout(d) }
}

// WithBufferStore substitutes the out-of-band buffer store.
func WithBufferStore(store transport.BufferStore) Option {
	return func(s *Service) { s.store = store }
}

// WithInlineLimit overrides the inline/out-of-band threshold in bytes.
func WithInlineLimit(n int) Option {
	return func(s *Service) { s.limit = n }
}

// WithHub attaches an event hub; the service publishes admission, delivery,
// and timeout events to it.
func WithHub(h *events.Hub) Option {
	return func(s *Service) { s.hub = h }
}

// Stats is a point-in-time snapshot of the dispatch counters.
type Stats struct {
	AdmittedGets     uint64 `json:"admitted_gets"`
	AdmittedSets     uint64 `json:"admitted_sets"`
	RejectedBatches  uint64 `json:"rejected_batches"`
	DeliveredResults uint64 `json:"delivered_results"`
	TimedOutRequests uint64 `json:"timed_out_requests"`
	PendingRequests  int    `json:"pending_requests"`
	Clients          int    `json:"clients"`
}

// Service accepts property request batches, forwards them to the hardware
// backend, and guarantees each admitted request exactly one result: the
// backend's answer or a synthesized TRY_AGAIN on timeout, never both.
type Service struct {
	backend hardware.Backend
	schema  *schema.Schema
	checker *validate.Validator

	gets *registry.Registry
	sets *registry.Registry
	pool *pending.Pool

	store  transport.BufferStore
	limit  int
	getReq *transport.Codec[prop.GetRequest]
	getRes *transport.Codec[prop.GetResult]
	setReq *transport.Codec[prop.SetRequest]
	setRes *transport.Codec[prop.SetResult]
	cfgs   *transport.Codec[prop.Config]

	timeoutNanos atomic.Int64
	closed       atomic.Bool
	hub          *events.Hub
	logger       *slog.Logger

	admittedGets atomic.Uint64
	admittedSets atomic.Uint64
	rejected     atomic.Uint64
	delivered    atomic.Uint64
	timedOut     atomic.Uint64
}

// NewService builds a dispatcher over a backend. The property schema is
// loaded from the backend once, here; requests are validated against that
// snapshot for the service's lifetime.
func NewService(backend hardware.Backend, opts ...Option) (*Service, error) {
	configs, err := backend.AllPropertyConfigs()
	if err != nil {
		return nil, fmt.Errorf("load property configs: %w", err)
	}
	sch, err := schema.New(configs)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}

	s := &Service{
		backend: backend,
		schema:  sch,
		checker: validate.New(sch),
		gets:    registry.New(),
		sets:    registry.New(),
		logger:  log.WithComponent("dispatch"),
	}
	s.timeoutNanos.Store(int64(DefaultRequestTimeout))

	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		store, err := transport.NewFileStore(transport.DefaultBufferDir())
		if err != nil {
			return nil, fmt.Errorf("open buffer store: %w", err)
		}
		s.store = store
	}
	s.getReq = transport.NewCodec[prop.GetRequest](s.store, s.limit)
	s.getRes = transport.NewCodec[prop.GetResult](s.store, s.limit)
	s.setReq = transport.NewCodec[prop.SetRequest](s.store, s.limit)
	s.setRes = transport.NewCodec[prop.SetResult](s.store, s.limit)
	s.cfgs = transport.NewCodec[prop.Config](s.store, s.limit)

	s.pool = pending.New(s.onTimeout)
	return s, nil
}

// Schema exposes the property schema snapshot.
func (s *Service) Schema() *schema.Schema {
	return s.schema
}

// AllPropertyConfigs returns every property config as one encoded batch,
// moved out-of-band when the serialized list is large.
func (s *Service) AllPropertyConfigs() (*transport.Envelope, error) {
	return s.cfgs.Encode(s.schema.All())
}

// DecodePropertyConfigs recovers a config batch produced by
// AllPropertyConfigs. In-process clients use it to read either
// representation without caring which one they got.
func (s *Service) DecodePropertyConfigs(env *transport.Envelope) ([]prop.Config, error) {
	return s.cfgs.Decode(env)
}

// SetTimeout changes the request timeout for later admissions. Requests
// already in flight keep their original deadline. Non-positive durations
// reset the default.
func (s *Service) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultRequestTimeout
	}
	s.timeoutNanos.Store(int64(d))
}

// RequestTimeout reports the timeout applied to new admissions.
func (s *Service) RequestTimeout() time.Duration {
	return time.Duration(s.timeoutNanos.Load())
}

// CountPendingRequests reports how many admitted requests await resolution.
func (s *Service) CountPendingRequests() int {
	return s.pool.CountPending()
}

// CountClients reports how many distinct client callbacks the service has
// seen, get and set counted separately.
func (s *Service) CountClients() int {
	return s.gets.Count() + s.sets.Count()
}

// SweepClients forgets idle clients and returns how many were removed.
func (s *Service) SweepClients() int {
	return s.gets.Sweep() + s.sets.Sweep()
}

// Stats snapshots the dispatch counters.
func (s *Service) Stats() Stats {
	return Stats{
		AdmittedGets:     s.admittedGets.Load(),
		AdmittedSets:     s.admittedSets.Load(),
		RejectedBatches:  s.rejected.Load(),
		DeliveredResults: s.delivered.Load(),
		TimedOutRequests: s.timedOut.Load(),
		PendingRequests:  s.CountPendingRequests(),
		Clients:          s.CountClients(),
	}
}

// Close stops the pending pool, cancelling outstanding deadline timers. The
// backend is owned by the caller and stays open. In-flight backend answers
// arriving after Close are dropped.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.pool.Close()
	return nil
}

// GetValues decodes a get batch, admits it, and submits the valid requests
// to the backend. A non-nil return means the batch was rejected and nothing
// from it remains in flight; a nil return means every admitted request will
// resolve through the callback.
func (s *Service) GetValues(client GetClient, env *transport.Envelope) error {
	if s.closed.Load() {
		return prop.Errorf(prop.StatusInternalError, "dispatcher is shut down")
	}

	requests, err := s.getReq.Decode(env)
	s.releaseRequestBuffer(env)
	if err != nil {
		return s.reject(kindGet, "", fmt.Errorf("decode get batch: %w", err))
	}
	if len(requests) == 0 {
		return nil
	}

	keys := make([]batchKey, len(requests))
	for i, r := range requests {
		keys[i] = batchKey{id: r.RequestID, prop: r.Value.Prop, area: r.Value.Area}
	}
	if err := checkBatch(keys); err != nil {
		return s.reject(kindGet, "", err)
	}

	clientID := s.gets.Acquire(client)
	cid := poolID(kindGet, clientID)
	ids := make([]int64, len(requests))
	for i, r := range requests {
		ids[i] = r.RequestID
	}

	admittedAt := time.Now()
	deadline := admittedAt.Add(s.RequestTimeout())
	if err := s.pool.TryAdmit(cid, ids, deadline); err != nil {
		return s.reject(kindGet, clientID, classifyAdmit(err))
	}
	s.gets.AddWork(clientID, len(ids))
	s.admittedGets.Add(uint64(len(ids)))
	s.publish(events.TypeBatchAdmitted, events.BatchEvent{Client: clientID, Kind: kindGet, Count: len(ids)})

	// Partition: per-request validation failures resolve right here, before
	// the hardware ever sees the batch.
	var invalid []prop.GetResult
	valid := make([]prop.GetRequest, 0, len(requests))
	for _, req := range requests {
		if verr := s.checker.CheckGet(req.Value); verr != nil {
			if s.pool.Retire(cid, req.RequestID) {
				invalid = append(invalid, prop.GetResult{RequestID: req.RequestID, Status: prop.StatusOf(verr)})
			}
			continue
		}
		valid = append(valid, req)
	}
	if len(invalid) > 0 {
		s.deliverGets(client, clientID, invalid, false, time.Since(admittedAt))
	}
	if len(valid) == 0 {
		return nil
	}

	done := func(results []prop.GetResult) {
		s.completeGets(client, clientID, cid, results, admittedAt)
	}
	if err := s.backend.GetValuesAsync(valid, done); err != nil {
		for _, req := range valid {
			s.pool.Retire(cid, req.RequestID)
		}
		s.gets.DoneWork(clientID, len(valid))
		s.publish(events.TypeBackendRejected, events.BatchEvent{Client: clientID, Kind: kindGet, Count: len(valid), Reason: err.Error()})
		s.rejected.Add(1)
		return fmt.Errorf("submit get batch: %w", err)
	}
	return nil
}

// SetValues is the set-side twin of GetValues; set requests additionally
// pass payload type and range validation.
func (s *Service) SetValues(client SetClient, env *transport.Envelope) error {
	if s.closed.Load() {
		return prop.Errorf(prop.StatusInternalError, "dispatcher is shut down")
	}

	requests, err := s.setReq.Decode(env)
	s.releaseRequestBuffer(env)
	if err != nil {
		return s.reject(kindSet, "", fmt.Errorf("decode set batch: %w", err))
	}
	if len(requests) == 0 {
		return nil
	}

	keys := make([]batchKey, len(requests))
	for i, r := range requests {
		keys[i] = batchKey{id: r.RequestID, prop: r.Value.Prop, area: r.Value.Area}
	}
	if err := checkBatch(keys); err != nil {
		return s.reject(kindSet, "", err)
	}

	clientID := s.sets.Acquire(client)
	cid := poolID(kindSet, clientID)
	ids := make([]int64, len(requests))
	for i, r := range requests {
		ids[i] = r.RequestID
	}

	admittedAt := time.Now()
	deadline := admittedAt.Add(s.RequestTimeout())
	if err := s.pool.TryAdmit(cid, ids, deadline); err != nil {
		return s.reject(kindSet, clientID, classifyAdmit(err))
	}
	s.sets.AddWork(clientID, len(ids))
	s.admittedSets.Add(uint64(len(ids)))
	s.publish(events.TypeBatchAdmitted, events.BatchEvent{Client: clientID, Kind: kindSet, Count: len(ids)})

	var invalid []prop.SetResult
	valid := make([]prop.SetRequest, 0, len(requests))
	for _, req := range requests {
		if verr := s.checker.CheckSet(req.Value); verr != nil {
			if s.pool.Retire(cid, req.RequestID) {
				invalid = append(invalid, prop.SetResult{RequestID: req.RequestID, Status: prop.StatusOf(verr)})
			}
			continue
		}
		valid = append(valid, req)
	}
	if len(invalid) > 0 {
		s.deliverSets(client, clientID, invalid, false, time.Since(admittedAt))
	}
	if len(valid) == 0 {
		return nil
	}

	done := func(results []prop.SetResult) {
		s.completeSets(client, clientID, cid, results, admittedAt)
	}
	if err := s.backend.SetValuesAsync(valid, done); err != nil {
		for _, req := range valid {
			s.pool.Retire(cid, req.RequestID)
		}
		s.sets.DoneWork(clientID, len(valid))
		s.publish(events.TypeBackendRejected, events.BatchEvent{Client: clientID, Kind: kindSet, Count: len(valid), Reason: err.Error()})
		s.rejected.Add(1)
		return fmt.Errorf("submit set batch: %w", err)
	}
	return nil
}

// completeGets handles a backend answer: each result retires its request,
// winners are delivered, losers (already timed out) are dropped silently.
func (s *Service) completeGets(cb GetClient, clientID string, cid pending.ClientID, results []prop.GetResult, admittedAt time.Time) {
	winners := make([]prop.GetResult, 0, len(results))
	for _, r := range results {
		if s.pool.Retire(cid, r.RequestID) {
			winners = append(winners, r)
		} else {
			s.logger.Debug("dropping late get result",
				slog.String("client_id", clientID),
				slog.Int64("request_id", r.RequestID))
		}
	}
	if len(winners) == 0 {
		return
	}
	s.deliverGets(cb, clientID, winners, false, time.Since(admittedAt))
}

func (s *Service) completeSets(cb SetClient, clientID string, cid pending.ClientID, results []prop.SetResult, admittedAt time.Time) {
	winners := make([]prop.SetResult, 0, len(results))
	for _, r := range results {
		if s.pool.Retire(cid, r.RequestID) {
			winners = append(winners, r)
		} else {
			s.logger.Debug("dropping late set result",
				slog.String("client_id", clientID),
				slog.Int64("request_id", r.RequestID))
		}
	}
	if len(winners) == 0 {
		return
	}
	s.deliverSets(cb, clientID, winners, false, time.Since(admittedAt))
}

// onTimeout receives ids the pool has already retired. It synthesizes
// TRY_AGAIN results and delivers them to whichever client the pool key
// names. Runs on the timer goroutine.
func (s *Service) onTimeout(client pending.ClientID, ids []int64) {
	kind, clientID := splitPoolID(client)
	s.timedOut.Add(uint64(len(ids)))
	s.publish(events.TypeRequestsTimedOut, events.BatchEvent{Client: clientID, Kind: kind, Count: len(ids)})

	switch kind {
	case kindGet:
		cb, ok := s.gets.Resolve(clientID)
		if !ok {
			s.logger.Warn("timeout for unknown get client", slog.String("client_id", clientID))
			return
		}
		results := make([]prop.GetResult, 0, len(ids))
		for _, id := range ids {
			results = append(results, prop.GetResult{RequestID: id, Status: prop.StatusTryAgain})
		}
		s.deliverGets(cb.(GetClient), clientID, results, true, s.RequestTimeout())
	case kindSet:
		cb, ok := s.sets.Resolve(clientID)
		if !ok {
			s.logger.Warn("timeout for unknown set client", slog.String("client_id", clientID))
			return
		}
		results := make([]prop.SetResult, 0, len(ids))
		for _, id := range ids {
			results = append(results, prop.SetResult{RequestID: id, Status: prop.StatusTryAgain})
		}
		s.deliverSets(cb.(SetClient), clientID, results, true, s.RequestTimeout())
	}
}

// deliverGets pushes one result batch through the callback. Encode and
// callback failures are logged and dropped; the requests are already retired
// and will not be redelivered.
func (s *Service) deliverGets(cb GetClient, clientID string, results []prop.GetResult, timedOut bool, elapsed time.Duration) {
	env, err := s.getRes.Encode(results)
	if err != nil {
		s.logger.Error("encode get results failed",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()))
		s.gets.DoneWork(clientID, len(results))
		return
	}
	if err := cb.OnGetResults(env); err != nil {
		s.logger.Warn("get result delivery failed",
			slog.String("client_id", clientID),
			slog.Int("count", len(results)),
			slog.String("error", err.Error()))
	}
	if err := s.getRes.Release(env); err != nil {
		s.logger.Debug("release result buffer failed", slog.String("error", err.Error()))
	}
	s.gets.DoneWork(clientID, len(results))
	s.delivered.Add(uint64(len(results)))
	s.publish(events.TypeResultsDelivered, events.DeliveryEvent{
		Client:    clientID,
		Kind:      kindGet,
		Count:     len(results),
		TimedOut:  timedOut,
		ElapsedMS: elapsedMS(elapsed),
	})
}

func (s *Service) deliverSets(cb SetClient, clientID string, results []prop.SetResult, timedOut bool, elapsed time.Duration) {
	env, err := s.setRes.Encode(results)
	if err != nil {
		s.logger.Error("encode set results failed",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()))
		s.sets.DoneWork(clientID, len(results))
		return
	}
	if err := cb.OnSetResults(env); err != nil {
		s.logger.Warn("set result delivery failed",
			slog.String("client_id", clientID),
			slog.Int("count", len(results)),
			slog.String("error", err.Error()))
	}
	if err := s.setRes.Release(env); err != nil {
		s.logger.Debug("release result buffer failed", slog.String("error", err.Error()))
	}
	s.sets.DoneWork(clientID, len(results))
	s.delivered.Add(uint64(len(results)))
	s.publish(events.TypeResultsDelivered, events.DeliveryEvent{
		Client:    clientID,
		Kind:      kindSet,
		Count:     len(results),
		TimedOut:  timedOut,
		ElapsedMS: elapsedMS(elapsed),
	})
}

func elapsedMS(d time.Duration) float64 {
	return float64(d/time.Microsecond) / 1000.0
}

// releaseRequestBuffer frees an incoming envelope's out-of-band buffer; the
// dispatcher is the consumer of request payloads.
func (s *Service) releaseRequestBuffer(env *transport.Envelope) {
	if env == nil || !env.OutOfBand() {
		return
	}
	if err := s.store.Release(*env.Handle); err != nil {
		s.logger.Debug("release request buffer failed", slog.String("error", err.Error()))
	}
}

// reject counts and logs a synchronous batch rejection, then returns err.
func (s *Service) reject(kind, clientID string, err error) error {
	s.rejected.Add(1)
	s.logger.Warn("batch rejected",
		slog.String("kind", kind),
		slog.String("client_id", clientID),
		slog.String("error", err.Error()))
	s.publish(events.TypeBatchRejected, events.BatchEvent{Client: clientID, Kind: kind, Reason: err.Error()})
	return err
}

func (s *Service) publish(eventType string, data any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(eventType, data)
}

// batchKey is the per-request tuple checked for in-batch uniqueness.
type batchKey struct {
	id   int64
	prop int32
	area int32
}

// checkBatch rejects batches with repeated request ids or repeated
// (property, area) pairs.
func checkBatch(keys []batchKey) error {
	ids := make(map[int64]struct{}, len(keys))
	pairs := make(map[[2]int32]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := ids[k.id]; dup {
			return prop.Errorf(prop.StatusInvalidArg, "duplicate request id %d in batch", k.id)
		}
		ids[k.id] = struct{}{}

		pair := [2]int32{k.prop, k.area}
		if _, dup := pairs[pair]; dup {
			return prop.Errorf(prop.StatusInvalidArg, "duplicate property 0x%x area %d in batch", uint32(k.prop), k.area)
		}
		pairs[pair] = struct{}{}
	}
	return nil
}

// classifyAdmit maps pool admission failures onto status codes: an id
// collision is the caller's fault, a closed pool is ours.
func classifyAdmit(err error) error {
	if errors.Is(err, pending.ErrPoolClosed) {
		return prop.Wrap(prop.StatusInternalError, err)
	}
	return prop.Wrap(prop.StatusInvalidArg, err)
}

func poolID(kind, clientID string) pending.ClientID {
	return pending.ClientID(kind + "/" + clientID)
}

func splitPoolID(cid pending.ClientID) (kind, clientID string) {
	kind, clientID, _ = strings.Cut(string(cid), "/")
	return kind, clientID
}
