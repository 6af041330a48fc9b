package hardware

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/telltale/internal/log"
	"github.com/mattjoyce/telltale/internal/prop"
	"github.com/mattjoyce/telltale/internal/schema"
)

// Fake simulates vehicle hardware over a ValueStore. Submissions are served
// by a small worker pool after an optional artificial latency, so the
// asynchronous contract behaves like the real thing. Tests and demos can
// script per-property statuses, call-level failures, and inspect every
// request the simulator saw.
//
// Close abandons work still queued; a simulator shutting down mid-flight
// never invokes the pending done callbacks.
type Fake struct {
	schema *schema.Schema
	store  ValueStore
	logger *slog.Logger

	jobs chan func()
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	getBatches atomic.Int64
	setBatches atomic.Int64

	mu        sync.Mutex
	latency   time.Duration
	submitErr error
	getStatus map[int32]prop.StatusCode
	setStatus map[int32]prop.StatusCode
	seenGets  []prop.GetRequest
	seenSets  []prop.SetRequest
}

// NewFake builds a simulator over the schema and store. workers <= 0 selects
// two workers.
func NewFake(s *schema.Schema, store ValueStore, workers int) *Fake {
	if workers <= 0 {
		workers = 2
	}
	f := &Fake{
		schema:    s,
		store:     store,
		logger:    log.WithComponent("hardware.fake"),
		jobs:      make(chan func(), 64),
		quit:      make(chan struct{}),
		getStatus: make(map[int32]prop.StatusCode),
		setStatus: make(map[int32]prop.StatusCode),
	}
	for i := 0; i < workers; i++ {
		f.wg.Add(1)
		go f.worker()
	}
	return f
}

func (f *Fake) worker() {
	defer f.wg.Done()
	for {
		select {
		case job := <-f.jobs:
			job()
		case <-f.quit:
			return
		}
	}
}

// SetLatency delays every subsequent submission's completion by d.
func (f *Fake) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// FailSubmits makes every subsequent submission fail synchronously with
// err. Pass nil to clear.
func (f *Fake) FailSubmits(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

// ForceGetStatus makes reads of propID answer with the given status instead
// of a value.
func (f *Fake) ForceGetStatus(propID int32, code prop.StatusCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getStatus[propID] = code
}

// ForceSetStatus makes writes of propID answer with the given status
// without touching the store.
func (f *Fake) ForceSetStatus(propID int32, code prop.StatusCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStatus[propID] = code
}

// Seed writes values straight into the store, bypassing the async path.
func (f *Fake) Seed(values ...prop.Value) error {
	for _, v := range values {
		if v.Timestamp == 0 {
			v.Timestamp = time.Now().UnixNano()
		}
		if err := f.store.Save(v); err != nil {
			return err
		}
	}
	return nil
}

// GetRequests returns every get request the simulator has seen, in
// submission order.
func (f *Fake) GetRequests() []prop.GetRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]prop.GetRequest, len(f.seenGets))
	copy(out, f.seenGets)
	return out
}

// SetRequests returns every set request the simulator has seen.
func (f *Fake) SetRequests() []prop.SetRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]prop.SetRequest, len(f.seenSets))
	copy(out, f.seenSets)
	return out
}

// Batches returns how many get and set sub-batches were accepted.
func (f *Fake) Batches() (gets, sets int64) {
	return f.getBatches.Load(), f.setBatches.Load()
}

// AllPropertyConfigs returns the schema's configs.
func (f *Fake) AllPropertyConfigs() ([]prop.Config, error) {
	return f.schema.All(), nil
}

// GetValuesAsync queues a read sub-batch. The done callback runs on a
// worker goroutine after the configured latency.
func (f *Fake) GetValuesAsync(requests []prop.GetRequest, done GetDone) error {
	f.mu.Lock()
	if f.submitErr != nil {
		err := f.submitErr
		f.mu.Unlock()
		return err
	}
	f.seenGets = append(f.seenGets, requests...)
	delay := f.latency
	f.mu.Unlock()

	f.getBatches.Add(1)
	batch := make([]prop.GetRequest, len(requests))
	copy(batch, requests)

	return f.enqueue(func() {
		if !f.wait(delay) {
			return
		}
		results := make([]prop.GetResult, 0, len(batch))
		for _, req := range batch {
			results = append(results, f.readOne(req))
		}
		done(results)
	})
}

// SetValuesAsync queues a write sub-batch.
func (f *Fake) SetValuesAsync(requests []prop.SetRequest, done SetDone) error {
	f.mu.Lock()
	if f.submitErr != nil {
		err := f.submitErr
		f.mu.Unlock()
		return err
	}
	f.seenSets = append(f.seenSets, requests...)
	delay := f.latency
	f.mu.Unlock()

	f.setBatches.Add(1)
	batch := make([]prop.SetRequest, len(requests))
	copy(batch, requests)

	return f.enqueue(func() {
		if !f.wait(delay) {
			return
		}
		results := make([]prop.SetResult, 0, len(batch))
		for _, req := range batch {
			results = append(results, f.writeOne(req))
		}
		done(results)
	})
}

// Close stops the workers. Queued submissions are abandoned.
func (f *Fake) Close() error {
	f.once.Do(func() {
		close(f.quit)
	})
	f.wg.Wait()
	return nil
}

func (f *Fake) enqueue(job func()) error {
	select {
	case f.jobs <- job:
		return nil
	case <-f.quit:
		return prop.Errorf(prop.StatusInternalError, "hardware is shut down")
	}
}

// wait sleeps for the configured latency, returning false when the
// simulator shut down first.
func (f *Fake) wait(delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	select {
	case <-time.After(delay):
		return true
	case <-f.quit:
		return false
	}
}

func (f *Fake) readOne(req prop.GetRequest) prop.GetResult {
	propID, area := req.Value.Prop, req.Value.Area

	f.mu.Lock()
	forced, hasForced := f.getStatus[propID]
	f.mu.Unlock()
	if hasForced && forced != prop.StatusOK {
		return prop.GetResult{RequestID: req.RequestID, Status: forced}
	}

	cfg, ok := f.schema.Lookup(propID)
	if !ok {
		return prop.GetResult{RequestID: req.RequestID, Status: prop.StatusInvalidArg}
	}

	v, found, err := f.store.Load(propID, area)
	if err != nil {
		f.logger.Error("store load failed", slog.String("error", err.Error()))
		return prop.GetResult{RequestID: req.RequestID, Status: prop.StatusInternalError}
	}
	if !found {
		v = defaultValue(cfg, area)
	}
	return prop.GetResult{RequestID: req.RequestID, Status: prop.StatusOK, Value: &v}
}

func (f *Fake) writeOne(req prop.SetRequest) prop.SetResult {
	f.mu.Lock()
	forced, hasForced := f.setStatus[req.Value.Prop]
	f.mu.Unlock()
	if hasForced && forced != prop.StatusOK {
		return prop.SetResult{RequestID: req.RequestID, Status: forced}
	}

	v := req.Value
	v.Timestamp = time.Now().UnixNano()
	if err := f.store.Save(v); err != nil {
		f.logger.Error("store save failed", slog.String("error", err.Error()))
		return prop.SetResult{RequestID: req.RequestID, Status: prop.StatusInternalError}
	}
	return prop.SetResult{RequestID: req.RequestID, Status: prop.StatusOK}
}

// defaultValue synthesizes the reading for a property no one has written
// yet: one zero element of the declared kind.
func defaultValue(cfg prop.Config, area int32) prop.Value {
	v := prop.Value{Prop: cfg.Prop, Area: area, Timestamp: time.Now().UnixNano()}
	switch cfg.Type.Kind() {
	case prop.KindInt32s:
		v.Payload = prop.Int32s(0)
	case prop.KindInt64s:
		v.Payload = prop.Int64s(0)
	case prop.KindFloats:
		v.Payload = prop.Floats(0)
	case prop.KindBytes:
		v.Payload = prop.Bytes([]byte{0})
	case prop.KindString:
		v.Payload = prop.Str("")
	default:
		v.Payload = prop.EmptyPayload()
	}
	return v
}
