// Package dispatch routes property request batches between client callbacks
// and the asynchronous hardware backend.
//
// The service decodes each incoming batch from its transport envelope,
// rejects malformed or conflicting batches synchronously, admits the rest
// into the pending pool, and submits the valid sub-batch to the backend.
// Results flow back through the client callback in one or more batches.
//
// Key behavior:
//   - Synchronous rejection: malformed envelope, duplicate request ids or
//     duplicate (property, area) pairs within the batch, id collision with
//     in-flight work, backend refusal of the sub-batch
//   - Per-request validation failures become INVALID_ARG results, delivered
//     before the hardware sub-batch is submitted
//   - Every admitted request resolves exactly once: the backend answer and
//     the deadline timer race, and whichever retires the id first delivers
//   - Timed-out requests surface as TRY_AGAIN results with no value
//   - Delivery failures are logged and dropped, never retried
//
// The service never blocks on hardware in the call path; delivery happens on
// whichever goroutine observes completion.
package dispatch
