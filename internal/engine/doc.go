// Package engine is the offline sync engine's UI-facing facade.
//
// It ties the cache, outbox, draft store, temporary-id reconciler, guard
// and list cache together. Callers read events and enqueue mutations
// synchronously against local state; delivery to the remote API happens
// in a single delivery loop (Run, or Flush for one drain).
//
// DELIVERY:
//
// Mutations are queued durably before Mutate returns. The delivery loop
// sends them in enqueue order, one event at a time: an entry is not
// attempted while an earlier entry for the same event is still queued.
// Failures are classified by the outbox: 400/404-class errors move the
// entry to the failed set, everything else is retried on a fixed
// interval. A CREATE is always retried, and actions queued behind an
// unconfirmed CREATE wait for it.
//
// STATE:
//
// Only server-accepted actions are folded into an event's canonical state.
// View additionally reports an optimistic state with queued actions folded
// on top; it is computed on demand and never stored.
package engine
