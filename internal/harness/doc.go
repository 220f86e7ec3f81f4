// Package harness runs offline-sync scenarios against a real engine and an
// in-memory reference server.
//
// A scenario scripts what a field device goes through: events created
// and acted on while the network is down, injected server errors, clock
// advances past the retry interval and delivery passes. The harness records
// every call that reaches the server and evaluates assertions against that
// trace and the engine's final view of each event.
//
// # Scenario Format
//
//	name: offline_create_declare
//	description: "Actions queued offline reach the server in order"
//	form: |
//	  event: birth: { fields: [{id: "child.firstname"}] }
//	steps:
//	  - network: offline
//	  - create: {type: birth, as: b}
//	  - mutate: {event: b, action: DECLARE, declaration: {child.firstname: Ada}}
//	  - flush: true
//	  - network: online
//	  - advance: 10s
//	  - flush: true
//	assertions:
//	  - type: status
//	    event: b
//	    status: DECLARED
//	  - type: trace_order
//	    calls: ["CREATE birth", "DECLARE srv-1"]
//
// Each step does exactly one thing:
//
//   - create: create an event locally and bind it to an alias
//   - mutate: queue an action against an aliased event
//   - network: switch the server connection offline or online
//   - fail: make the server answer an action type with a status code
//   - flush: run one delivery
//   - advance: move the clock forward
//   - fetch: download an aliased event
//   - delete: delete an aliased, unsynced event
//
// create, mutate and delete accept expect_error, naming the error kind the
// step must fail with (action_not_available, insufficient_scope,
// event_synced, not_found_locally, idempotency, event_not_created).
//
// # Assertion Types
//
//   - status: canonical status of an event, or the optimistic one
//   - flags: the event's flag set
//   - outbox_len, failed_len: queued and failed mutations, overall or per event
//   - resolves: the canonical id an alias resolves to
//   - trace_contains, trace_order, trace_count: server calls
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory cache, a manual clock and sequential ids
// (server ids srv-N, transaction ids tx-N, temporary ids tmp-N), so traces
// compare byte for byte against golden files.
package harness
