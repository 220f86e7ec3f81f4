// Package store provides the durable key-value collaborator behind the
// event cache, drafts and the mutation outbox.
//
// KV is the storage contract: atomic read-only and read-write transactions
// over string keys holding opaque byte values. Three implementations exist:
//   - Store: SQLite (this package), the default on-device store
//   - badgerstore: BadgerDB, an embedded LSM alternative
//   - memstore: in-memory, for tests and ephemeral sessions
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Scans return keys in byte order (ORDER BY key COLLATE BINARY) so every
// implementation iterates identically.
package store
