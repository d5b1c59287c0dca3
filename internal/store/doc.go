// Package store provides SQLite-backed durable storage for XML documents.
//
// The store keeps:
//   - Documents: collection path, name, owner and mode, plus the split
//     count and address generation used by maintenance and staleness checks
//   - Nodes: one row per element, attribute or text node, keyed by its
//     logical NodeID and placed at a physical (page, slot) address
//
// # Addresses and Relocation
//
// Nodes are packed into fixed-capacity pages. Appending to a full page
// splits it: the upper half of its slots moves to a fresh page, the
// document's split count and generation are incremented, and every moved
// node is published through the configured notify.Publisher. Defragment
// repacks a document in document order and resets its split count.
//
// # Locking
//
// The store does not lock documents. Edits require the caller to hold the
// document's exclusive lock; reads should hold at least a shared lock to
// see a consistent tree.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
