// Package store provides SQLite-backed storage for model graphs.
//
// A graph is identified by its model ref and consists of folders, elements,
// relationships between elements, views, visuals placed on views (element
// references, notes and groups) and connections drawing a relationship
// between two visuals.
//
// All writes go through a Tx so a batch of changes is applied atomically.
// Deleting an entity cascades to everything that depends on it through
// foreign keys.
//
// # Database Configuration
//
//   - WAL mode: Concurrent snapshot reads during batch writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity and cascades
//
// Reads order rows by insertion (rowid) so snapshots are deterministic.
package store
