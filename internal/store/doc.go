// Package store provides durable storage for machines and their reference
// datasets.
//
// Two backends implement Backend:
//   - Store: SQLite via mattn/go-sqlite3 (default)
//   - BadgerStore: Badger key-value store
//
// Both are keyed by machine ID and expose the narrow get/save/delete
// contract the synchronizer and provisioner depend on. Neither backend
// offers multi-record transactions to callers; the fleet provisioner
// layers compensating rollback on top.
//
// # Database Configuration (SQLite)
//
// Set per connection through the DSN:
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Datasets are deleted with their machine
package store
