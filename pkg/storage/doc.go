/*
Package storage provides encrypted BoltDB persistence for the cache, the task
queue, and their supporting records.

The package implements the Store interface using BoltDB (bbolt) as the
underlying database. Every stored value is serialized as JSON and sealed with
AES-256-GCM through a security.Box before it reaches the file, so nothing in
the database is readable without the key.

# Architecture

	┌──────────────────── ENCRYPTED BOLTDB ────────────────────┐
	│                                                           │
	│  File: <dataDir>/m365-cache.db  (mode 0600)               │
	│                                                           │
	│  ┌─────────────────────────────────────────────┐         │
	│  │            Bucket Structure                  │         │
	│  │  cache_entries       entry metadata by key   │         │
	│  │  cache_payloads      payload bytes by key    │         │
	│  │  cache_tasks         tasks by UUID           │         │
	│  │  cache_invalidation  audit rows by sequence  │         │
	│  │  cache_stats         running totals row      │         │
	│  │  account_classes     class records by account│         │
	│  │  schema_version      key check + migrations  │         │
	│  └─────────────────────────────────────────────┘         │
	│                                                           │
	│  Reads:  db.View()   - concurrent                         │
	│  Writes: db.Update() - serialized, fsync on commit        │
	│  Values: JSON → AES-256-GCM seal → bucket                 │
	└───────────────────────────────────────────────────────────┘

Entry metadata and payload bytes live in separate buckets. Scans over entries
(eviction candidates, stats breakdowns, pattern invalidation) decrypt only the
small metadata records; payloads are decrypted one at a time on read.

# Key Verification

The schema_version bucket holds a sealed sentinel under the "keycheck" key.
Open verifies the sentinel before anything else: a database created under a
different key fails with ErrWrongKey instead of producing garbage reads later.
The first Open of a fresh database writes the sentinel and the initial schema
version row.

# Running Totals

The cache_stats bucket carries one totals row (entry count, stored bytes,
hits, misses) updated inside the same transaction as every entry write,
delete, touch, and recorded miss. Totals therefore never drift from the
entries bucket and the capacity check never needs a full scan.

# Eviction

EvictEntries runs one capacity pass inside a single write transaction:

 1. Delete every entry past its expiry horizon (and any unreadable row)
 2. If stored bytes still exceed the target, collect remaining entries,
    sort by accessed_at ascending, and delete oldest-first until under target

Readers never observe a partially evicted state.

# Task Selection

NextQueuedTask scans the tasks bucket and returns the queued task with the
lowest priority value, breaking ties by created_at. The scan is linear; queue
depth for one user's background operations stays far below the point where an
index would pay for itself.

# Usage Example

	box, _ := security.NewBox(key)
	store, err := storage.Open(dataDir, box)
	if err != nil {
		if errors.Is(err, storage.ErrWrongKey) {
			// the database belongs to a different key
		}
		return err
	}
	defer store.Close()

	entry, err := store.GetEntry("email_list:a@example.com:1f2e3d4c")
	if entry == nil && err == nil {
		// cache miss
	}
*/
package storage
