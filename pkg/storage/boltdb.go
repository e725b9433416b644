package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/m365mcp/m365-cache/pkg/metrics"
	"github.com/m365mcp/m365-cache/pkg/security"
	"github.com/m365mcp/m365-cache/pkg/types"
)

var (
	// Bucket names
	bucketEntries      = []byte("cache_entries")
	bucketPayloads     = []byte("cache_payloads")
	bucketTasks        = []byte("cache_tasks")
	bucketInvalidation = []byte("cache_invalidation")
	bucketStats        = []byte("cache_stats")
	bucketAccounts     = []byte("account_classes")
	bucketSchema       = []byte("schema_version")
)

var (
	// keyCheck is the sealed sentinel verified on every open. Opening the
	// database with the wrong encryption key fails before any table is read.
	keyCheckKey   = []byte("keycheck")
	keyCheckValue = []byte("m365-mcp-cache")

	totalsKey = []byte("totals")
)

// ErrWrongKey is returned when the database exists but was encrypted with a
// different key.
var ErrWrongKey = errors.New("storage: encryption key does not match database")

const schemaVersion = 1

// BoltStore implements Store using BoltDB. Every stored value is sealed with
// AES-256-GCM before it reaches the database file.
type BoltStore struct {
	db  *bolt.DB
	box *security.Box
}

// Open opens (or creates) the encrypted database under dataDir and runs the
// idempotent schema migration.
func Open(dataDir string, box *security.Box) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "m365-cache.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BoltStore{db: db, box: box}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEntries,
			bucketPayloads,
			bucketTasks,
			bucketInvalidation,
			bucketStats,
			bucketAccounts,
			bucketSchema,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		return s.migrate(tx)
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	metrics.RegisterComponent("storage", true, "")
	return s, nil
}

// migrate verifies the encryption key and records applied schema versions.
func (s *BoltStore) migrate(tx *bolt.Tx) error {
	schema := tx.Bucket(bucketSchema)

	if sealed := schema.Get(keyCheckKey); sealed != nil {
		plain, err := s.box.Open(sealed)
		if err != nil || string(plain) != string(keyCheckValue) {
			return ErrWrongKey
		}
	} else {
		sealed, err := s.box.Seal(keyCheckValue)
		if err != nil {
			return fmt.Errorf("failed to seal key check: %w", err)
		}
		if err := schema.Put(keyCheckKey, sealed); err != nil {
			return err
		}
	}

	versionKey := []byte(fmt.Sprintf("v%d", schemaVersion))
	if schema.Get(versionKey) != nil {
		return nil
	}

	record := &types.SchemaVersion{
		Version:     schemaVersion,
		Description: "initial schema",
		AppliedAt:   time.Now().UTC(),
	}
	sealed, err := s.seal(record)
	if err != nil {
		return err
	}
	return schema.Put(versionKey, sealed)
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// seal marshals v as JSON and encrypts it.
func (s *BoltStore) seal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return s.box.Seal(data)
}

// open decrypts data and unmarshals it into v.
func (s *BoltStore) open(data []byte, v any) error {
	plain, err := s.box.Open(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, v)
}

// readTotals loads the running counters within a transaction. A missing row
// yields zeroed totals.
func (s *BoltStore) readTotals(tx *bolt.Tx) (*types.CacheTotals, error) {
	totals := &types.CacheTotals{}
	data := tx.Bucket(bucketStats).Get(totalsKey)
	if data == nil {
		return totals, nil
	}
	if err := s.open(data, totals); err != nil {
		return nil, fmt.Errorf("failed to read totals: %w", err)
	}
	return totals, nil
}

func (s *BoltStore) writeTotals(tx *bolt.Tx, totals *types.CacheTotals) error {
	sealed, err := s.seal(totals)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketStats).Put(totalsKey, sealed)
}

// Cache entry operations

// PutEntry upserts entry metadata and payload in a single transaction and
// adjusts the running entry/byte counters.
func (s *BoltStore) PutEntry(entry *types.CacheEntry, payload []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		payloads := tx.Bucket(bucketPayloads)
		key := []byte(entry.Key)

		totals, err := s.readTotals(tx)
		if err != nil {
			return err
		}

		if existing := entries.Get(key); existing != nil {
			var old types.CacheEntry
			if err := s.open(existing, &old); err == nil {
				totals.Entries--
				totals.TotalBytes -= old.SizeBytes
			}
		}

		sealedMeta, err := s.seal(entry)
		if err != nil {
			return err
		}
		sealedPayload, err := s.box.Seal(payload)
		if err != nil {
			return err
		}

		if err := entries.Put(key, sealedMeta); err != nil {
			return err
		}
		if err := payloads.Put(key, sealedPayload); err != nil {
			return err
		}

		totals.Entries++
		totals.TotalBytes += entry.SizeBytes
		return s.writeTotals(tx, totals)
	})
}

// GetEntry returns the entry metadata, or nil when the key is absent.
func (s *BoltStore) GetEntry(key string) (*types.CacheEntry, error) {
	var entry *types.CacheEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(key))
		if data == nil {
			return nil
		}
		entry = &types.CacheEntry{}
		return s.open(data, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetPayload returns the decrypted payload bytes for a key.
func (s *BoltStore) GetPayload(key string) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPayloads).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("payload not found: %s", key)
		}
		plain, err := s.box.Open(data)
		if err != nil {
			return err
		}
		payload = plain
		return nil
	})
	return payload, err
}

// TouchEntry rewrites entry metadata after an access (accessed_at and
// hit_count are caller-updated) and bumps the hit counter.
func (s *BoltStore) TouchEntry(entry *types.CacheEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sealed, err := s.seal(entry)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketEntries).Put([]byte(entry.Key), sealed); err != nil {
			return err
		}

		totals, err := s.readTotals(tx)
		if err != nil {
			return err
		}
		totals.Hits++
		return s.writeTotals(tx, totals)
	})
}

// RecordMiss bumps the miss counter.
func (s *BoltStore) RecordMiss() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		totals, err := s.readTotals(tx)
		if err != nil {
			return err
		}
		totals.Misses++
		return s.writeTotals(tx, totals)
	})
}

// deleteEntryLocked removes one entry and its payload inside an open write
// transaction and adjusts totals.
func (s *BoltStore) deleteEntryLocked(tx *bolt.Tx, key []byte, totals *types.CacheTotals) error {
	entries := tx.Bucket(bucketEntries)

	if data := entries.Get(key); data != nil {
		var entry types.CacheEntry
		if err := s.open(data, &entry); err == nil {
			totals.Entries--
			totals.TotalBytes -= entry.SizeBytes
		}
	}

	if err := entries.Delete(key); err != nil {
		return err
	}
	return tx.Bucket(bucketPayloads).Delete(key)
}

// DeleteEntry removes one entry. Deleting an absent key is not an error.
func (s *BoltStore) DeleteEntry(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		totals, err := s.readTotals(tx)
		if err != nil {
			return err
		}
		if err := s.deleteEntryLocked(tx, []byte(key), totals); err != nil {
			return err
		}
		return s.writeTotals(tx, totals)
	})
}

// DeleteEntriesMatching removes all entries whose key satisfies match and
// returns how many were removed. One transaction per call.
func (s *BoltStore) DeleteEntriesMatching(match func(key string) bool) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		var matched [][]byte
		c := tx.Bucket(bucketEntries).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if match(string(k)) {
				key := make([]byte, len(k))
				copy(key, k)
				matched = append(matched, key)
			}
		}

		totals, err := s.readTotals(tx)
		if err != nil {
			return err
		}
		for _, key := range matched {
			if err := s.deleteEntryLocked(tx, key, totals); err != nil {
				return err
			}
			count++
		}
		return s.writeTotals(tx, totals)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteExpiredEntries removes every entry whose expires_at is before now.
func (s *BoltStore) DeleteExpiredEntries(now time.Time) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		n, totals, err := s.deleteExpiredLocked(tx, now)
		if err != nil {
			return err
		}
		count = n
		return s.writeTotals(tx, totals)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *BoltStore) deleteExpiredLocked(tx *bolt.Tx, now time.Time) (int, *types.CacheTotals, error) {
	var expired [][]byte
	c := tx.Bucket(bucketEntries).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var entry types.CacheEntry
		if err := s.open(v, &entry); err != nil {
			// Unreadable rows are reaped along with expired ones.
			key := make([]byte, len(k))
			copy(key, k)
			expired = append(expired, key)
			continue
		}
		if entry.ExpiresAt.Before(now) {
			key := make([]byte, len(k))
			copy(key, k)
			expired = append(expired, key)
		}
	}

	totals, err := s.readTotals(tx)
	if err != nil {
		return 0, nil, err
	}
	for _, key := range expired {
		if err := s.deleteEntryLocked(tx, key, totals); err != nil {
			return 0, nil, err
		}
	}
	return len(expired), totals, nil
}

// EvictEntries runs one capacity eviction pass in a single write transaction:
// expired entries go first, then least-recently-accessed entries until the
// stored total is at or below targetBytes.
func (s *BoltStore) EvictEntries(now time.Time, targetBytes int64) (int, int, error) {
	expired, evicted := 0, 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		n, totals, err := s.deleteExpiredLocked(tx, now)
		if err != nil {
			return err
		}
		expired = n

		if totals.TotalBytes > targetBytes {
			type candidate struct {
				key        []byte
				sizeBytes  int64
				accessedAt time.Time
			}
			var candidates []candidate

			c := tx.Bucket(bucketEntries).Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var entry types.CacheEntry
				if err := s.open(v, &entry); err != nil {
					continue
				}
				key := make([]byte, len(k))
				copy(key, k)
				candidates = append(candidates, candidate{key, entry.SizeBytes, entry.AccessedAt})
			}

			sort.Slice(candidates, func(i, j int) bool {
				return candidates[i].accessedAt.Before(candidates[j].accessedAt)
			})

			for _, cand := range candidates {
				if totals.TotalBytes <= targetBytes {
					break
				}
				if err := s.deleteEntryLocked(tx, cand.key, totals); err != nil {
					return err
				}
				evicted++
			}
		}

		return s.writeTotals(tx, totals)
	})
	if err != nil {
		return 0, 0, err
	}
	return expired, evicted, nil
}

// ForEachEntry iterates all entry metadata under one read transaction.
func (s *BoltStore) ForEachEntry(fn func(entry *types.CacheEntry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var entry types.CacheEntry
			if err := s.open(v, &entry); err != nil {
				return nil // skip unreadable rows during scans
			}
			return fn(&entry)
		})
	})
}

// Totals returns the running entry/byte/hit/miss counters.
func (s *BoltStore) Totals() (*types.CacheTotals, error) {
	var totals *types.CacheTotals
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := s.readTotals(tx)
		if err != nil {
			return err
		}
		totals = t
		return nil
	})
	return totals, err
}

// Task operations

func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sealed, err := s.seal(task)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTasks).Put([]byte(task.ID), sealed)
	})
}

// GetTask returns the task, or nil when the ID is unknown.
func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return nil
		}
		task = &types.Task{}
		return s.open(data, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *BoltStore) UpdateTask(task *types.Task) error {
	return s.CreateTask(task) // Same as create (upsert)
}

// NextQueuedTask returns the queued task with the lowest priority value,
// FIFO by created_at within a priority, or nil when the queue is empty.
func (s *BoltStore) NextQueuedTask() (*types.Task, error) {
	var next *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := s.open(v, &task); err != nil {
				return nil
			}
			if task.Status != types.TaskStatusQueued {
				return nil
			}
			if next == nil ||
				task.Priority < next.Priority ||
				(task.Priority == next.Priority && task.CreatedAt.Before(next.CreatedAt)) {
				t := task
				next = &t
			}
			return nil
		})
	})
	return next, err
}

// ListTasks returns tasks filtered by account and status (empty means any),
// newest first, capped at limit.
func (s *BoltStore) ListTasks(accountID string, status types.TaskStatus, limit int) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := s.open(v, &task); err != nil {
				return nil
			}
			if accountID != "" && task.AccountID != accountID {
				return nil
			}
			if status != "" && task.Status != status {
				return nil
			}
			t := task
			tasks = append(tasks, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// ReclaimRunningTasks resets running tasks started before olderThan back to
// queued, preserving their retry count. Used by the startup sweep.
func (s *BoltStore) ReclaimRunningTasks(olderThan time.Time) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)

		var stale []*types.Task
		err := b.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := s.open(v, &task); err != nil {
				return nil
			}
			if task.Status == types.TaskStatusRunning &&
				task.StartedAt != nil && task.StartedAt.Before(olderThan) {
				t := task
				stale = append(stale, &t)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, task := range stale {
			task.Status = types.TaskStatusQueued
			task.StartedAt = nil
			sealed, err := s.seal(task)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(task.ID), sealed); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Invalidation audit log

// AppendInvalidation writes one audit row with an auto-assigned sequence ID.
func (s *BoltStore) AppendInvalidation(rec *types.InvalidationRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInvalidation)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = seq

		sealed, err := s.seal(rec)
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, sealed)
	})
}

// ListInvalidations returns the newest audit rows, optionally filtered by
// account, capped at limit.
func (s *BoltStore) ListInvalidations(accountID string, limit int) ([]*types.InvalidationRecord, error) {
	var records []*types.InvalidationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketInvalidation).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec types.InvalidationRecord
			if err := s.open(v, &rec); err != nil {
				continue
			}
			if accountID != "" && rec.AccountID != accountID {
				continue
			}
			r := rec
			records = append(records, &r)
			if limit > 0 && len(records) >= limit {
				return nil
			}
		}
		return nil
	})
	return records, err
}

// Account class operations

// GetAccountClass returns the persisted class record, or nil on a miss.
func (s *BoltStore) GetAccountClass(accountID string) (*types.AccountClassRecord, error) {
	var rec *types.AccountClassRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get([]byte(accountID))
		if data == nil {
			return nil
		}
		rec = &types.AccountClassRecord{}
		return s.open(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BoltStore) PutAccountClass(rec *types.AccountClassRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sealed, err := s.seal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAccounts).Put([]byte(rec.AccountID), sealed)
	})
}
