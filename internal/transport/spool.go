// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const spoolPrefix = "flush:"

// Spool is the on-disk holding area for segments the endpoint refused.
// Entries are keyed by a monotonic sequence so iteration preserves send
// order.
type Spool struct {
	db  *badger.DB
	seq *badger.Sequence
}

// SpoolEntry is one parked segment body with the key needed to delete it
// after redelivery.
type SpoolEntry struct {
	Key  []byte
	Body []byte
}

// OpenSpool opens (or creates) the spool database at path.
func OpenSpool(path string) (*Spool, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("transport: open spool: %w", err)
	}
	seq, err := db.GetSequence([]byte("spool-seq"), 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("transport: spool sequence: %w", err)
	}
	return &Spool{db: db, seq: seq}, nil
}

// Close releases the sequence and the database.
func (s *Spool) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

// Put parks one serialized segment.
func (s *Spool) Put(body []byte) error {
	n, err := s.seq.Next()
	if err != nil {
		return err
	}
	key := []byte(fmt.Sprintf("%s%016x", spoolPrefix, n))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, body)
	})
}

// Oldest returns up to max entries in insertion order.
func (s *Spool) Oldest(max int) ([]SpoolEntry, error) {
	var out []SpoolEntry
	prefix := []byte(spoolPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < max; it.Next() {
			item := it.Item()
			body, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, SpoolEntry{Key: item.KeyCopy(nil), Body: body})
		}
		return nil
	})
	return out, err
}

// Delete removes a redelivered entry.
func (s *Spool) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Depth counts parked entries.
func (s *Spool) Depth() (int, error) {
	count := 0
	prefix := []byte(spoolPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
