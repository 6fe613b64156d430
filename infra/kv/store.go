// Package kv is the pebble-backed metadata store written by registration
// commands. Every write is synced.
package kv

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// -------------------- Store --------------------

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// -------------------- API --------------------

// Put stores value under key.
func (s *Store) Put(key string, value []byte) error {
	return s.db.Set([]byte(key), value, pebble.Sync)
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) ([]byte, bool, error) {
	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	return bytes.Clone(val), true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

// -------------------- Scan --------------------

// Scan calls fn for every key with the given prefix, in key order.
func (s *Store) Scan(prefix string, fn func(key string, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(string(iter.Key()), bytes.Clone(iter.Value())); err != nil {
			return err
		}
	}
	return iter.Error()
}

// -------------------- Helpers --------------------

// MetadataKey namespaces a property of a data set.
func MetadataKey(code, property string) string {
	return fmt.Sprintf("dataset/%s/%s", code, property)
}

// MetadataPrefix is the key prefix shared by every property of a data set.
func MetadataPrefix(code string) string {
	return MetadataKey(code, "")
}

func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
