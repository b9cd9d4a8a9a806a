// Package diffstore persists computed changesets in badger so that a
// restarted server does not recompute every diff.
package diffstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const defaultPrefix = "changes"

// Store is a key-value store of JSON values keyed by an (older, newer)
// content id pair. Values are zstd-compressed above a size threshold.
type Store struct {
	db     *badger.DB
	prefix string
	codec  *codec
	owned  bool
}

// Open opens a badger database at path. An empty path opens an in-memory
// database.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening diff store: %w", err)
	}
	s, err := New(db, defaultPrefix, DefaultCompressionOptions())
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an existing database. Close does not close db.
func New(db *badger.DB, prefix string, copts CompressionOptions) (*Store, error) {
	c, err := newCodec(copts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, prefix: prefix, codec: c}, nil
}

func (s *Store) makeKey(older, newer string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", s.prefix, older, newer))
}

// Get decodes the value stored for (older, newer) into v. It reports
// false if nothing is stored.
func (s *Store) Get(older, newer string, v any) (bool, error) {
	key := s.makeKey(older, newer)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data, err := s.codec.decompress(val)
			if err != nil {
				return err
			}
			return json.Unmarshal(data, v)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s..%s: %w", older, newer, err)
	}
	return true, nil
}

// Put stores v for (older, newer), replacing any previous value.
func (s *Store) Put(older, newer string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling value: %w", err)
	}

	key := s.makeKey(older, newer)
	val := s.codec.compress(data)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// Count returns the number of stored pairs.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(s.prefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
