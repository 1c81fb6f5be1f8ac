package database

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds how often a read-modify-write is replayed after losing
// an optimistic commit to a concurrent transaction.
const maxConflictRetries = 64

// UpdateWithRetry runs fn in a read-write transaction and replays it while badger
// reports a write conflict. fn sees a fresh snapshot on every attempt, so a replay
// observes whatever the winning transaction committed.
func UpdateWithRetry(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("database.UpdateWithRetry: giving up after %d conflicts: %w", maxConflictRetries, err)
}

// Key builds a composite key under prefix. Each part is preceded by its uvarint
// length, so ids containing any byte (separators included) cannot make two
// different tuples share a key.
func Key(prefix string, parts ...string) []byte {
	key := make([]byte, 0, len(prefix)+8*len(parts))
	key = append(key, prefix...)
	for _, p := range parts {
		key = binary.AppendUvarint(key, uint64(len(p)))
		key = append(key, p...)
	}
	return key
}

// GetJSON decodes the value at key into out. It returns badger.ErrKeyNotFound untouched.
func GetJSON(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// SetJSON encodes v and stores it at key.
func SetJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// Exists reports whether key is present in the transaction's snapshot.
func Exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ScanJSON decodes every value under prefix and hands it to fn.
func ScanJSON[T any](txn *badger.Txn, prefix []byte, fn func(*T) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var v T
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return err
		}
		if err := fn(&v); err != nil {
			return err
		}
	}
	return nil
}
