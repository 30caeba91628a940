// Package kv is the key/value layer all contract state is stored in.
//
// Contracts never see a *leveldb.DB directly. Mutations run against a Store
// bound to one leveldb transaction, queries against a read-only Store bound
// to a snapshot, so a query can never observe a half applied mutation.
package kv

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	ErrNotFound = leveldb.ErrNotFound
	ErrReadOnly = errors.New("store is read-only")
)

type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	// Iterate walks all keys starting with prefix in key order.
	// The caller must release the iterator.
	Iterate(prefix []byte) iterator.Iterator
}

type Store interface {
	Reader
	Put(key, value []byte) error
	Delete(key []byte) error
}

type txStore struct {
	tx *leveldb.Transaction
}

// NewTxStore binds a Store to an open transaction.
func NewTxStore(tx *leveldb.Transaction) Store {
	return &txStore{tx: tx}
}

func (s *txStore) Get(key []byte) ([]byte, error) { return s.tx.Get(key, nil) }

func (s *txStore) Has(key []byte) (bool, error) { return s.tx.Has(key, nil) }

func (s *txStore) Iterate(prefix []byte) iterator.Iterator {
	return s.tx.NewIterator(util.BytesPrefix(prefix), nil)
}

func (s *txStore) Put(key, value []byte) error { return s.tx.Put(key, value, nil) }

func (s *txStore) Delete(key []byte) error { return s.tx.Delete(key, nil) }

type snapshotStore struct {
	snap *leveldb.Snapshot
}

// NewSnapshotStore binds a read-only Store to a snapshot.
func NewSnapshotStore(snap *leveldb.Snapshot) Store {
	return &snapshotStore{snap: snap}
}

func (s *snapshotStore) Get(key []byte) ([]byte, error) { return s.snap.Get(key, nil) }

func (s *snapshotStore) Has(key []byte) (bool, error) { return s.snap.Has(key, nil) }

func (s *snapshotStore) Iterate(prefix []byte) iterator.Iterator {
	return s.snap.NewIterator(util.BytesPrefix(prefix), nil)
}

func (s *snapshotStore) Put([]byte, []byte) error { return ErrReadOnly }

func (s *snapshotStore) Delete([]byte) error { return ErrReadOnly }

// Update runs fn inside one transaction. The transaction is committed only
// if fn returns nil.
func Update(db *leveldb.DB, fn func(Store) error) error {
	tx, err := db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("opening transaction: %w", err)
	}
	if err := fn(NewTxStore(tx)); err != nil {
		tx.Discard()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// View runs fn against a snapshot of db.
func View(db *leveldb.DB, fn func(Store) error) error {
	snap, err := db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("taking snapshot: %w", err)
	}
	defer snap.Release()
	return fn(NewSnapshotStore(snap))
}

func Open(path string) (*leveldb.DB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{NoSync: false})
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", path, err)
	}
	return db, nil
}

// NewMemDB returns a database that lives only in memory.
func NewMemDB() (*leveldb.DB, error) {
	return leveldb.Open(storage.NewMemStorage(), nil)
}

// Key joins key parts. Parts are written as given, so fixed-width parts
// (addresses, U64) keep prefix iteration unambiguous.
func Key(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// U64 encodes v big endian, so numeric order matches key order.
func U64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// GetUint64 reads a big endian counter. A missing key reads as zero.
func GetUint64(r Reader, key []byte) (uint64, error) {
	data, err := r.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, err
	case len(data) != 8:
		return 0, fmt.Errorf("value of %q has %d bytes, expected 8", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// PutUint64 writes v, deleting the key when v is zero.
func PutUint64(s Store, key []byte, v uint64) error {
	if v == 0 {
		return s.Delete(key)
	}
	return s.Put(key, U64(v))
}

type dbReader struct {
	db *leveldb.DB
}

// NewDBReader reads the latest committed state of db directly. Successive
// reads may observe different commits, use View for a consistent view.
func NewDBReader(db *leveldb.DB) Reader {
	return &dbReader{db: db}
}

func (r *dbReader) Get(key []byte) ([]byte, error) { return r.db.Get(key, nil) }

func (r *dbReader) Has(key []byte) (bool, error) { return r.db.Has(key, nil) }

func (r *dbReader) Iterate(prefix []byte) iterator.Iterator {
	return r.db.NewIterator(util.BytesPrefix(prefix), nil)
}
