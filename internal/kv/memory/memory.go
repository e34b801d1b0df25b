// Package memory is the in-memory kv engine, backed by hashicorp/go-memdb.
// Write transactions are MVCC: concurrent readers see the pre-transaction
// radix tree until commit, so the engine reports snapshot isolation. Data
// does not survive the process; the engine exists for tests and scratch
// databases.
package memory

import (
	"bytes"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/freeeve/chessdex/internal/kv"
)

func init() {
	kv.Register("memory", func(cfg kv.Config) (kv.Store, error) {
		return New()
	})
}

const tableKV = "kv"

type entry struct {
	Key   string
	Value []byte
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableKV: {
			Name: tableKV,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
	},
}

// Store is an in-memory kv store.
type Store struct {
	db     *memdb.MemDB
	closed bool
}

// New creates an empty in-memory store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Begin(writable bool) (kv.Txn, error) {
	if s.closed {
		return nil, kv.ErrClosed
	}
	return &txn{inner: s.db.Txn(writable)}, nil
}

func (s *Store) Isolation() kv.Isolation {
	return kv.IsolationSnapshot
}

func (s *Store) Close() error {
	s.closed = true
	return nil
}

type txn struct {
	inner *memdb.Txn
	done  bool
}

func (t *txn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrClosed
	}
	raw, err := t.inner.First(tableKV, "id", string(key))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, kv.ErrNotFound
	}
	return raw.(*entry).Value, nil
}

func (t *txn) Put(key, value []byte) error {
	if t.done {
		return kv.ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	return t.inner.Insert(tableKV, &entry{Key: string(key), Value: v})
}

func (t *txn) Delete(key []byte) error {
	if t.done {
		return kv.ErrClosed
	}
	err := t.inner.Delete(tableKV, &entry{Key: string(key)})
	if err == memdb.ErrNotFound {
		return nil
	}
	return err
}

func (t *txn) Scan(prefix []byte) (kv.Cursor, error) {
	if t.done {
		return nil, kv.ErrClosed
	}
	it, err := t.inner.Get(tableKV, "id_prefix", string(prefix))
	if err != nil {
		return nil, err
	}
	return &cursor{it: it, prefix: prefix}, nil
}

func (t *txn) Commit() error {
	if t.done {
		return kv.ErrClosed
	}
	t.done = true
	t.inner.Commit()
	return nil
}

func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.inner.Abort()
	return nil
}

type cursor struct {
	it     memdb.ResultIterator
	prefix []byte
}

func (c *cursor) Next() (key, value []byte, ok bool, err error) {
	raw := c.it.Next()
	if raw == nil {
		return nil, nil, false, nil
	}
	e := raw.(*entry)
	k := []byte(e.Key)
	if !bytes.HasPrefix(k, c.prefix) {
		return nil, nil, false, nil
	}
	return k, e.Value, true, nil
}

func (c *cursor) Close() error { return nil }
