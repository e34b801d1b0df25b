// Package sqlite is the SQLite kv engine. Keys and values live in a single
// WITHOUT ROWID table whose BLOB primary key gives raw byte ordering for
// scans. WAL mode is enabled so concurrent readers see the pre-transaction
// state while a writer commits (snapshot isolation).
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/freeeve/chessdex/internal/kv"
)

func init() {
	kv.Register("sqlite", func(cfg kv.Config) (kv.Store, error) {
		return Open(cfg.Path)
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	k BLOB PRIMARY KEY,
	v BLOB NOT NULL
) WITHOUT ROWID;
`

// Store is a SQLite-backed kv store.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex // one write transaction at a time
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Begin(writable bool) (kv.Txn, error) {
	if writable {
		s.writeMu.Lock()
	}
	tx, err := s.db.Begin()
	if err != nil {
		if writable {
			s.writeMu.Unlock()
		}
		return nil, err
	}
	return &txn{store: s, tx: tx, writable: writable}, nil
}

func (s *Store) Isolation() kv.Isolation {
	return kv.IsolationSnapshot
}

func (s *Store) Close() error {
	return s.db.Close()
}

type txn struct {
	store    *Store
	tx       *sql.Tx
	writable bool
	done     bool
}

func (t *txn) finish() {
	t.done = true
	if t.writable {
		t.store.writeMu.Unlock()
	}
}

func (t *txn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrClosed
	}
	var value []byte
	err := t.tx.QueryRow("SELECT v FROM kv WHERE k = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (t *txn) Put(key, value []byte) error {
	if t.done {
		return kv.ErrClosed
	}
	if !t.writable {
		return fmt.Errorf("sqlite: put in read-only transaction")
	}
	_, err := t.tx.Exec(
		"INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v",
		key, value)
	return err
}

func (t *txn) Delete(key []byte) error {
	if t.done {
		return kv.ErrClosed
	}
	if !t.writable {
		return fmt.Errorf("sqlite: delete in read-only transaction")
	}
	_, err := t.tx.Exec("DELETE FROM kv WHERE k = ?", key)
	return err
}

// Scan materializes the matching rows up front: database/sql supports only
// one active query per transaction, and callers interleave Gets with cursor
// iteration.
func (t *txn) Scan(prefix []byte) (kv.Cursor, error) {
	if t.done {
		return nil, kv.ErrClosed
	}
	var rows *sql.Rows
	var err error
	if len(prefix) == 0 {
		rows, err = t.tx.Query("SELECT k, v FROM kv ORDER BY k")
	} else if end := kv.PrefixEnd(prefix); end != nil {
		rows, err = t.tx.Query(
			"SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k", prefix, end)
	} else {
		rows, err = t.tx.Query("SELECT k, v FROM kv WHERE k >= ? ORDER BY k", prefix)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	c := &cursor{}
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		c.keys = append(c.keys, k)
		c.values = append(c.values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *txn) Commit() error {
	if t.done {
		return kv.ErrClosed
	}
	err := t.tx.Commit()
	t.finish()
	return err
}

func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	err := t.tx.Rollback()
	t.finish()
	return err
}

type cursor struct {
	keys   [][]byte
	values [][]byte
	pos    int
}

func (c *cursor) Next() (key, value []byte, ok bool, err error) {
	if c.pos >= len(c.keys) {
		return nil, nil, false, nil
	}
	k, v := c.keys[c.pos], c.values[c.pos]
	c.pos++
	return k, v, true, nil
}

func (c *cursor) Close() error { return nil }
