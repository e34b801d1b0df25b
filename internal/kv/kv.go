// Package kv defines the uniform key-value contract the index is built on.
// Every engine exposes ordered prefix scans, exact lookups, and transactional
// writes; one writer runs at a time per store. What concurrent readers see
// while a writer commits differs per engine (see Isolation) and the rest of
// the system must not assume more than the weakest level.
package kv

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store or finished txn.
var ErrClosed = errors.New("store closed")

// Isolation describes what concurrent readers observe during a write
// transaction.
type Isolation int

const (
	// IsolationSnapshot: readers see the pre-transaction state until commit.
	IsolationSnapshot Isolation = iota
	// IsolationBlocking: readers block while a writer commits.
	IsolationBlocking
)

func (i Isolation) String() string {
	if i == IsolationSnapshot {
		return "snapshot"
	}
	return "blocking"
}

// TransactionError reports a failed write transaction. The store is left in
// its pre-transaction state; the operation can be retried.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Cursor iterates scan results in raw key byte order.
type Cursor interface {
	// Next returns the next pair, or ok=false when exhausted.
	Next() (key, value []byte, ok bool, err error)
	Close() error
}

// Txn is one transaction. Read-only transactions ignore Commit. Every Txn
// must end with exactly one Commit or Rollback.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Scan iterates all keys with the given prefix in ascending byte order.
	// A nil prefix scans everything.
	Scan(prefix []byte) (Cursor, error)
	Commit() error
	Rollback() error
}

// Store is one open backend instance.
type Store interface {
	// Begin starts a transaction. Write transactions are serialized by the
	// store; Begin(true) blocks until the writer slot is free.
	Begin(writable bool) (Txn, error)
	Isolation() Isolation
	Close() error
}

// Config selects and configures an engine.
type Config struct {
	// Engine is one of "memory", "sqlite", "segment".
	Engine string
	// Path is the database file (sqlite) or directory (segment). Unused by
	// the memory engine.
	Path string
}

// openFuncs is populated by engine packages via Register.
var openFuncs = map[string]func(Config) (Store, error){}

// Register installs an engine constructor. Engine packages call this from
// init; importing an engine package makes it selectable.
func Register(name string, open func(Config) (Store, error)) {
	openFuncs[name] = open
}

// Open creates a Store for cfg.Engine.
func Open(cfg Config) (Store, error) {
	open, ok := openFuncs[cfg.Engine]
	if !ok {
		return nil, fmt.Errorf("unknown kv engine %q", cfg.Engine)
	}
	return open(cfg)
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists (all-0xFF prefix).
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// View runs fn in a read-only transaction.
func View(s Store, fn func(Txn) error) error {
	txn, err := s.Begin(false)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	return fn(txn)
}

// Update runs fn in a write transaction, committing on success and rolling
// back on error.
func Update(s Store, fn func(Txn) error) error {
	txn, err := s.Begin(true)
	if err != nil {
		return &TransactionError{Op: "begin", Err: err}
	}
	if err := fn(txn); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.Commit(); err != nil {
		txn.Rollback()
		return &TransactionError{Op: "commit", Err: err}
	}
	return nil
}
