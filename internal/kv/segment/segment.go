// Package segment implements the log-structured storage engine: committed
// write batches go to a CRC guarded journal, accumulate in a memtable and
// are flushed to sorted zstd compressed segment files. Readers are blocked
// while a commit applies, which is the weakest isolation the engines offer.
package segment

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/chessdex/internal/kv"
)

const (
	journalName = "journal.log"
	segSuffix   = ".cdx"

	defaultFlushBytes = 8 << 20
)

func init() {
	kv.Register("segment", func(cfg kv.Config) (kv.Store, error) {
		return Open(cfg.Path)
	})
}

// Store is a single-directory segment store. One write transaction runs at
// a time; reads take a shared lock and see the latest committed state.
type Store struct {
	dir     string
	journal *os.File

	enc *zstd.Encoder
	dec *zstd.Decoder

	// writeMu serializes write transactions from Begin to finish.
	writeMu sync.Mutex

	// mu guards memtable, tables and closed.
	mu     sync.RWMutex
	mem    *memtable
	tables []*tableFile // oldest first
	nextID int
	closed bool

	flushBytes int64
}

// Open opens (creating if needed) a segment store rooted at dir and
// replays any journaled batches left by a previous process.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("segment: path required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	s := &Store{
		dir:        dir,
		enc:        enc,
		dec:        dec,
		mem:        newMemtable(),
		flushBytes: defaultFlushBytes,
	}
	if err = s.loadTables(); err != nil {
		return nil, err
	}
	s.journal, err = os.OpenFile(filepath.Join(dir, journalName),
		os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err = replayJournal(s.journal, s.mem); err != nil {
		s.journal.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadTables() error {
	names, err := filepath.Glob(filepath.Join(s.dir, "*"+segSuffix))
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		t, err := readTableFile(name, s.dec)
		if err != nil {
			return err
		}
		s.tables = append(s.tables, t)
		base := strings.TrimSuffix(filepath.Base(name), segSuffix)
		var id int
		if _, err := fmt.Sscanf(base, "seg_%06d", &id); err == nil && id >= s.nextID {
			s.nextID = id + 1
		}
	}
	return nil
}

func (s *Store) Isolation() kv.Isolation { return kv.IsolationBlocking }

func (s *Store) Begin(writable bool) (kv.Txn, error) {
	if writable {
		s.writeMu.Lock()
		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			s.writeMu.Unlock()
			return nil, kv.ErrClosed
		}
		return &writeTxn{store: s, index: make(map[string]int)}, nil
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, kv.ErrClosed
	}
	return &readTxn{store: s}, nil
}

// Close flushes the memtable to a final segment and releases the journal.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.flushLocked(); err != nil {
		return err
	}
	err := s.journal.Close()
	s.enc.Close()
	s.dec.Close()
	return err
}

// get reads the newest visible value for key under the shared lock.
func (s *Store) get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kv.ErrClosed
	}
	if v, ok := s.mem.get(string(key)); ok {
		if v.tombstone {
			return nil, kv.ErrNotFound
		}
		return append([]byte(nil), v.value...), nil
	}
	for i := len(s.tables) - 1; i >= 0; i-- {
		if r, ok := s.tables[i].get(key); ok {
			if r.tombstone {
				return nil, kv.ErrNotFound
			}
			return append([]byte(nil), r.value...), nil
		}
	}
	return nil, kv.ErrNotFound
}

// scan materializes the merged, sorted view of every key with the given
// prefix. extra overlays staged ops from a write transaction.
func (s *Store) scan(prefix []byte, extra map[string]op) ([]record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kv.ErrClosed
	}
	merged := make(map[string]record)
	for _, t := range s.tables {
		lo := sort.Search(len(t.records), func(i int) bool {
			return bytes.Compare(t.records[i].key, prefix) >= 0
		})
		for i := lo; i < len(t.records) && bytes.HasPrefix(t.records[i].key, prefix); i++ {
			merged[string(t.records[i].key)] = t.records[i]
		}
	}
	for k, v := range s.mem.entries {
		if strings.HasPrefix(k, string(prefix)) {
			merged[k] = record{key: []byte(k), value: v.value, tombstone: v.tombstone}
		}
	}
	for k, o := range extra {
		if !strings.HasPrefix(k, string(prefix)) {
			continue
		}
		merged[k] = record{key: []byte(k), value: o.value, tombstone: o.kind == opDelete}
	}
	out := make([]record, 0, len(merged))
	for _, r := range merged {
		if !r.tombstone {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].key, out[j].key) < 0
	})
	return out, nil
}

// commit durably appends the batch to the journal, then applies it to the
// memtable while readers are held out. Called with writeMu held.
func (s *Store) commit(ops []op) error {
	if len(ops) == 0 {
		return nil
	}
	batch := encodeBatch(ops)
	if _, err := s.journal.Write(batch); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, o := range ops {
		switch o.kind {
		case opPut:
			s.mem.put(string(o.key), o.value)
		case opDelete:
			s.mem.delete(string(o.key))
		}
	}
	needFlush := s.mem.size() >= s.flushBytes
	var err error
	if needFlush {
		err = s.flushLocked()
	}
	s.mu.Unlock()
	return err
}

// flushLocked writes the memtable to a new segment file and resets the
// journal. Caller holds mu exclusively.
func (s *Store) flushLocked() error {
	recs := s.mem.flush()
	if len(recs) == 0 {
		return nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("seg_%06d%s", s.nextID, segSuffix))
	if err := writeTableFile(path, recs, s.enc); err != nil {
		return err
	}
	t, err := readTableFile(path, s.dec)
	if err != nil {
		return err
	}
	s.tables = append(s.tables, t)
	s.nextID++
	if err = s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 0)
	return err
}

// Compact merges all segments into one, dropping tombstones and shadowed
// versions. Blocks writers for the duration.
func (s *Store) Compact() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if len(s.tables) <= 1 {
		return nil
	}
	merged := make(map[string]record)
	for _, t := range s.tables {
		for _, r := range t.records {
			merged[string(r.key)] = r
		}
	}
	recs := make([]record, 0, len(merged))
	for _, r := range merged {
		if !r.tombstone {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return bytes.Compare(recs[i].key, recs[j].key) < 0
	})
	path := filepath.Join(s.dir, fmt.Sprintf("seg_%06d%s", s.nextID, segSuffix))
	if err := writeTableFile(path, recs, s.enc); err != nil {
		return err
	}
	t, err := readTableFile(path, s.dec)
	if err != nil {
		return err
	}
	old := s.tables
	s.tables = []*tableFile{t}
	s.nextID++
	for _, o := range old {
		os.Remove(o.path)
	}
	return nil
}

// writeTxn stages mutations until Commit. Later ops on the same key
// replace earlier ones.
type writeTxn struct {
	store *Store
	ops   []op
	index map[string]int
	done  bool
}

func (t *writeTxn) stage(o op) {
	if i, ok := t.index[string(o.key)]; ok {
		t.ops[i] = o
		return
	}
	t.index[string(o.key)] = len(t.ops)
	t.ops = append(t.ops, o)
}

func (t *writeTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrClosed
	}
	if i, ok := t.index[string(key)]; ok {
		o := t.ops[i]
		if o.kind == opDelete {
			return nil, kv.ErrNotFound
		}
		return append([]byte(nil), o.value...), nil
	}
	return t.store.get(key)
}

func (t *writeTxn) Put(key, value []byte) error {
	if t.done {
		return kv.ErrClosed
	}
	t.stage(op{
		kind:  opPut,
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

func (t *writeTxn) Delete(key []byte) error {
	if t.done {
		return kv.ErrClosed
	}
	t.stage(op{kind: opDelete, key: append([]byte(nil), key...)})
	return nil
}

func (t *writeTxn) Scan(prefix []byte) (kv.Cursor, error) {
	if t.done {
		return nil, kv.ErrClosed
	}
	extra := make(map[string]op, len(t.ops))
	for _, o := range t.ops {
		extra[string(o.key)] = o
	}
	recs, err := t.store.scan(prefix, extra)
	if err != nil {
		return nil, err
	}
	return &cursor{records: recs}, nil
}

func (t *writeTxn) Commit() error {
	if t.done {
		return kv.ErrClosed
	}
	t.done = true
	err := t.store.commit(t.ops)
	t.store.writeMu.Unlock()
	return err
}

func (t *writeTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.ops = nil
	t.store.writeMu.Unlock()
	return nil
}

// readTxn reads the latest committed state. It holds no lock between
// operations, so a concurrent commit becomes visible mid-transaction.
type readTxn struct {
	store *Store
	done  bool
}

func (t *readTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrClosed
	}
	return t.store.get(key)
}

func (t *readTxn) Put([]byte, []byte) error {
	return &kv.TransactionError{Op: "put", Err: fmt.Errorf("read-only transaction")}
}

func (t *readTxn) Delete([]byte) error {
	return &kv.TransactionError{Op: "delete", Err: fmt.Errorf("read-only transaction")}
}

func (t *readTxn) Scan(prefix []byte) (kv.Cursor, error) {
	if t.done {
		return nil, kv.ErrClosed
	}
	recs, err := t.store.scan(prefix, nil)
	if err != nil {
		return nil, err
	}
	return &cursor{records: recs}, nil
}

func (t *readTxn) Commit() error {
	t.done = true
	return nil
}

func (t *readTxn) Rollback() error {
	t.done = true
	return nil
}

type cursor struct {
	records []record
	pos     int
}

func (c *cursor) Next() ([]byte, []byte, bool, error) {
	if c.pos >= len(c.records) {
		return nil, nil, false, nil
	}
	r := c.records[c.pos]
	c.pos++
	return r.key, r.value, true, nil
}

func (c *cursor) Close() error { return nil }
