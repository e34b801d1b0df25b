// Package kvtest runs the engine-independent storage contract against an
// engine. Each engine package calls Run from its own tests.
package kvtest

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/freeeve/chessdex/internal/kv"
)

// Run exercises the kv.Store contract. open must return a fresh, empty
// store per call; Run closes each store it opens.
func Run(t *testing.T, open func(t *testing.T) kv.Store) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, open(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, open(t)) })
	t.Run("ScanOrder", func(t *testing.T) { testScanOrder(t, open(t)) })
	t.Run("ScanPrefix", func(t *testing.T) { testScanPrefix(t, open(t)) })
	t.Run("StagedVisibility", func(t *testing.T) { testStagedVisibility(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("DeleteThenScan", func(t *testing.T) { testDeleteThenScan(t, open(t)) })
	t.Run("ReadOnlyRejectsWrites", func(t *testing.T) { testReadOnly(t, open(t)) })
}

func put(t *testing.T, s kv.Store, key, value string) {
	t.Helper()
	err := kv.Update(s, func(txn kv.Txn) error {
		return txn.Put([]byte(key), []byte(value))
	})
	if err != nil {
		t.Fatalf("put %q: %v", key, err)
	}
}

func get(t *testing.T, s kv.Store, key string) ([]byte, error) {
	t.Helper()
	var out []byte
	err := kv.View(s, func(txn kv.Txn) error {
		v, err := txn.Get([]byte(key))
		out = v
		return err
	})
	return out, err
}

func scanKeys(t *testing.T, s kv.Store, prefix string) []string {
	t.Helper()
	var keys []string
	err := kv.View(s, func(txn kv.Txn) error {
		cur, err := txn.Scan([]byte(prefix))
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
			k, _, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			keys = append(keys, string(k))
		}
	})
	if err != nil {
		t.Fatalf("scan %q: %v", prefix, err)
	}
	return keys
}

func testPutGet(t *testing.T, s kv.Store) {
	defer s.Close()
	put(t, s, "alpha", "1")
	v, err := get(t, s, "alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(v, []byte("1")) {
		t.Fatalf("got %q, want %q", v, "1")
	}
}

func testGetMissing(t *testing.T, s kv.Store) {
	defer s.Close()
	_, err := get(t, s, "nope")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func testDelete(t *testing.T, s kv.Store) {
	defer s.Close()
	put(t, s, "alpha", "1")
	err := kv.Update(s, func(txn kv.Txn) error {
		return txn.Delete([]byte("alpha"))
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err = get(t, s, "alpha"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("got %v after delete, want ErrNotFound", err)
	}
	// deleting a missing key is not an error
	err = kv.Update(s, func(txn kv.Txn) error {
		return txn.Delete([]byte("ghost"))
	})
	if err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func testOverwrite(t *testing.T, s kv.Store) {
	defer s.Close()
	put(t, s, "alpha", "1")
	put(t, s, "alpha", "2")
	v, err := get(t, s, "alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "2" {
		t.Fatalf("got %q, want %q", v, "2")
	}
}

func testScanOrder(t *testing.T, s kv.Store) {
	defer s.Close()
	for _, k := range []string{"c", "a", "b", "aa"} {
		put(t, s, k, "x")
	}
	got := scanKeys(t, s, "")
	want := []string{"a", "aa", "b", "c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func testScanPrefix(t *testing.T, s kv.Store) {
	defer s.Close()
	for _, k := range []string{"p1", "p2", "q1", "p", "pz"} {
		put(t, s, k, "x")
	}
	got := scanKeys(t, s, "p")
	want := []string{"p", "p1", "p2", "pz"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got := scanKeys(t, s, "zz"); len(got) != 0 {
		t.Fatalf("scan of absent prefix returned %v", got)
	}
}

func testStagedVisibility(t *testing.T, s kv.Store) {
	defer s.Close()
	txn, err := s.Begin(true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err = txn.Put([]byte("staged"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	// visible inside the transaction
	v, err := txn.Get([]byte("staged"))
	if err != nil {
		t.Fatalf("get staged: %v", err)
	}
	if string(v) != "v" {
		t.Fatalf("got %q, want %q", v, "v")
	}
	cur, err := txn.Scan([]byte("stag"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	k, _, ok, err := cur.Next()
	if err != nil || !ok || string(k) != "staged" {
		t.Fatalf("scan inside txn: key=%q ok=%v err=%v", k, ok, err)
	}
	cur.Close()
	if err = txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err = get(t, s, "staged"); err != nil {
		t.Fatalf("get after commit: %v", err)
	}
}

func testRollback(t *testing.T, s kv.Store) {
	defer s.Close()
	put(t, s, "keep", "1")
	txn, err := s.Begin(true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err = txn.Put([]byte("discard"), []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err = txn.Delete([]byte("keep")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err = txn.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err = get(t, s, "discard"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("rolled back put is visible: %v", err)
	}
	if _, err = get(t, s, "keep"); err != nil {
		t.Fatalf("rolled back delete took effect: %v", err)
	}
}

func testDeleteThenScan(t *testing.T, s kv.Store) {
	defer s.Close()
	put(t, s, "a1", "x")
	put(t, s, "a2", "x")
	err := kv.Update(s, func(txn kv.Txn) error {
		return txn.Delete([]byte("a1"))
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	got := scanKeys(t, s, "a")
	if fmt.Sprint(got) != fmt.Sprint([]string{"a2"}) {
		t.Fatalf("got %v, want [a2]", got)
	}
}

func testReadOnly(t *testing.T, s kv.Store) {
	defer s.Close()
	txn, err := s.Begin(false)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer txn.Rollback()
	if err = txn.Put([]byte("k"), []byte("v")); err == nil {
		t.Fatal("put on read-only transaction succeeded")
	}
	if err = txn.Delete([]byte("k")); err == nil {
		t.Fatal("delete on read-only transaction succeeded")
	}
}
