package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/kv/kvtest"
)

func TestStoreContract(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s, err := kv.Open(kv.Config{
			Engine: "sqlite",
			Path:   filepath.Join(t.TempDir(), "kv.db"),
		})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return s
	})
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = kv.Update(s, func(txn kv.Txn) error {
		return txn.Put([]byte("persist"), []byte("yes"))
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err = s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	var got []byte
	err = kv.View(s, func(txn kv.Txn) error {
		v, err := txn.Get([]byte("persist"))
		got = v
		return err
	})
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(got) != "yes" {
		t.Fatalf("got %q, want %q", got, "yes")
	}
}

func TestGetMissingAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	err = kv.View(s, func(txn kv.Txn) error {
		_, err := txn.Get([]byte("missing"))
		return err
	})
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
