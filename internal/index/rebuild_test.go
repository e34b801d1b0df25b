package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/poskey"
)

func TestRebuildRestoresDroppedIndex(t *testing.T) {
	ix, s := newIndexer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := ix.Insert(ctx, openingRecord()); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	wantPos := countPrefix(t, s, poskey.TablePrefix(poskey.TablePosition))

	// wreck the index tables, keeping the game records
	err := kv.Update(s, func(txn kv.Txn) error {
		cur, err := txn.Scan(poskey.TablePrefix(poskey.TablePosition))
		if err != nil {
			return err
		}
		var keys [][]byte
		for {
			k, _, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			keys = append(keys, append([]byte(nil), k...))
		}
		cur.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("wreck index: %v", err)
	}

	if err = ix.Rebuild(ctx, t.TempDir()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := countPrefix(t, s, poskey.TablePrefix(poskey.TablePosition)); got != wantPos {
		t.Fatalf("position entries after rebuild: got %d, want %d", got, wantPos)
	}
}

func TestRebuildRefusesHeldLock(t *testing.T) {
	ix, _ := newIndexer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, lockFileName)
	if err := os.WriteFile(path, []byte("pid=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ix.Rebuild(context.Background(), dir); err == nil {
		t.Fatal("rebuild ran despite held lock")
	}
	if !Locked(dir) {
		t.Fatal("foreign lock file removed")
	}
}

func TestRebuildReleasesLock(t *testing.T) {
	ix, _ := newIndexer(t)
	dir := t.TempDir()
	if err := ix.Rebuild(context.Background(), dir); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if Locked(dir) {
		t.Fatal("lock file left behind")
	}
}
