package index

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/game"
	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/kv/memory"
	"github.com/freeeve/chessdex/internal/poskey"
)

func newIndexer(t *testing.T) (*Indexer, kv.Store) {
	t.Helper()
	s, err := memory.New()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err = EnsureSchema(s); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return New(s, zerolog.Nop()), s
}

// 1. e4 e5 2. Nf3
var openingMoves = []board.Move{
	{From: board.Sq(4, 1), To: board.Sq(4, 3)},
	{From: board.Sq(4, 6), To: board.Sq(4, 4)},
	{From: board.Sq(6, 0), To: board.Sq(5, 2)},
}

func openingRecord() *game.Record {
	return &game.Record{
		Event:    "Test Event",
		White:    "White Player",
		Black:    "Black Player",
		Result:   "*",
		Movetext: "1. e4 e5 2. Nf3 *",
		Moves:    openingMoves,
		PlyCount: len(openingMoves),
	}
}

func countPrefix(t *testing.T, s kv.Store, prefix []byte) int {
	t.Helper()
	n := 0
	err := kv.View(s, func(txn kv.Txn) error {
		cur, err := txn.Scan(prefix)
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
			_, _, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			n++
		}
	})
	if err != nil {
		t.Fatalf("count prefix %x: %v", prefix, err)
	}
	return n
}

func TestInsertAssignsSequentialIDs(t *testing.T) {
	ix, _ := newIndexer(t)
	ctx := context.Background()
	for want := uint64(1); want <= 3; want++ {
		rec := openingRecord()
		if err := ix.Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if rec.ID != want {
			t.Fatalf("got id %d, want %d", rec.ID, want)
		}
	}
}

func TestInsertIndexesEveryPly(t *testing.T) {
	ix, s := newIndexer(t)
	rec := openingRecord()
	if err := ix.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// plies 0..3 inclusive
	wantPlies := len(openingMoves) + 1
	if n := countPrefix(t, s, poskey.TablePrefix(poskey.TablePosition)); n != wantPlies {
		t.Errorf("position entries: got %d, want %d", n, wantPlies)
	}
	if n := countPrefix(t, s, poskey.TablePrefix(poskey.TableMaterial)); n != wantPlies {
		t.Errorf("material entries: got %d, want %d", n, wantPlies)
	}
	if n := countPrefix(t, s, poskey.TablePrefix(poskey.TableState)); n != wantPlies {
		t.Errorf("state entries: got %d, want %d", n, wantPlies)
	}
	if n := countPrefix(t, s, poskey.PlyStatePrefix(rec.ID)); n != wantPlies {
		t.Errorf("ply state records: got %d, want %d", n, wantPlies)
	}
	// 32 pieces on each of the 4 boards
	if n := countPrefix(t, s, poskey.TablePrefix(poskey.TablePieceSquare)); n != 32*wantPlies {
		t.Errorf("piece-square entries: got %d, want %d", n, 32*wantPlies)
	}
}

func TestDeleteRemovesAllEntries(t *testing.T) {
	ix, s := newIndexer(t)
	ctx := context.Background()
	rec := openingRecord()
	if err := ix.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ix.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, table := range []poskey.Table{
		poskey.TablePosition, poskey.TablePieceSquare,
		poskey.TableMaterial, poskey.TableState, poskey.TableGame,
	} {
		if n := countPrefix(t, s, poskey.TablePrefix(table)); n != 0 {
			t.Errorf("table %#x: %d entries left after delete", byte(table), n)
		}
	}
	if n := countPrefix(t, s, poskey.PlyStatePrefix(rec.ID)); n != 0 {
		t.Error("ply state records left after delete")
	}
	if _, err := ix.Get(rec.ID); !errors.Is(err, ErrNoGame) {
		t.Fatalf("got %v, want ErrNoGame", err)
	}
}

func TestDeleteMissing(t *testing.T) {
	ix, _ := newIndexer(t)
	if err := ix.Delete(context.Background(), 42); !errors.Is(err, ErrNoGame) {
		t.Fatalf("got %v, want ErrNoGame", err)
	}
}

func TestUpdateReplacesEntries(t *testing.T) {
	ix, s := newIndexer(t)
	ctx := context.Background()
	rec := openingRecord()
	if err := ix.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// shorten the game to one move
	rec.Moves = openingMoves[:1]
	rec.PlyCount = 1
	rec.Movetext = "1. e4 *"
	if err := ix.Update(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	if n := countPrefix(t, s, poskey.TablePrefix(poskey.TablePosition)); n != 2 {
		t.Errorf("position entries after update: got %d, want 2", n)
	}
	got, err := ix.Get(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PlyCount != 1 || len(got.Moves) != 1 {
		t.Fatalf("record not replaced: %+v", got)
	}
}

func TestRepertoireRouting(t *testing.T) {
	ix, s := newIndexer(t)
	rec := openingRecord()
	rec.Repertoire = true
	if err := ix.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if n := countPrefix(t, s, poskey.TablePrefix(poskey.TablePosition)); n != 0 {
		t.Errorf("repertoire game left %d entries in the games namespace", n)
	}
	wantPlies := len(openingMoves) + 1
	if n := countPrefix(t, s, poskey.TablePrefix(poskey.TableRepPosition)); n != wantPlies {
		t.Errorf("repertoire position entries: got %d, want %d", n, wantPlies)
	}
}

func TestEnsureSchemaRejectsMismatch(t *testing.T) {
	s, err := memory.New()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	err = kv.Update(s, func(txn kv.Txn) error {
		return txn.Put(poskey.MetaSchemaKey, []byte{99})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err = EnsureSchema(s); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("got %v, want ErrSchemaMismatch", err)
	}
}

func TestInsertHonorsCancellation(t *testing.T) {
	ix, _ := newIndexer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ix.Insert(ctx, openingRecord()); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestInsertDerivesFromStartFEN(t *testing.T) {
	ix, s := newIndexer(t)

	// Position after 1. e4 e5 2. Nf3; 2... Nc6
	const fen = "rnbqkbnr/pppp1ppp/8/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R b KQkq - 1 2"
	rec := &game.Record{
		White:    "White Player",
		Black:    "Black Player",
		Result:   "*",
		StartFEN: fen,
		Moves:    []board.Move{{From: board.Sq(1, 7), To: board.Sq(2, 5)}},
		PlyCount: 1,
	}
	if err := ix.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	start, err := board.FromFEN(fen)
	if err != nil {
		t.Fatal(err)
	}
	full, err := poskey.EncodeFull(start)
	if err != nil {
		t.Fatal(err)
	}
	ref := poskey.EntryRef{Game: rec.ID, Ply: 0}
	key := poskey.PositionEntryKey(poskey.Games().Position, full, ref)
	err = kv.View(s, func(txn kv.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err != nil {
		t.Fatalf("ply 0 not indexed at the FEN position: %v", err)
	}
}
