package query

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/game"
	"github.com/freeeve/chessdex/internal/index"
	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/kv/memory"
	"github.com/freeeve/chessdex/internal/pattern"
	"github.com/freeeve/chessdex/internal/poskey"
)

func sq(s string) board.Square {
	v, err := board.ParseSquare(s)
	if err != nil {
		panic(err)
	}
	return v
}

func mv(from, to string) board.Move {
	return board.Move{From: sq(from), To: sq(to)}
}

func setup(t *testing.T) (*Evaluator, *index.Indexer, kv.Store) {
	t.Helper()
	s, err := memory.New()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err = index.EnsureSchema(s); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return New(s, zerolog.Nop()), index.New(s, zerolog.Nop()), s
}

func insert(t *testing.T, ix *index.Indexer, rec *game.Record) *game.Record {
	t.Helper()
	if err := ix.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return rec
}

func record(moves ...board.Move) *game.Record {
	return &game.Record{
		Event:    "Test",
		Result:   "*",
		Moves:    moves,
		PlyCount: len(moves),
	}
}

// 1. e4 e5 2. Nf3
func openingRecord() *game.Record {
	return record(mv("e2", "e4"), mv("e7", "e5"), mv("g1", "f3"))
}

func run(t *testing.T, ev *Evaluator, tree *pattern.Node, opts Options) []Match {
	t.Helper()
	matches, err := ev.Run(context.Background(), tree, opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return matches
}

func pliesOf(t *testing.T, matches []Match, id uint64) []int {
	t.Helper()
	for _, m := range matches {
		if m.Game.ID == id {
			return m.Plies
		}
	}
	return nil
}

func TestWhitePawnOnE4BlackToMove(t *testing.T) {
	ev, ix, _ := setup(t)
	rec := insert(t, ix, openingRecord())

	tree := pattern.And(
		pattern.SideToMove(board.Black),
		pattern.Piece(sq("e4"), board.White, board.Pawn),
	)
	matches := run(t, ev, tree, Options{})
	if len(matches) != 1 {
		t.Fatalf("got %d matching games, want 1", len(matches))
	}
	plies := pliesOf(t, matches, rec.ID)
	// black to move with the pawn on e4: after 1. e4 and after 2. Nf3
	want := []int{1, 3}
	if len(plies) != len(want) || plies[0] != want[0] || plies[1] != want[1] {
		t.Fatalf("got plies %v, want %v", plies, want)
	}
	if plies[0] != 1 {
		t.Fatalf("navigation target is ply %d, want 1", plies[0])
	}
}

func TestEmptyPatternMatchesEveryPly(t *testing.T) {
	ev, ix, _ := setup(t)
	a := insert(t, ix, openingRecord())
	b := insert(t, ix, record(mv("d2", "d4")))

	matches := run(t, ev, nil, Options{})
	if len(matches) != 2 {
		t.Fatalf("got %d games, want 2", len(matches))
	}
	if got := pliesOf(t, matches, a.ID); len(got) != a.PlyCount+1 {
		t.Errorf("game %d: got %d plies, want %d", a.ID, len(got), a.PlyCount+1)
	}
	if got := pliesOf(t, matches, b.ID); len(got) != b.PlyCount+1 {
		t.Errorf("game %d: got %d plies, want %d", b.ID, len(got), b.PlyCount+1)
	}
	// games come back in id order
	if matches[0].Game.ID != a.ID || matches[1].Game.ID != b.ID {
		t.Errorf("order: got %d, %d", matches[0].Game.ID, matches[1].Game.ID)
	}
}

func TestNoMatchesIsEmptyNotError(t *testing.T) {
	ev, ix, _ := setup(t)
	insert(t, ix, openingRecord())

	// black queen on e4 never happens in this game
	tree := pattern.Piece(sq("e4"), board.Black, board.Queen)
	matches := run(t, ev, tree, Options{})
	if len(matches) != 0 {
		t.Fatalf("got %d games, want 0", len(matches))
	}
}

func TestQueenCaptured(t *testing.T) {
	ev, ix, _ := setup(t)
	// 1. e4 d5 2. Qg4 Bxg4: the white queen leaves the board at ply 4
	rec := insert(t, ix, record(
		mv("e2", "e4"), mv("d7", "d5"), mv("d1", "g4"), mv("c8", "g4"),
	))
	keeper := insert(t, ix, openingRecord())

	tree := pattern.Count(board.Queen, board.White, 0, 0)
	matches := run(t, ev, tree, Options{})
	if len(matches) != 1 {
		t.Fatalf("got %d games, want 1", len(matches))
	}
	plies := pliesOf(t, matches, rec.ID)
	if len(plies) != 1 || plies[0] != 4 {
		t.Fatalf("got plies %v, want [4]", plies)
	}
	if got := pliesOf(t, matches, keeper.ID); got != nil {
		t.Fatalf("game with its queen matched: %v", got)
	}
}

func TestDeletionRemovesMatches(t *testing.T) {
	ev, ix, _ := setup(t)
	rec := insert(t, ix, openingRecord())

	tree := pattern.Piece(sq("f3"), board.White, board.Knight)
	if matches := run(t, ev, tree, Options{}); len(matches) != 1 {
		t.Fatalf("got %d games before delete, want 1", len(matches))
	}
	if err := ix.Delete(context.Background(), rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if matches := run(t, ev, tree, Options{}); len(matches) != 0 {
		t.Fatalf("deleted game still matches")
	}
}

func TestNotComplementsWithinScope(t *testing.T) {
	ev, ix, _ := setup(t)
	rec := insert(t, ix, openingRecord())

	// plies 1..2 where black is not to move: only ply 2
	tree := pattern.And(
		pattern.MoveRange(1, 2),
		pattern.Not(pattern.SideToMove(board.Black)),
	)
	matches := run(t, ev, tree, Options{})
	plies := pliesOf(t, matches, rec.ID)
	if len(plies) != 1 || plies[0] != 2 {
		t.Fatalf("got plies %v, want [2]", plies)
	}
}

func TestOrUnions(t *testing.T) {
	ev, ix, _ := setup(t)
	rec := insert(t, ix, openingRecord())

	// knight on f3 (ply 3) or pawn still on e2 (ply 0)
	tree := pattern.Or(
		pattern.Piece(sq("f3"), board.White, board.Knight),
		pattern.Piece(sq("e2"), board.White, board.Pawn),
	)
	matches := run(t, ev, tree, Options{})
	plies := pliesOf(t, matches, rec.ID)
	if len(plies) != 2 || plies[0] != 0 || plies[1] != 3 {
		t.Fatalf("got plies %v, want [0 3]", plies)
	}
}

func TestEmptySquareConstraint(t *testing.T) {
	ev, ix, _ := setup(t)
	rec := insert(t, ix, openingRecord())

	// e2 is vacated by the first move
	tree := pattern.Empty(sq("e2"))
	matches := run(t, ev, tree, Options{})
	plies := pliesOf(t, matches, rec.ID)
	want := []int{1, 2, 3}
	if len(plies) != len(want) {
		t.Fatalf("got plies %v, want %v", plies, want)
	}
	for i := range want {
		if plies[i] != want[i] {
			t.Fatalf("got plies %v, want %v", plies, want)
		}
	}
}

func TestEnPassantTarget(t *testing.T) {
	ev, ix, _ := setup(t)
	rec := insert(t, ix, openingRecord())

	tree := pattern.EnPassant(pattern.EPAtSquare, sq("e3"))
	matches := run(t, ev, tree, Options{})
	plies := pliesOf(t, matches, rec.ID)
	if len(plies) != 1 || plies[0] != 1 {
		t.Fatalf("got plies %v, want [1]", plies)
	}

	tree = pattern.EnPassant(pattern.EPNone, 0)
	matches = run(t, ev, tree, Options{})
	plies = pliesOf(t, matches, rec.ID)
	if len(plies) != 2 || plies[0] != 0 || plies[1] != 3 {
		t.Fatalf("got plies %v, want [0 3]", plies)
	}
}

func TestRepertoireSeparation(t *testing.T) {
	ev, ix, _ := setup(t)
	insert(t, ix, openingRecord())
	rep := openingRecord()
	rep.Repertoire = true
	insert(t, ix, rep)

	matches := run(t, ev, nil, Options{})
	if len(matches) != 1 || matches[0].Game.Repertoire {
		t.Fatalf("default query returned repertoire games: %d matches", len(matches))
	}

	matches = run(t, ev, nil, Options{Repertoire: true})
	if len(matches) != 1 || !matches[0].Game.Repertoire {
		t.Fatalf("repertoire query: %d matches", len(matches))
	}

	tree := pattern.Piece(sq("e4"), board.White, board.Pawn)
	matches = run(t, ev, tree, Options{Repertoire: true})
	if len(matches) != 1 {
		t.Fatalf("pattern against repertoire namespace: %d matches", len(matches))
	}
}

func TestOrderByDate(t *testing.T) {
	ev, ix, _ := setup(t)
	newer := openingRecord()
	newer.Date = "1999.01.01"
	insert(t, ix, newer)
	older := openingRecord()
	older.Date = "1953.09.01"
	insert(t, ix, older)

	matches := run(t, ev, nil, Options{OrderByDate: true})
	if len(matches) != 2 {
		t.Fatalf("got %d games, want 2", len(matches))
	}
	if matches[0].Game.Date != "1953.09.01" {
		t.Fatalf("got %s first, want 1953.09.01", matches[0].Game.Date)
	}
}

func TestCancellation(t *testing.T) {
	ev, ix, _ := setup(t)
	insert(t, ix, openingRecord())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ev.Run(ctx, pattern.SideToMove(board.White), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestInvalidPatternRejected(t *testing.T) {
	ev, _, _ := setup(t)
	var perr *pattern.PatternError
	_, err := ev.Run(context.Background(), pattern.And(), Options{})
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want *PatternError", err)
	}
}

// trackingStore counts table touches so tests can assert what a query read.
type trackingStore struct {
	kv.Store
	gameScans int
	gameGets  int
}

func (s *trackingStore) Begin(writable bool) (kv.Txn, error) {
	txn, err := s.Store.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &trackingTxn{Txn: txn, store: s}, nil
}

type trackingTxn struct {
	kv.Txn
	store *trackingStore
}

func (t *trackingTxn) Get(key []byte) ([]byte, error) {
	if len(key) > 0 && poskey.Table(key[0]) == poskey.TableGame {
		t.store.gameGets++
	}
	return t.Txn.Get(key)
}

func (t *trackingTxn) Scan(prefix []byte) (kv.Cursor, error) {
	if len(prefix) > 0 && poskey.Table(prefix[0]) == poskey.TableGame {
		t.store.gameScans++
	}
	return t.Txn.Scan(prefix)
}

func TestLeafQuerySkipsGameTableScan(t *testing.T) {
	_, ix, s := setup(t)
	matched := insert(t, ix, openingRecord())
	insert(t, ix, record(mv("d2", "d4"), mv("d7", "d5")))

	ts := &trackingStore{Store: s}
	ev := New(ts, zerolog.Nop())
	matches := run(t, ev, pattern.Piece(sq("e4"), board.White, board.Pawn), Options{})
	if len(matches) != 1 || matches[0].Game.ID != matched.ID {
		t.Fatalf("got %d matches, want the e4 game", len(matches))
	}
	if ts.gameScans != 0 {
		t.Errorf("leaf query scanned the game table %d times", ts.gameScans)
	}
	if ts.gameGets != 1 {
		t.Errorf("loaded %d game records, want only the matching one", ts.gameGets)
	}
}

func TestEmptyPatternStillBuildsUniverse(t *testing.T) {
	_, ix, s := setup(t)
	rec := insert(t, ix, openingRecord())

	ts := &trackingStore{Store: s}
	ev := New(ts, zerolog.Nop())
	matches := run(t, ev, nil, Options{})
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if got := pliesOf(t, matches, rec.ID); len(got) != rec.PlyCount+1 {
		t.Fatalf("got %d plies, want %d", len(got), rec.PlyCount+1)
	}
	if ts.gameScans == 0 {
		t.Error("expected the universe to come from a game table scan")
	}
}
