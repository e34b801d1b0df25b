package pattern

import (
	"errors"
	"reflect"
	"testing"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/kv/memory"
)

func newStore(t *testing.T) kv.Store {
	t.Helper()
	s, err := memory.New()
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	return s
}

func TestSaveLoadRemove(t *testing.T) {
	s := newStore(t)
	defer s.Close()

	tree := And(Piece(sq("e4"), board.White, board.Pawn), SideToMove(board.Black))
	if err := Save(s, "e4-reached", tree); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(s, "e4-reached")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got.Tree, tree) {
		t.Fatalf("loaded tree differs:\ngot  %+v\nwant %+v", got.Tree, tree)
	}

	if err = Remove(s, "e4-reached"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err = Load(s, "e4-reached"); !errors.Is(err, ErrNoPattern) {
		t.Fatalf("got %v after remove, want ErrNoPattern", err)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	s := newStore(t)
	defer s.Close()

	var perr *PatternError
	if err := Save(s, "bad", And()); !errors.As(err, &perr) {
		t.Fatalf("got %v, want *PatternError", err)
	}
	if err := Save(s, "", SideToMove(board.White)); !errors.As(err, &perr) {
		t.Fatalf("got %v for empty name, want *PatternError", err)
	}
}

func TestListSorted(t *testing.T) {
	s := newStore(t)
	defer s.Close()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := Save(s, name, SideToMove(board.White)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	names, err := List(s)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("got %v, want %v", names, want)
	}
}
