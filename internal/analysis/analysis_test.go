package analysis

import (
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
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLineCodecRoundTrip(t *testing.T) {
	want := Line{
		Depth: 24,
		Score: -137,
		PV:    []string{"e2e4", "c7c5", "g1f3"},
	}
	got, err := DecodeLine(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLineCodecMate(t *testing.T) {
	want := Line{Depth: 30, Score: 4, Mate: true}
	got, err := DecodeLine(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Mate || got.Score != 4 || got.PV != nil {
		t.Fatalf("got %+v", got)
	}
}

func TestPutLookupPerEngine(t *testing.T) {
	s := newStore(t)
	b := board.Initial()

	first := Line{Engine: "stockfish-16", Depth: 20, Score: 31}
	second := Line{Engine: "lc0", Depth: 12, Score: 25}
	if err := Put(s, b, first); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := Put(s, b, second); err != nil {
		t.Fatalf("put: %v", err)
	}

	lines, err := Lookup(s, b)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	byEngine := map[string]Line{}
	for _, l := range lines {
		byEngine[l.Engine] = l
	}
	if byEngine["stockfish-16"].Score != 31 || byEngine["lc0"].Score != 25 {
		t.Fatalf("lines %+v", byEngine)
	}
}

func TestPutReplacesSameEngine(t *testing.T) {
	s := newStore(t)
	b := board.Initial()

	if err := Put(s, b, Line{Engine: "sf", Depth: 10, Score: 50}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := Put(s, b, Line{Engine: "sf", Depth: 20, Score: 42}); err != nil {
		t.Fatalf("put: %v", err)
	}
	lines, err := Lookup(s, b)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(lines) != 1 || lines[0].Depth != 20 || lines[0].Score != 42 {
		t.Fatalf("lines %+v", lines)
	}
}

func TestLookupDistinguishesPositions(t *testing.T) {
	s := newStore(t)
	start := board.Initial()
	if err := Put(s, start, Line{Engine: "sf", Depth: 20, Score: 30}); err != nil {
		t.Fatalf("put: %v", err)
	}

	after, err := start.Apply(board.Move{From: board.Sq(4, 1), To: board.Sq(4, 3)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	lines, err := Lookup(s, after)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("analysis bled across positions: %+v", lines)
	}
}

func TestHas(t *testing.T) {
	s := newStore(t)
	b := board.Initial()
	got, err := Has(s, b, "sf")
	if err != nil || got {
		t.Fatalf("got (%v, %v), want (false, nil)", got, err)
	}
	if err = Put(s, b, Line{Engine: "sf", Depth: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, err = Has(s, b, "sf"); err != nil || !got {
		t.Fatalf("got (%v, %v), want (true, nil)", got, err)
	}
	if got, err = Has(s, b, "other"); err != nil || got {
		t.Fatalf("other engine: got (%v, %v)", got, err)
	}
}
