package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/game"
	"github.com/freeeve/chessdex/internal/importer"
	"github.com/freeeve/chessdex/internal/index"
	"github.com/freeeve/chessdex/internal/kv/memory"
	"github.com/freeeve/chessdex/internal/poskey"
	"github.com/freeeve/chessdex/internal/replay"
)

func mv(from, to string) board.Move {
	f, err := board.ParseSquare(from)
	if err != nil {
		panic(err)
	}
	t, err := board.ParseSquare(to)
	if err != nil {
		panic(err)
	}
	return board.Move{From: f, To: t}
}

func sampleRecord() *game.Record {
	return &game.Record{
		ID:       1,
		Event:    "Test Match",
		Site:     "Nowhere",
		Date:     "2001.01.01",
		Round:    "1",
		White:    "Alpha",
		Black:    "Beta",
		Result:   "1-0",
		Extra:    map[string]string{"ECO": "C20", "Annotator": "Nobody"},
		Movetext: "1. e4 {best by test} e5 2. Nf3 $1 Nc6 1-0",
		Moves: []board.Move{
			mv("e2", "e4"), mv("e7", "e5"),
			mv("g1", "f3"), mv("b8", "c6"),
		},
		PlyCount: 4,
	}
}

func render(t *testing.T, rec *game.Record, mode Mode) string {
	t.Helper()
	var buf bytes.Buffer
	if err := Game(&buf, rec, mode); err != nil {
		t.Fatalf("export: %v", err)
	}
	return buf.String()
}

func TestFullModeKeepsRawMovetext(t *testing.T) {
	out := render(t, sampleRecord(), ModeFull)
	if !strings.Contains(out, "{best by test}") {
		t.Fatalf("comment stripped:\n%s", out)
	}
	if !strings.Contains(out, "$1") {
		t.Fatalf("glyph stripped:\n%s", out)
	}
	if !strings.Contains(out, `[Annotator "Nobody"]`) {
		t.Fatalf("extra tag missing:\n%s", out)
	}
}

func TestImportModeRegeneratesCleanMovetext(t *testing.T) {
	out := render(t, sampleRecord(), ModeImport)
	if strings.Contains(out, "{") || strings.Contains(out, "$") {
		t.Fatalf("comments or glyphs in import mode:\n%s", out)
	}
	if !strings.Contains(out, "1. e4 e5 2. Nf3 Nc6 1-0") {
		t.Fatalf("unexpected movetext:\n%s", out)
	}
}

func TestReducedModeRosterOnly(t *testing.T) {
	out := render(t, sampleRecord(), ModeReduced)
	if strings.Contains(out, "ECO") {
		t.Fatalf("extra tag in reduced mode:\n%s", out)
	}
	for _, name := range game.RosterTags {
		if !strings.Contains(out, "["+name+" ") {
			t.Fatalf("roster tag %s missing:\n%s", name, out)
		}
	}
}

func TestRosterOrderAndPlaceholders(t *testing.T) {
	rec := &game.Record{Moves: nil, PlyCount: 0}
	out := render(t, rec, ModeImport)
	lines := strings.Split(out, "\n")
	want := []string{
		`[Event "?"]`, `[Site "?"]`, `[Date "????.??.??"]`, `[Round "?"]`,
		`[White "?"]`, `[Black "?"]`, `[Result "*"]`,
	}
	for i, w := range want {
		if lines[i] != w {
			t.Fatalf("line %d: got %q, want %q", i, lines[i], w)
		}
	}
}

func TestExportIsDeterministic(t *testing.T) {
	a := render(t, sampleRecord(), ModeImport)
	b := render(t, sampleRecord(), ModeImport)
	if a != b {
		t.Fatal("same record exported differently")
	}
}

func TestLinesStayUnderWrapColumn(t *testing.T) {
	// a long game: shuffle the knights back and forth
	moves := []board.Move{}
	for i := 0; i < 30; i++ {
		moves = append(moves,
			mv("g1", "f3"), mv("g8", "f6"),
			mv("f3", "g1"), mv("f6", "g8"),
		)
	}
	rec := &game.Record{Result: "*", Moves: moves, PlyCount: len(moves)}
	out := render(t, rec, ModeImport)
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 79 {
			t.Fatalf("line of %d columns: %q", len(line), line)
		}
	}
}

func TestPromotionAndDisambiguationSAN(t *testing.T) {
	rec := sampleRecord()
	txt, err := Movetext(rec)
	if err != nil {
		t.Fatalf("movetext: %v", err)
	}
	if txt != "1. e4 e5 2. Nf3 Nc6 1-0" {
		t.Fatalf("got %q", txt)
	}
}

// Exporting in import-compatible form and importing the output must yield
// the same move list and the same derived position keys.
func TestImportRoundTrip(t *testing.T) {
	rec := sampleRecord()
	out := render(t, rec, ModeImport)
	path := filepath.Join(t.TempDir(), "roundtrip.pgn")
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := memory.New()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if err = index.EnsureSchema(s); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	ix := index.New(s, zerolog.Nop())
	im := importer.New(importer.Config{Logger: zerolog.Nop()}, ix)
	stats, _, err := im.Run(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Games != 1 {
		t.Fatalf("stats %+v", stats)
	}

	got, err := ix.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got.Moves, rec.Moves) {
		t.Fatalf("move list changed:\ngot  %v\nwant %v", got.Moves, rec.Moves)
	}

	wantKeys := positionKeys(t, rec.Moves)
	gotKeys := positionKeys(t, got.Moves)
	if !reflect.DeepEqual(gotKeys, wantKeys) {
		t.Fatal("derived position keys changed")
	}
}

func positionKeys(t *testing.T, moves []board.Move) []poskey.FullKey {
	t.Helper()
	var keys []poskey.FullKey
	seq := replay.New(moves)
	for {
		_, b, ok, err := seq.Next()
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if !ok {
			return keys
		}
		k, err := poskey.EncodeFull(b)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		keys = append(keys, k)
	}
}

func TestMovetextFromFENStart(t *testing.T) {
	// Position after 1. e4 e5 2. Nf3; continuation 2... Nc6 3. Nxe5
	rec := &game.Record{
		White:    "Alpha",
		Black:    "Beta",
		Result:   "*",
		StartFEN: "rnbqkbnr/pppp1ppp/8/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R b KQkq - 1 2",
		Moves:    []board.Move{mv("b8", "c6"), mv("f3", "e5")},
		PlyCount: 2,
	}
	got, err := Movetext(rec)
	if err != nil {
		t.Fatalf("movetext: %v", err)
	}
	want := "2... Nc6 3. Nxe5 *"
	if got != want {
		t.Errorf("movetext = %q, want %q", got, want)
	}
}
