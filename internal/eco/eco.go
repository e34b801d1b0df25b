// Package eco provides ECO (Encyclopedia of Chess Openings) lookup.
package eco

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/poskey"
)

// Opening is an ECO opening classification.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
	// Ply is the line length that defines the opening, used to pick
	// the deepest classification for a game.
	Ply int `json:"-"`
}

// Database holds ECO opening data indexed by position key.
type Database struct {
	byKey map[poskey.FullKey]Opening
	count int
}

// NewDatabase creates an empty ECO database.
func NewDatabase() *Database {
	return &Database{
		byKey: make(map[poskey.FullKey]Opening),
	}
}

// moveNumberRegex matches move numbers like "1." or "12..."
var moveNumberRegex = regexp.MustCompile(`\d+\.+\s*`)

// LoadDir loads all .tsv files from a directory.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files found in %s", dir)
	}

	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads a single TSV file with eco, name and pgn columns.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip header
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}

		b, plies, err := db.replayLine(parts[2])
		if err != nil {
			// Skip invalid lines silently
			continue
		}

		key, err := poskey.EncodeFull(b)
		if err != nil {
			continue
		}
		db.byKey[key] = Opening{ECO: parts[0], Name: parts[1], Ply: plies}
		db.count++
	}

	return scanner.Err()
}

// replayLine applies a SAN line like "1. e4 e5 2. Nf3 Nc6" and returns
// the final position and the number of plies played.
func (db *Database) replayLine(pgnMoves string) (board.Board, int, error) {
	cleaned := moveNumberRegex.ReplaceAllString(pgnMoves, "")

	b := board.Initial()
	plies := 0
	for _, san := range strings.Fields(cleaned) {
		// Skip annotations
		if san == "" || san[0] == '$' || san[0] == '{' {
			continue
		}
		m, err := b.ParseSAN(san)
		if err != nil {
			return b, plies, err
		}
		b, err = b.Apply(m)
		if err != nil {
			return b, plies, err
		}
		plies++
	}
	return b, plies, nil
}

// Lookup returns the opening for a position key, or nil if not found.
func (db *Database) Lookup(key poskey.FullKey) *Opening {
	if o, ok := db.byKey[key]; ok {
		return &o
	}
	return nil
}

// Classify replays a move sequence and returns the deepest opening it
// reaches, or nil if no position along the line is classified.
func (db *Database) Classify(moves []board.Move) *Opening {
	b := board.Initial()
	var best *Opening
	for _, m := range moves {
		next, err := b.Apply(m)
		if err != nil {
			break
		}
		b = next
		key, err := poskey.EncodeFull(b)
		if err != nil {
			break
		}
		if o := db.Lookup(key); o != nil && (best == nil || o.Ply >= best.Ply) {
			best = o
		}
	}
	return best
}

// Count returns the number of openings loaded.
func (db *Database) Count() int {
	return db.count
}
