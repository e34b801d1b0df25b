// Package export renders stored game records as PGN.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/game"
	"github.com/freeeve/chessdex/internal/replay"
)

// Mode selects the output form.
type Mode int

const (
	// ModeFull writes every tag and the movetext as imported, comments
	// and glyphs included.
	ModeFull Mode = iota
	// ModeReduced writes the seven-tag roster and bare regenerated moves.
	ModeReduced
	// ModeImport writes every tag and regenerated movetext with no
	// comments or glyphs, suitable for re-import.
	ModeImport
)

// wrapColumn is the longest line written for generated movetext.
const wrapColumn = 79

// Game writes one record as PGN. Output is deterministic: roster tags
// first in standard order, extra tags sorted by name.
func Game(w io.Writer, rec *game.Record, mode Mode) error {
	if err := writeTags(w, rec, mode); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}

	movetext := rec.Movetext
	if mode != ModeFull || movetext == "" {
		var err error
		movetext, err = Movetext(rec)
		if err != nil {
			return err
		}
	}
	if err := writeWrapped(w, movetext); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func writeTags(w io.Writer, rec *game.Record, mode Mode) error {
	for _, name := range game.RosterTags {
		value := rec.Tag(name)
		if value == "" {
			value = "?"
			if name == "Date" {
				value = "????.??.??"
			}
			if name == "Result" {
				value = "*"
			}
		}
		if _, err := fmt.Fprintf(w, "[%s %q]\n", name, value); err != nil {
			return err
		}
	}
	if mode == ModeReduced {
		// Reduced output still needs the starting position to replay.
		if rec.StartFEN != "" {
			if _, err := fmt.Fprintf(w, "[SetUp %q]\n[FEN %q]\n", "1", rec.StartFEN); err != nil {
				return err
			}
		}
		return nil
	}
	names := make([]string, 0, len(rec.Extra))
	for name := range rec.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "[%s %q]\n", name, rec.Extra[name]); err != nil {
			return err
		}
	}
	return nil
}

// Movetext regenerates standard notation from the stored move list,
// numbering from the record's starting position.
func Movetext(rec *game.Record) (string, error) {
	start, err := rec.StartPos()
	if err != nil {
		return "", err
	}
	var tokens []string
	seq := replay.NewFrom(start, rec.Moves)
	for i, m := range rec.Moves {
		_, b, ok, err := seq.Next()
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		san, err := b.SAN(m)
		if err != nil {
			return "", fmt.Errorf("move %d: %w", i+1, err)
		}
		switch {
		case b.Turn == board.White:
			tokens = append(tokens, fmt.Sprintf("%d.", b.FullMove), san)
		case i == 0:
			tokens = append(tokens, fmt.Sprintf("%d...", b.FullMove), san)
		default:
			tokens = append(tokens, san)
		}
	}
	result := rec.Result
	if result == "" {
		result = "*"
	}
	tokens = append(tokens, result)
	return strings.Join(tokens, " "), nil
}

// writeWrapped fills lines up to wrapColumn, breaking between tokens.
func writeWrapped(w io.Writer, movetext string) error {
	tokens := strings.Fields(movetext)
	line := 0
	for _, tok := range tokens {
		need := len(tok)
		if line > 0 {
			need++
		}
		if line > 0 && line+need > wrapColumn {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
			line = 0
		} else if line > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return err
			}
			line++
		}
		if _, err := io.WriteString(w, tok); err != nil {
			return err
		}
		line += len(tok)
	}
	return nil
}
