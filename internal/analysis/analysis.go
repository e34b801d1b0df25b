// Package analysis stores engine evaluations keyed by position and engine
// name. The store only keeps what the engine reported; it never computes
// evaluations itself.
package analysis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/poskey"
)

// Line is one stored evaluation. Score is centipawns from white's
// perspective, or moves to mate when Mate is set.
type Line struct {
	Engine string
	Depth  int
	Score  int
	Mate   bool
	PV     []string
}

const lineVersion = 1

// Encode serializes the line body. The engine name lives in the key and
// is not repeated here.
func (l Line) Encode() []byte {
	var out []byte
	out = append(out, lineVersion)
	var flags byte
	if l.Mate {
		flags = 1
	}
	out = append(out, flags)
	out = binary.BigEndian.AppendUint16(out, uint16(l.Depth))
	out = binary.BigEndian.AppendUint32(out, uint32(int32(l.Score)))
	pv := strings.Join(l.PV, " ")
	out = binary.BigEndian.AppendUint16(out, uint16(len(pv)))
	return append(out, pv...)
}

// DecodeLine parses a line body produced by Encode.
func DecodeLine(data []byte) (Line, error) {
	if len(data) < 10 {
		return Line{}, fmt.Errorf("analysis: line body too short (%d bytes)", len(data))
	}
	if data[0] != lineVersion {
		return Line{}, fmt.Errorf("analysis: unsupported line version %d", data[0])
	}
	l := Line{
		Mate:  data[1]&1 != 0,
		Depth: int(binary.BigEndian.Uint16(data[2:4])),
		Score: int(int32(binary.BigEndian.Uint32(data[4:8]))),
	}
	pvLen := int(binary.BigEndian.Uint16(data[8:10]))
	if len(data) != 10+pvLen {
		return Line{}, fmt.Errorf("analysis: line body length mismatch")
	}
	if pvLen > 0 {
		l.PV = strings.Fields(string(data[10 : 10+pvLen]))
	}
	return l, nil
}

// Put stores a line for the position, replacing any previous line from
// the same engine.
func Put(s kv.Store, b board.Board, l Line) error {
	if l.Engine == "" {
		return fmt.Errorf("analysis: line has no engine name")
	}
	full, err := poskey.EncodeFull(b)
	if err != nil {
		return err
	}
	return kv.Update(s, func(txn kv.Txn) error {
		return txn.Put(poskey.AnalysisKey(full, l.Engine), l.Encode())
	})
}

// Lookup returns every stored line for the position, one per engine.
func Lookup(s kv.Store, b board.Board) ([]Line, error) {
	full, err := poskey.EncodeFull(b)
	if err != nil {
		return nil, err
	}
	var lines []Line
	err = kv.View(s, func(txn kv.Txn) error {
		cur, err := txn.Scan(poskey.AnalysisPrefix(full))
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
			k, v, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			l, err := DecodeLine(v)
			if err != nil {
				return err
			}
			l.Engine = engineFromKey(k)
			lines = append(lines, l)
		}
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// Has reports whether the engine already analyzed the position.
func Has(s kv.Store, b board.Board, engine string) (bool, error) {
	full, err := poskey.EncodeFull(b)
	if err != nil {
		return false, err
	}
	err = kv.View(s, func(txn kv.Txn) error {
		_, err := txn.Get(poskey.AnalysisKey(full, engine))
		return err
	})
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func engineFromKey(key []byte) string {
	if len(key) <= 1+poskey.FullKeySize {
		return ""
	}
	return string(key[1+poskey.FullKeySize:])
}
