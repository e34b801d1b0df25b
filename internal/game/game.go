// Package game defines the stored game record and its binary codec.
package game

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/freeeve/chessdex/internal/board"
)

// The seven-tag roster, in export order.
var RosterTags = [7]string{"Event", "Site", "Date", "Round", "White", "Black", "Result"}

// Record is one imported game. Moves holds the replayable move list; for a
// broken game it covers the prefix that replayed before the failure.
type Record struct {
	ID uint64

	Event  string
	Site   string
	Date   string
	Round  string
	White  string
	Black  string
	Result string

	// Extra holds non-roster tags, e.g. ECO, WhiteElo.
	Extra map[string]string

	// Movetext is the raw movetext as imported, preserved for full export.
	Movetext string
	Moves    []board.Move

	// PlyCount is the number of replayable half-moves. The indexed ply
	// range is 0..PlyCount inclusive, ply 0 being the starting position.
	PlyCount int

	Repertoire bool

	// Broken marks a record whose movetext stopped replaying; Reason holds
	// the failure message so the import can be listed and retried.
	Broken bool
	Reason string

	// Batch is the import run id the record arrived in.
	Batch string

	// StartFEN is the starting position for games with a FEN tag; empty
	// means the standard initial position.
	StartFEN string
}

// StartPos returns the position the move list replays from.
func (r *Record) StartPos() (board.Board, error) {
	if r.StartFEN == "" {
		return board.Initial(), nil
	}
	return board.FromFEN(r.StartFEN)
}

// Tag returns the named tag, roster or extra.
func (r *Record) Tag(name string) string {
	switch name {
	case "Event":
		return r.Event
	case "Site":
		return r.Site
	case "Date":
		return r.Date
	case "Round":
		return r.Round
	case "White":
		return r.White
	case "Black":
		return r.Black
	case "Result":
		return r.Result
	}
	return r.Extra[name]
}

// SetTag stores a tag, routing roster names to their fields.
func (r *Record) SetTag(name, value string) {
	switch name {
	case "Event":
		r.Event = value
	case "Site":
		r.Site = value
	case "Date":
		r.Date = value
	case "Round":
		r.Round = value
	case "White":
		r.White = value
	case "Black":
		r.Black = value
	case "Result":
		r.Result = value
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[name] = value
	}
}

const (
	// Version 2 added the starting FEN; version 1 records decode with an
	// empty one.
	recordVersion = 2

	flagRepertoire = 1 << 0
	flagBroken     = 1 << 1
)

// Encode serializes the record body. The id is not included; it lives in
// the key. Extra tags are written in sorted order so equal records encode
// to equal bytes.
func (r *Record) Encode() []byte {
	var out []byte
	out = append(out, recordVersion)

	var flags byte
	if r.Repertoire {
		flags |= flagRepertoire
	}
	if r.Broken {
		flags |= flagBroken
	}
	out = append(out, flags)

	out = appendString(out, r.Event)
	out = appendString(out, r.Site)
	out = appendString(out, r.Date)
	out = appendString(out, r.Round)
	out = appendString(out, r.White)
	out = appendString(out, r.Black)
	out = appendString(out, r.Result)

	names := make([]string, 0, len(r.Extra))
	for name := range r.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	out = appendUint16(out, uint16(len(names)))
	for _, name := range names {
		out = appendString(out, name)
		out = appendString(out, r.Extra[name])
	}

	out = appendString(out, r.Movetext)
	out = appendString(out, r.Reason)
	out = appendString(out, r.Batch)
	out = appendString(out, r.StartFEN)

	out = appendUint16(out, uint16(r.PlyCount))
	out = appendUint16(out, uint16(len(r.Moves)))
	for _, m := range r.Moves {
		out = append(out, byte(m.From), byte(m.To), byte(m.Promo))
	}
	return out
}

// Decode parses a record body produced by Encode.
func Decode(data []byte) (*Record, error) {
	d := decoder{data: data}
	version := d.byte()
	if d.err == nil && (version < 1 || version > recordVersion) {
		return nil, fmt.Errorf("game: unsupported record version %d", version)
	}
	flags := d.byte()

	r := &Record{
		Repertoire: flags&flagRepertoire != 0,
		Broken:     flags&flagBroken != 0,
	}
	r.Event = d.string()
	r.Site = d.string()
	r.Date = d.string()
	r.Round = d.string()
	r.White = d.string()
	r.Black = d.string()
	r.Result = d.string()

	nExtra := int(d.uint16())
	for i := 0; i < nExtra && d.err == nil; i++ {
		name := d.string()
		value := d.string()
		if r.Extra == nil {
			r.Extra = make(map[string]string, nExtra)
		}
		r.Extra[name] = value
	}

	r.Movetext = d.string()
	r.Reason = d.string()
	r.Batch = d.string()
	if version >= 2 {
		r.StartFEN = d.string()
	}
	r.PlyCount = int(d.uint16())

	nMoves := int(d.uint16())
	for i := 0; i < nMoves && d.err == nil; i++ {
		r.Moves = append(r.Moves, board.Move{
			From:  board.Square(d.byte()),
			To:    board.Square(d.byte()),
			Promo: board.PieceType(d.byte()),
		})
	}
	if d.err != nil {
		return nil, fmt.Errorf("game: decode record: %w", d.err)
	}
	return r, nil
}

func appendUint16(out []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(out, b[:]...)
}

func appendString(out []byte, s string) []byte {
	if len(s) > 0xFFFFFF {
		s = s[:0xFFFFFF]
	}
	out = append(out, byte(len(s)>>16), byte(len(s)>>8), byte(len(s)))
	return append(out, s...)
}

type decoder struct {
	data []byte
	pos  int
	err  error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = fmt.Errorf("truncated at offset %d", d.pos)
	}
}

func (d *decoder) byte() byte {
	if d.err != nil {
		return 0
	}
	if d.pos >= len(d.data) {
		d.fail()
		return 0
	}
	b := d.data[d.pos]
	d.pos++
	return b
}

func (d *decoder) uint16() uint16 {
	if d.err != nil {
		return 0
	}
	if d.pos+2 > len(d.data) {
		d.fail()
		return 0
	}
	v := binary.BigEndian.Uint16(d.data[d.pos : d.pos+2])
	d.pos += 2
	return v
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	if d.pos+3 > len(d.data) {
		d.fail()
		return ""
	}
	n := int(d.data[d.pos])<<16 | int(d.data[d.pos+1])<<8 | int(d.data[d.pos+2])
	d.pos += 3
	if d.pos+n > len(d.data) {
		d.fail()
		return ""
	}
	s := string(d.data[d.pos : d.pos+n])
	d.pos += n
	return s
}
