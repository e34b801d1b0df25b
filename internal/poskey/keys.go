package poskey

import (
	"encoding/binary"
	"fmt"
)

// Table is the leading namespace byte of every stored key.
type Table byte

const (
	TableMeta     Table = 0x00 // schema version, game id counter
	TableGame     Table = 0x01 // game record bodies
	TablePlyState Table = 0x02 // per-(game, ply) state records
	TablePattern  Table = 0x03 // stored partial-position patterns
	TableAnalysis Table = 0x04 // engine analysis records

	TablePosition    Table = 0x10 // full position key -> (game, ply)
	TablePieceSquare Table = 0x11 // piece-location sub-key -> (game, ply)
	TableMaterial    Table = 0x12 // material sub-key -> (game, ply)
	TableState       Table = 0x13 // side/castling/ep sub-key -> (game, ply)

	TableRepPosition    Table = 0x90
	TableRepPieceSquare Table = 0x91
	TableRepMaterial    Table = 0x92
	TableRepState       Table = 0x93
)

// Namespace groups the four index tables for one class of games. Ordinary
// games and repertoire games have structurally identical, disjoint indexes.
type Namespace struct {
	Position    Table
	PieceSquare Table
	Material    Table
	State       Table
}

// Games is the index namespace for ordinary games.
func Games() Namespace {
	return Namespace{TablePosition, TablePieceSquare, TableMaterial, TableState}
}

// Repertoire is the index namespace for repertoire games.
func Repertoire() Namespace {
	return Namespace{TableRepPosition, TableRepPieceSquare, TableRepMaterial, TableRepState}
}

// EntryRef locates one indexed occurrence: a game and the ply within it.
type EntryRef struct {
	Game uint64
	Ply  uint16
}

const refSize = 10

func appendRef(key []byte, ref EntryRef) []byte {
	key = binary.BigEndian.AppendUint64(key, ref.Game)
	key = binary.BigEndian.AppendUint16(key, ref.Ply)
	return key
}

// RefFromKey decodes the trailing (game, ply) pair of an index entry key.
func RefFromKey(key []byte) (EntryRef, error) {
	if len(key) < refSize {
		return EntryRef{}, fmt.Errorf("key too short for entry ref: %d bytes", len(key))
	}
	tail := key[len(key)-refSize:]
	return EntryRef{
		Game: binary.BigEndian.Uint64(tail[0:8]),
		Ply:  binary.BigEndian.Uint16(tail[8:10]),
	}, nil
}

// PositionEntryKey is table ‖ full key ‖ game ‖ ply. Raw byte order groups
// all occurrences of one position, then orders them by game id and ply.
func PositionEntryKey(t Table, k FullKey, ref EntryRef) []byte {
	key := make([]byte, 0, 1+FullKeySize+refSize)
	key = append(key, byte(t))
	key = append(key, k[:]...)
	return appendRef(key, ref)
}

// PositionPrefix scans all occurrences of one full position.
func PositionPrefix(t Table, k FullKey) []byte {
	key := make([]byte, 0, 1+FullKeySize)
	key = append(key, byte(t))
	return append(key, k[:]...)
}

// PieceSquareEntryKey is table ‖ piece ‖ square ‖ game ‖ ply.
func PieceSquareEntryKey(t Table, ps PieceSquare, ref EntryRef) []byte {
	key := make([]byte, 0, 1+len(ps)+refSize)
	key = append(key, byte(t))
	key = append(key, ps[:]...)
	return appendRef(key, ref)
}

// PieceSquarePrefix scans all plies with a given piece on a given square.
func PieceSquarePrefix(t Table, ps PieceSquare) []byte {
	return []byte{byte(t), ps[0], ps[1]}
}

// MaterialEntryKey is table ‖ material vector ‖ game ‖ ply.
func MaterialEntryKey(t Table, m Material, ref EntryRef) []byte {
	key := make([]byte, 0, 1+MaterialSize+refSize)
	key = append(key, byte(t))
	key = append(key, m[:]...)
	return appendRef(key, ref)
}

// MaterialFromKey decodes the material vector out of a material entry key.
func MaterialFromKey(key []byte) (Material, error) {
	if len(key) != 1+MaterialSize+refSize {
		return Material{}, fmt.Errorf("bad material key length %d", len(key))
	}
	var m Material
	copy(m[:], key[1:1+MaterialSize])
	return m, nil
}

// StateEntryKey is table ‖ state ‖ game ‖ ply.
func StateEntryKey(t Table, s State, ref EntryRef) []byte {
	key := make([]byte, 0, 1+StateSize+refSize)
	key = append(key, byte(t))
	key = append(key, s[:]...)
	return appendRef(key, ref)
}

// TablePrefix scans an entire table.
func TablePrefix(t Table) []byte {
	return []byte{byte(t)}
}

// GameKey addresses one game record body.
func GameKey(id uint64) []byte {
	key := make([]byte, 0, 9)
	key = append(key, byte(TableGame))
	return binary.BigEndian.AppendUint64(key, id)
}

// GameIDFromKey decodes a game record key.
func GameIDFromKey(key []byte) (uint64, error) {
	if len(key) != 9 || Table(key[0]) != TableGame {
		return 0, fmt.Errorf("not a game key: %x", key)
	}
	return binary.BigEndian.Uint64(key[1:]), nil
}

// PlyStateKey addresses the per-ply state record of one game position.
func PlyStateKey(ref EntryRef) []byte {
	key := make([]byte, 0, 1+refSize)
	key = append(key, byte(TablePlyState))
	return appendRef(key, ref)
}

// PlyStatePrefix scans all per-ply state records of one game.
func PlyStatePrefix(game uint64) []byte {
	key := make([]byte, 0, 9)
	key = append(key, byte(TablePlyState))
	return binary.BigEndian.AppendUint64(key, game)
}

// PatternKey addresses one stored pattern by name.
func PatternKey(name string) []byte {
	key := make([]byte, 0, 1+len(name))
	key = append(key, byte(TablePattern))
	return append(key, name...)
}

// PatternNameFromKey recovers the pattern name from a pattern key.
func PatternNameFromKey(key []byte) (string, error) {
	if len(key) < 1 || Table(key[0]) != TablePattern {
		return "", fmt.Errorf("not a pattern key: %x", key)
	}
	return string(key[1:]), nil
}

// AnalysisKey addresses the stored analysis of one position by one engine.
func AnalysisKey(k FullKey, engine string) []byte {
	key := make([]byte, 0, 1+FullKeySize+len(engine))
	key = append(key, byte(TableAnalysis))
	key = append(key, k[:]...)
	return append(key, engine...)
}

// AnalysisPrefix scans all engines' analysis of one position.
func AnalysisPrefix(k FullKey) []byte {
	key := make([]byte, 0, 1+FullKeySize)
	key = append(key, byte(TableAnalysis))
	return append(key, k[:]...)
}

// Meta keys.
var (
	MetaSchemaKey = []byte{byte(TableMeta), 0x01}
	MetaNextIDKey = []byte{byte(TableMeta), 0x02}
)

// PlyStateValue is the 14-byte per-ply record consulted by query post-filters:
// state flags, en-passant byte, and the material vector.
type PlyStateValue struct {
	State    State
	Material Material
}

const PlyStateValueSize = StateSize + MaterialSize

// Encode renders the record to its fixed 14-byte layout.
func (v PlyStateValue) Encode() []byte {
	buf := make([]byte, 0, PlyStateValueSize)
	buf = append(buf, v.State[:]...)
	return append(buf, v.Material[:]...)
}

// DecodePlyStateValue parses a per-ply state record.
func DecodePlyStateValue(data []byte) (PlyStateValue, error) {
	if len(data) != PlyStateValueSize {
		return PlyStateValue{}, fmt.Errorf("bad ply state length %d", len(data))
	}
	var v PlyStateValue
	copy(v.State[:], data[0:StateSize])
	copy(v.Material[:], data[StateSize:])
	return v, nil
}
