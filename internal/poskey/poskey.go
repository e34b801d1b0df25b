// Package poskey encodes board positions into the fixed-layout byte keys the
// index stores. The layouts here are a stability contract: two positions with
// the same placement, side to move, castling rights, and en-passant state
// always produce the same bytes, move counters never participate, and any
// layout change requires a schema version bump plus a full index rebuild.
package poskey

import (
	"fmt"

	"github.com/freeeve/chessdex/internal/board"
)

// SchemaVersion is stored in the meta table and checked on open. Bump it
// whenever a key layout changes; an existing database then refuses to open
// until reindexed.
const SchemaVersion = 1

// FullKeySize is the size of a full position key: 32 bytes of piece nibbles
// (two squares per byte, a1 first), one flags byte, one en-passant byte.
const FullKeySize = 34

// FullKey identifies a position by its matching-relevant state.
type FullKey [FullKeySize]byte

const (
	flagBlackToMove = 1 << 0
	flagWhiteOO     = 1 << 1
	flagWhiteOOO    = 1 << 2
	flagBlackOO     = 1 << 3
	flagBlackOOO    = 1 << 4

	epNone = 0xFF
)

// EncodingError reports a position that cannot be encoded. Indexing of the
// owning game must fail loudly, never skip.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return "position encoding: " + e.Reason
}

// EncodeFull builds the full position key for b.
func EncodeFull(b board.Board) (FullKey, error) {
	var k FullKey
	for sq := board.Square(0); sq < board.NoSquare; sq++ {
		p := b.Squares[sq]
		if p > 15 || (p != board.Empty && p.Type() == board.NoPieceType) {
			return FullKey{}, &EncodingError{Reason: fmt.Sprintf("bad piece %d on %s", p, sq)}
		}
		if sq%2 == 0 {
			k[sq/2] = byte(p) << 4
		} else {
			k[sq/2] |= byte(p)
		}
	}
	k[32] = stateFlags(b)
	ep, err := epByte(b)
	if err != nil {
		return FullKey{}, err
	}
	k[33] = ep
	return k, nil
}

func stateFlags(b board.Board) byte {
	var f byte
	if b.Turn == board.Black {
		f |= flagBlackToMove
	}
	if b.Castling.Has(board.WhiteKingside) {
		f |= flagWhiteOO
	}
	if b.Castling.Has(board.WhiteQueenside) {
		f |= flagWhiteOOO
	}
	if b.Castling.Has(board.BlackKingside) {
		f |= flagBlackOO
	}
	if b.Castling.Has(board.BlackQueenside) {
		f |= flagBlackOOO
	}
	return f
}

func epByte(b board.Board) (byte, error) {
	if b.EPTarget == board.NoSquare {
		return epNone, nil
	}
	if b.EPTarget > board.NoSquare {
		return 0, &EncodingError{Reason: fmt.Sprintf("bad en-passant square %d", b.EPTarget)}
	}
	return byte(b.EPTarget), nil
}

// PieceSquare is the {piece, square} sub-key for partial matching, two bytes.
type PieceSquare [2]byte

// EncodePieceSquare builds the piece-location sub-key.
func EncodePieceSquare(p board.Piece, sq board.Square) PieceSquare {
	return PieceSquare{byte(p), byte(sq)}
}

// MaterialSize is one count byte per piece kind and color: wP wN wB wR wQ wK
// then the black pieces in the same order.
const MaterialSize = 12

// Material is the piece-count sub-key used to prune queries cheaply.
type Material [MaterialSize]byte

// EncodeMaterial counts the pieces on b.
func EncodeMaterial(b board.Board) Material {
	var m Material
	for sq := board.Square(0); sq < board.NoSquare; sq++ {
		p := b.Squares[sq]
		if p.IsEmpty() {
			continue
		}
		m[materialIndex(p.Color(), p.Type())]++
	}
	return m
}

func materialIndex(c board.Color, t board.PieceType) int {
	return int(c)*6 + int(t) - 1
}

// Count returns the number of pieces of the given color and type.
func (m Material) Count(c board.Color, t board.PieceType) int {
	return int(m[materialIndex(c, t)])
}

// StateSize is the active-side/castling/en-passant sub-key size.
const StateSize = 2

// State is the side-to-move/castling/en-passant sub-key.
type State [StateSize]byte

// EncodeState builds the state sub-key for b.
func EncodeState(b board.Board) (State, error) {
	ep, err := epByte(b)
	if err != nil {
		return State{}, err
	}
	return State{stateFlags(b), ep}, nil
}

// BlackToMove reports the side-to-move bit of a state sub-key.
func (s State) BlackToMove() bool { return s[0]&flagBlackToMove != 0 }

// Castling reconstructs the castling rights mask of a state sub-key.
func (s State) Castling() board.CastlingRights {
	var cr board.CastlingRights
	if s[0]&flagWhiteOO != 0 {
		cr |= board.WhiteKingside
	}
	if s[0]&flagWhiteOOO != 0 {
		cr |= board.WhiteQueenside
	}
	if s[0]&flagBlackOO != 0 {
		cr |= board.BlackKingside
	}
	if s[0]&flagBlackOOO != 0 {
		cr |= board.BlackQueenside
	}
	return cr
}

// EPTarget returns the en-passant target square, or NoSquare.
func (s State) EPTarget() board.Square {
	if s[1] == epNone {
		return board.NoSquare
	}
	return board.Square(s[1])
}
