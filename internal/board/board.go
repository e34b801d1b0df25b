// Package board models a single chess position and the application of one
// move to produce the next position. It validates piece-movement geometry and
// derives castling rights and en-passant state itself, but it is not a full
// rules engine: check and checkmate legality are left to the move source.
package board

import (
	"fmt"
)

// Color identifies a side.
type Color uint8

const (
	White Color = 0
	Black Color = 1
)

func (c Color) Other() Color {
	return c ^ 1
}

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// PieceType is the kind of piece without color.
type PieceType uint8

const (
	NoPieceType PieceType = 0
	Pawn        PieceType = 1
	Knight      PieceType = 2
	Bishop      PieceType = 3
	Rook        PieceType = 4
	Queen       PieceType = 5
	King        PieceType = 6
)

func (t PieceType) String() string {
	names := [...]string{"none", "pawn", "knight", "bishop", "rook", "queen", "king"}
	if int(t) < len(names) {
		return names[t]
	}
	return "invalid"
}

// Piece packs color and type into one byte: (color<<3)|type, 0 = empty.
// White pieces are 1..6, black pieces 9..14, so every piece fits a nibble.
type Piece uint8

const Empty Piece = 0

func MakePiece(c Color, t PieceType) Piece {
	return Piece(uint8(c)<<3 | uint8(t))
}

func (p Piece) Type() PieceType { return PieceType(p & 7) }
func (p Piece) Color() Color    { return Color(p >> 3) }
func (p Piece) IsEmpty() bool   { return p == Empty }

var pieceChars [15]byte

func init() {
	letters := [7]byte{Pawn: 'P', Knight: 'N', Bishop: 'B', Rook: 'R', Queen: 'Q', King: 'K'}
	for t := Pawn; t <= King; t++ {
		pieceChars[MakePiece(White, t)] = letters[t]
		pieceChars[MakePiece(Black, t)] = letters[t] | 0x20
	}
}

func (p Piece) String() string {
	if p.IsEmpty() {
		return "."
	}
	return string(pieceChars[p])
}

// Square is a board square, 0..63 with a1=0: file = sq%8, rank = sq/8.
type Square uint8

// NoSquare is the absent-square sentinel (en-passant target when none).
const NoSquare Square = 64

// Sq builds a square from 0-based file and rank.
func Sq(file, rank int) Square {
	return Square(rank*8 + file)
}

func (s Square) File() int { return int(s) % 8 }
func (s Square) Rank() int { return int(s) / 8 }

func (s Square) String() string {
	if s >= NoSquare {
		return "-"
	}
	return string([]byte{byte('a' + s.File()), byte('1' + s.Rank())})
}

// ParseSquare parses algebraic notation like "e4".
func ParseSquare(s string) (Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return NoSquare, fmt.Errorf("invalid square %q", s)
	}
	return Sq(int(s[0]-'a'), int(s[1]-'1')), nil
}

// CastlingRights is a bitmask of the four castling permissions.
type CastlingRights uint8

const (
	WhiteKingside  CastlingRights = 1 << 0
	WhiteQueenside CastlingRights = 1 << 1
	BlackKingside  CastlingRights = 1 << 2
	BlackQueenside CastlingRights = 1 << 3
	AllCastling    CastlingRights = WhiteKingside | WhiteQueenside | BlackKingside | BlackQueenside
)

func (cr CastlingRights) Has(r CastlingRights) bool { return cr&r != 0 }

func (cr CastlingRights) String() string {
	if cr == 0 {
		return "-"
	}
	var out []byte
	if cr.Has(WhiteKingside) {
		out = append(out, 'K')
	}
	if cr.Has(WhiteQueenside) {
		out = append(out, 'Q')
	}
	if cr.Has(BlackKingside) {
		out = append(out, 'k')
	}
	if cr.Has(BlackQueenside) {
		out = append(out, 'q')
	}
	return string(out)
}

// Move is a from/to square pair with an optional promotion piece.
// Castling is the king moving two files; en-passant is a pawn capture onto
// the en-passant target square.
type Move struct {
	From  Square
	To    Square
	Promo PieceType
}

func (m Move) String() string {
	s := m.From.String() + m.To.String()
	switch m.Promo {
	case Knight:
		s += "n"
	case Bishop:
		s += "b"
	case Rook:
		s += "r"
	case Queen:
		s += "q"
	}
	return s
}

// IllegalMoveError reports a move that cannot be applied to a position.
type IllegalMoveError struct {
	Move   Move
	Reason string
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("illegal move %s: %s", e.Move, e.Reason)
}

// Board is one chess position. It is a value: Apply returns a new Board and
// never mutates the receiver.
type Board struct {
	Squares  [64]Piece
	Turn     Color
	Castling CastlingRights
	EPTarget Square // NoSquare when no en-passant capture is possible
	HalfMove int
	FullMove int
}

// Initial returns the standard starting position.
func Initial() Board {
	b := Board{
		Turn:     White,
		Castling: AllCastling,
		EPTarget: NoSquare,
		FullMove: 1,
	}
	back := [8]PieceType{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}
	for f := 0; f < 8; f++ {
		b.Squares[Sq(f, 0)] = MakePiece(White, back[f])
		b.Squares[Sq(f, 1)] = MakePiece(White, Pawn)
		b.Squares[Sq(f, 6)] = MakePiece(Black, Pawn)
		b.Squares[Sq(f, 7)] = MakePiece(Black, back[f])
	}
	return b
}

func illegal(m Move, reason string) (Board, error) {
	return Board{}, &IllegalMoveError{Move: m, Reason: reason}
}

// Apply plays m and returns the resulting position. It rejects moves whose
// geometry is impossible in the current position but does not verify that the
// mover's king is left out of check.
func (b Board) Apply(m Move) (Board, error) {
	if m.From >= NoSquare || m.To >= NoSquare || m.From == m.To {
		return illegal(m, "bad squares")
	}
	p := b.Squares[m.From]
	if p.IsEmpty() {
		return illegal(m, "no piece on from-square")
	}
	if p.Color() != b.Turn {
		return illegal(m, "not side to move")
	}
	target := b.Squares[m.To]
	if !target.IsEmpty() && target.Color() == b.Turn {
		return illegal(m, "own piece on to-square")
	}

	isCastle := p.Type() == King && abs(m.To.File()-m.From.File()) == 2
	isEP := p.Type() == Pawn && m.To == b.EPTarget && target.IsEmpty() &&
		m.From.File() != m.To.File()

	switch {
	case isCastle:
		if err := b.checkCastle(m); err != "" {
			return illegal(m, err)
		}
	case isEP:
		// Target square validated by EPTarget equality; geometry below.
		if !pawnCaptureShape(b.Turn, m.From, m.To) {
			return illegal(m, "bad en-passant geometry")
		}
	default:
		if err := b.checkGeometry(p, m, target); err != "" {
			return illegal(m, err)
		}
	}

	if p.Type() == Pawn && (m.To.Rank() == 7 || m.To.Rank() == 0) {
		switch m.Promo {
		case Knight, Bishop, Rook, Queen:
		default:
			return illegal(m, "promotion piece required")
		}
	} else if m.Promo != NoPieceType {
		return illegal(m, "unexpected promotion")
	}

	next := b
	next.Squares[m.From] = Empty
	if isEP {
		// Remove the pawn that made the two-square advance.
		capSq := Sq(m.To.File(), m.From.Rank())
		next.Squares[capSq] = Empty
	}
	placed := p
	if m.Promo != NoPieceType {
		placed = MakePiece(b.Turn, m.Promo)
	}
	next.Squares[m.To] = placed
	if isCastle {
		rookFrom, rookTo := castleRookSquares(m)
		next.Squares[rookTo] = next.Squares[rookFrom]
		next.Squares[rookFrom] = Empty
	}

	next.updateCastling(p, m, target)
	next.updateEPTarget(p, m)

	if p.Type() == Pawn || !target.IsEmpty() || isEP {
		next.HalfMove = 0
	} else {
		next.HalfMove = b.HalfMove + 1
	}
	if b.Turn == Black {
		next.FullMove = b.FullMove + 1
	}
	next.Turn = b.Turn.Other()
	return next, nil
}

// checkGeometry validates piece-movement shape and slider path for a
// non-castling, non-en-passant move. Returns an empty string when legal.
func (b Board) checkGeometry(p Piece, m Move, target Piece) string {
	df := m.To.File() - m.From.File()
	dr := m.To.Rank() - m.From.Rank()
	switch p.Type() {
	case Pawn:
		dir := 1
		startRank := 1
		if p.Color() == Black {
			dir = -1
			startRank = 6
		}
		switch {
		case df == 0 && dr == dir && target.IsEmpty():
			return ""
		case df == 0 && dr == 2*dir && m.From.Rank() == startRank &&
			target.IsEmpty() && b.Squares[Sq(m.From.File(), m.From.Rank()+dir)].IsEmpty():
			return ""
		case abs(df) == 1 && dr == dir && !target.IsEmpty():
			return ""
		}
		return "bad pawn move"
	case Knight:
		if (abs(df) == 1 && abs(dr) == 2) || (abs(df) == 2 && abs(dr) == 1) {
			return ""
		}
		return "bad knight move"
	case Bishop:
		if abs(df) != abs(dr) {
			return "bad bishop move"
		}
	case Rook:
		if df != 0 && dr != 0 {
			return "bad rook move"
		}
	case Queen:
		if df != 0 && dr != 0 && abs(df) != abs(dr) {
			return "bad queen move"
		}
	case King:
		if abs(df) > 1 || abs(dr) > 1 {
			return "bad king move"
		}
		return ""
	}
	if !b.pathClear(m.From, m.To) {
		return "path blocked"
	}
	return ""
}

func (b Board) checkCastle(m Move) string {
	rank := 0
	short := WhiteKingside
	long := WhiteQueenside
	if b.Turn == Black {
		rank = 7
		short = BlackKingside
		long = BlackQueenside
	}
	if m.From != Sq(4, rank) || m.To.Rank() != rank {
		return "bad castling squares"
	}
	if m.To.File() == 6 {
		if !b.Castling.Has(short) {
			return "kingside castling right lost"
		}
		if !b.Squares[Sq(5, rank)].IsEmpty() || !b.Squares[Sq(6, rank)].IsEmpty() {
			return "castling path blocked"
		}
		if b.Squares[Sq(7, rank)] != MakePiece(b.Turn, Rook) {
			return "kingside rook missing"
		}
		return ""
	}
	if m.To.File() == 2 {
		if !b.Castling.Has(long) {
			return "queenside castling right lost"
		}
		for f := 1; f <= 3; f++ {
			if !b.Squares[Sq(f, rank)].IsEmpty() {
				return "castling path blocked"
			}
		}
		if b.Squares[Sq(0, rank)] != MakePiece(b.Turn, Rook) {
			return "queenside rook missing"
		}
		return ""
	}
	return "bad castling squares"
}

func castleRookSquares(m Move) (from, to Square) {
	rank := m.From.Rank()
	if m.To.File() == 6 {
		return Sq(7, rank), Sq(5, rank)
	}
	return Sq(0, rank), Sq(3, rank)
}

// updateCastling clears rights when a king or rook leaves its home square,
// or a rook is captured on its home square.
func (next *Board) updateCastling(moved Piece, m Move, captured Piece) {
	clearFor := func(sq Square) {
		switch sq {
		case Sq(4, 0):
			next.Castling &^= WhiteKingside | WhiteQueenside
		case Sq(7, 0):
			next.Castling &^= WhiteKingside
		case Sq(0, 0):
			next.Castling &^= WhiteQueenside
		case Sq(4, 7):
			next.Castling &^= BlackKingside | BlackQueenside
		case Sq(7, 7):
			next.Castling &^= BlackKingside
		case Sq(0, 7):
			next.Castling &^= BlackQueenside
		}
	}
	clearFor(m.From)
	if !captured.IsEmpty() {
		clearFor(m.To)
	}
	_ = moved
}

// updateEPTarget sets the en-passant target square only immediately after a
// two-square pawn advance, and clears it after any other move.
func (next *Board) updateEPTarget(moved Piece, m Move) {
	next.EPTarget = NoSquare
	if moved.Type() != Pawn {
		return
	}
	dr := m.To.Rank() - m.From.Rank()
	if dr == 2 {
		next.EPTarget = Sq(m.From.File(), m.From.Rank()+1)
	} else if dr == -2 {
		next.EPTarget = Sq(m.From.File(), m.From.Rank()-1)
	}
}

func pawnCaptureShape(c Color, from, to Square) bool {
	dr := to.Rank() - from.Rank()
	if c == Black {
		dr = -dr
	}
	return abs(to.File()-from.File()) == 1 && dr == 1
}

// pathClear reports whether the squares strictly between from and to are
// empty. Caller guarantees a straight or diagonal line.
func (b Board) pathClear(from, to Square) bool {
	df := sign(to.File() - from.File())
	dr := sign(to.Rank() - from.Rank())
	f, r := from.File()+df, from.Rank()+dr
	for f != to.File() || r != to.Rank() {
		if !b.Squares[Sq(f, r)].IsEmpty() {
			return false
		}
		f += df
		r += dr
	}
	return true
}

// KingSquare returns the square of c's king, or NoSquare if absent.
func (b Board) KingSquare(c Color) Square {
	king := MakePiece(c, King)
	for sq := Square(0); sq < NoSquare; sq++ {
		if b.Squares[sq] == king {
			return sq
		}
	}
	return NoSquare
}

// IsAttacked reports whether sq is attacked by any piece of color by.
func (b Board) IsAttacked(sq Square, by Color) bool {
	for from := Square(0); from < NoSquare; from++ {
		p := b.Squares[from]
		if p.IsEmpty() || p.Color() != by || from == sq {
			continue
		}
		if b.attacks(p, from, sq) {
			return true
		}
	}
	return false
}

// attacks reports whether p on from attacks to (ignores pins and turn).
func (b Board) attacks(p Piece, from, to Square) bool {
	df := to.File() - from.File()
	dr := to.Rank() - from.Rank()
	switch p.Type() {
	case Pawn:
		return pawnCaptureShape(p.Color(), from, to)
	case Knight:
		return (abs(df) == 1 && abs(dr) == 2) || (abs(df) == 2 && abs(dr) == 1)
	case Bishop:
		return abs(df) == abs(dr) && b.pathClear(from, to)
	case Rook:
		return (df == 0 || dr == 0) && b.pathClear(from, to)
	case Queen:
		return (df == 0 || dr == 0 || abs(df) == abs(dr)) && b.pathClear(from, to)
	case King:
		return abs(df) <= 1 && abs(dr) <= 1
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
