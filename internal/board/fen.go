package board

import (
	"fmt"
	"strconv"
	"strings"
)

// InitialFEN is the standard starting position.
const InitialFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var charPieces = map[byte]Piece{
	'P': MakePiece(White, Pawn), 'N': MakePiece(White, Knight),
	'B': MakePiece(White, Bishop), 'R': MakePiece(White, Rook),
	'Q': MakePiece(White, Queen), 'K': MakePiece(White, King),
	'p': MakePiece(Black, Pawn), 'n': MakePiece(Black, Knight),
	'b': MakePiece(Black, Bishop), 'r': MakePiece(Black, Rook),
	'q': MakePiece(Black, Queen), 'k': MakePiece(Black, King),
}

// FromFEN parses a FEN string into a Board.
func FromFEN(fen string) (Board, error) {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return Board{}, fmt.Errorf("fen: need at least 4 fields, got %d", len(fields))
	}

	var b Board
	b.EPTarget = NoSquare
	b.FullMove = 1

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return Board{}, fmt.Errorf("fen: need 8 ranks, got %d", len(ranks))
	}
	for i, rankStr := range ranks {
		rank := 7 - i
		file := 0
		for j := 0; j < len(rankStr); j++ {
			c := rankStr[j]
			if c >= '1' && c <= '8' {
				file += int(c - '0')
				continue
			}
			p, ok := charPieces[c]
			if !ok {
				return Board{}, fmt.Errorf("fen: bad piece char %q", c)
			}
			if file > 7 {
				return Board{}, fmt.Errorf("fen: rank %d overflow", rank+1)
			}
			b.Squares[Sq(file, rank)] = p
			file++
		}
		if file != 8 {
			return Board{}, fmt.Errorf("fen: rank %d has %d files", rank+1, file)
		}
	}

	switch fields[1] {
	case "w":
		b.Turn = White
	case "b":
		b.Turn = Black
	default:
		return Board{}, fmt.Errorf("fen: bad active color %q", fields[1])
	}

	if fields[2] != "-" {
		for j := 0; j < len(fields[2]); j++ {
			switch fields[2][j] {
			case 'K':
				b.Castling |= WhiteKingside
			case 'Q':
				b.Castling |= WhiteQueenside
			case 'k':
				b.Castling |= BlackKingside
			case 'q':
				b.Castling |= BlackQueenside
			default:
				return Board{}, fmt.Errorf("fen: bad castling %q", fields[2])
			}
		}
	}

	if fields[3] != "-" {
		sq, err := ParseSquare(fields[3])
		if err != nil {
			return Board{}, fmt.Errorf("fen: bad en-passant square %q", fields[3])
		}
		b.EPTarget = sq
	}

	if len(fields) > 4 {
		n, err := strconv.Atoi(fields[4])
		if err != nil || n < 0 {
			return Board{}, fmt.Errorf("fen: bad half-move clock %q", fields[4])
		}
		b.HalfMove = n
	}
	if len(fields) > 5 {
		n, err := strconv.Atoi(fields[5])
		if err != nil || n < 1 {
			return Board{}, fmt.Errorf("fen: bad full-move number %q", fields[5])
		}
		b.FullMove = n
	}
	return b, nil
}

// FEN renders the position in Forsyth-Edwards notation.
func (b Board) FEN() string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		empty := 0
		for file := 0; file < 8; file++ {
			p := b.Squares[Sq(file, rank)]
			if p.IsEmpty() {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteByte(byte('0' + empty))
				empty = 0
			}
			sb.WriteString(p.String())
		}
		if empty > 0 {
			sb.WriteByte(byte('0' + empty))
		}
		if rank > 0 {
			sb.WriteByte('/')
		}
	}

	sb.WriteByte(' ')
	if b.Turn == White {
		sb.WriteByte('w')
	} else {
		sb.WriteByte('b')
	}
	sb.WriteByte(' ')
	sb.WriteString(b.Castling.String())
	sb.WriteByte(' ')
	sb.WriteString(b.EPTarget.String())
	fmt.Fprintf(&sb, " %d %d", b.HalfMove, b.FullMove)
	return sb.String()
}
