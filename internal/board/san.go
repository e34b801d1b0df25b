package board

import (
	"strconv"
	"strings"
)

var sanPieceLetters = [7]string{Knight: "N", Bishop: "B", Rook: "R", Queen: "Q", King: "K"}

// SAN renders a legal move in Standard Algebraic Notation for this position.
// Checks are marked with "+"; mate detection is not attempted.
func (b Board) SAN(m Move) (string, error) {
	next, err := b.Apply(m)
	if err != nil {
		return "", err
	}

	p := b.Squares[m.From]
	capture := !b.Squares[m.To].IsEmpty() ||
		(p.Type() == Pawn && m.From.File() != m.To.File())

	var sb strings.Builder
	switch {
	case p.Type() == King && abs(m.To.File()-m.From.File()) == 2:
		if m.To.File() == 6 {
			sb.WriteString("O-O")
		} else {
			sb.WriteString("O-O-O")
		}
	case p.Type() == Pawn:
		if capture {
			sb.WriteByte(byte('a' + m.From.File()))
			sb.WriteByte('x')
		}
		sb.WriteString(m.To.String())
		if m.Promo != NoPieceType {
			sb.WriteByte('=')
			sb.WriteString(sanPieceLetters[m.Promo])
		}
	default:
		sb.WriteString(sanPieceLetters[p.Type()])
		sb.WriteString(b.disambiguation(p, m))
		if capture {
			sb.WriteByte('x')
		}
		sb.WriteString(m.To.String())
	}

	kingSq := next.KingSquare(next.Turn)
	if kingSq != NoSquare && next.IsAttacked(kingSq, b.Turn) {
		sb.WriteByte('+')
	}
	return sb.String(), nil
}

// ParseSAN resolves a SAN token against this position by generating
// notation for every legal move and matching. Check, mate and
// annotation suffixes on the input are ignored.
func (b Board) ParseSAN(san string) (Move, error) {
	want := strings.TrimRight(san, "+#!?")
	if want == "" {
		return Move{}, &ParseSANError{SAN: san}
	}
	for from := Square(0); from < NoSquare; from++ {
		p := b.Squares[from]
		if p.IsEmpty() || p.Color() != b.Turn {
			continue
		}
		for to := Square(0); to < NoSquare; to++ {
			for _, m := range candidateMoves(p, from, to) {
				if _, err := b.Apply(m); err != nil {
					continue
				}
				got, err := b.SAN(m)
				if err != nil {
					continue
				}
				if strings.TrimRight(got, "+") == want {
					return m, nil
				}
			}
		}
	}
	return Move{}, &ParseSANError{SAN: san}
}

var promotions = [4]PieceType{Queen, Rook, Bishop, Knight}

func candidateMoves(p Piece, from, to Square) []Move {
	if p.Type() == Pawn && (to.Rank() == 0 || to.Rank() == 7) {
		ms := make([]Move, len(promotions))
		for i, t := range promotions {
			ms[i] = Move{From: from, To: to, Promo: t}
		}
		return ms
	}
	return []Move{{From: from, To: to}}
}

// ParseSANError reports a SAN token with no legal interpretation.
type ParseSANError struct {
	SAN string
}

func (e *ParseSANError) Error() string {
	return "no legal move matches " + strconv.Quote(e.SAN)
}

// disambiguation returns the minimal from-square qualifier needed when
// another piece of the same type could also reach the destination.
func (b Board) disambiguation(p Piece, m Move) string {
	var sameFile, sameRank, others bool
	for sq := Square(0); sq < NoSquare; sq++ {
		if sq == m.From || b.Squares[sq] != p {
			continue
		}
		if !b.attacks(p, sq, m.To) {
			continue
		}
		// Candidate must also be able to occupy the destination.
		if tgt := b.Squares[m.To]; !tgt.IsEmpty() && tgt.Color() == p.Color() {
			continue
		}
		others = true
		if sq.File() == m.From.File() {
			sameFile = true
		}
		if sq.Rank() == m.From.Rank() {
			sameRank = true
		}
	}
	switch {
	case !others:
		return ""
	case !sameFile:
		return string([]byte{byte('a' + m.From.File())})
	case !sameRank:
		return string([]byte{byte('1' + m.From.Rank())})
	default:
		return m.From.String()
	}
}
