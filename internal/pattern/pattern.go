// Package pattern defines partial-position queries: a tree of square and
// state constraints combined with And, Or and Not. Trees are validated at
// construction and serialized for storage, independent of any game data.
package pattern

import (
	"encoding/binary"
	"fmt"

	"github.com/freeeve/chessdex/internal/board"
)

// PatternError reports an invalid pattern tree.
type PatternError struct {
	Reason string
}

func (e *PatternError) Error() string {
	return "pattern: " + e.Reason
}

// Kind tags the node variants.
type Kind uint8

const (
	KindSquare Kind = iota + 1
	KindCount
	KindSideToMove
	KindCastling
	KindEnPassant
	KindMoveRange
	KindAnd
	KindOr
	KindNot
)

func (k Kind) String() string {
	switch k {
	case KindSquare:
		return "square"
	case KindCount:
		return "count"
	case KindSideToMove:
		return "side-to-move"
	case KindCastling:
		return "castling"
	case KindEnPassant:
		return "en-passant"
	case KindMoveRange:
		return "move-range"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	case KindNot:
		return "not"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// EPMode selects the en-passant test.
type EPMode uint8

const (
	// EPAtSquare matches positions whose en-passant target is Square.
	EPAtSquare EPMode = iota
	// EPNone matches positions with no en-passant target.
	EPNone
	// EPAny matches positions with any en-passant target.
	EPAny
)

// AllowEmpty is the Allowed bit for an empty square. The remaining bits
// are indexed by piece code, so AllowPiece(p) = 1 << p.
const AllowEmpty uint16 = 1 << 0

// AllowPiece returns the Allowed bit for a piece.
func AllowPiece(p board.Piece) uint16 { return 1 << uint16(p) }

// Open end for MoveRange.
const NoMaxPly = 0xFFFF

// Node is one pattern tree node. Which fields are meaningful depends on
// Kind; use the constructors.
type Node struct {
	Kind Kind

	// KindSquare
	Square  board.Square
	Allowed uint16

	// KindCount
	PieceType board.PieceType
	Color     board.Color
	Min, Max  int

	// KindSideToMove reuses Color.

	// KindCastling: Rights are the required bits among those set in Care.
	Rights board.CastlingRights
	Care   board.CastlingRights

	// KindEnPassant reuses Square.
	EPMode EPMode

	// KindMoveRange: matching plies p satisfy MinPly <= p <= MaxPly.
	MinPly, MaxPly int

	// KindAnd, KindOr, KindNot
	Children []*Node
}

// Square matches when the square holds one of the allowed contents.
func Square(sq board.Square, allowed uint16) *Node {
	return &Node{Kind: KindSquare, Square: sq, Allowed: allowed}
}

// Piece is shorthand for a square that must hold exactly the given piece.
func Piece(sq board.Square, c board.Color, t board.PieceType) *Node {
	return Square(sq, AllowPiece(board.MakePiece(c, t)))
}

// Empty is shorthand for a square that must be empty.
func Empty(sq board.Square) *Node {
	return Square(sq, AllowEmpty)
}

// Count matches when the side has between min and max pieces of the type
// on the board.
func Count(t board.PieceType, c board.Color, min, max int) *Node {
	return &Node{Kind: KindCount, PieceType: t, Color: c, Min: min, Max: max}
}

// SideToMove matches positions where the given color is to move.
func SideToMove(c board.Color) *Node {
	return &Node{Kind: KindSideToMove, Color: c}
}

// Castling matches when, for every right in care, the position's
// availability equals the corresponding bit in rights.
func Castling(rights, care board.CastlingRights) *Node {
	return &Node{Kind: KindCastling, Rights: rights, Care: care}
}

// EnPassant matches on the position's en-passant target.
func EnPassant(mode EPMode, sq board.Square) *Node {
	return &Node{Kind: KindEnPassant, EPMode: mode, Square: sq}
}

// MoveRange restricts matches to plies in [minPly, maxPly]. Use NoMaxPly
// for an open upper bound.
func MoveRange(minPly, maxPly int) *Node {
	return &Node{Kind: KindMoveRange, MinPly: minPly, MaxPly: maxPly}
}

func And(children ...*Node) *Node { return &Node{Kind: KindAnd, Children: children} }
func Or(children ...*Node) *Node  { return &Node{Kind: KindOr, Children: children} }
func Not(child *Node) *Node       { return &Node{Kind: KindNot, Children: []*Node{child}} }

// Validate checks the whole tree. A nil node is the empty pattern and is
// valid.
func (n *Node) Validate() error {
	if n == nil {
		return nil
	}
	return n.validate()
}

func (n *Node) validate() error {
	switch n.Kind {
	case KindSquare:
		if n.Square >= 64 {
			return &PatternError{Reason: fmt.Sprintf("square %d out of range", n.Square)}
		}
		if n.Allowed == 0 {
			return &PatternError{Reason: fmt.Sprintf("square %s allows nothing", n.Square)}
		}
	case KindCount:
		if n.PieceType < board.Pawn || n.PieceType > board.King {
			return &PatternError{Reason: fmt.Sprintf("count of invalid piece type %d", n.PieceType)}
		}
		if n.Min < 0 || n.Max < n.Min {
			return &PatternError{Reason: fmt.Sprintf("count range [%d,%d] is empty", n.Min, n.Max)}
		}
		// Counts encode as single bytes.
		if n.Max > 255 {
			return &PatternError{Reason: fmt.Sprintf("count bound %d exceeds 255", n.Max)}
		}
	case KindSideToMove:
		if n.Color != board.White && n.Color != board.Black {
			return &PatternError{Reason: fmt.Sprintf("invalid side %d", n.Color)}
		}
	case KindCastling:
		if n.Care == 0 {
			return &PatternError{Reason: "castling constraint cares about no rights"}
		}
		if n.Rights&^n.Care != 0 {
			return &PatternError{Reason: "castling rights outside the care mask"}
		}
	case KindEnPassant:
		if n.EPMode == EPAtSquare && n.Square >= 64 {
			return &PatternError{Reason: fmt.Sprintf("en-passant square %d out of range", n.Square)}
		}
	case KindMoveRange:
		if n.MinPly < 0 || n.MaxPly < n.MinPly {
			return &PatternError{Reason: fmt.Sprintf("move range [%d,%d] is empty", n.MinPly, n.MaxPly)}
		}
		// Plies encode as uint16; NoMaxPly is the top of that range.
		if n.MaxPly > NoMaxPly {
			return &PatternError{Reason: fmt.Sprintf("ply bound %d exceeds %d", n.MaxPly, NoMaxPly)}
		}
	case KindAnd, KindOr:
		if len(n.Children) == 0 {
			return &PatternError{Reason: n.Kind.String() + " has no children"}
		}
		for _, c := range n.Children {
			if c == nil {
				return &PatternError{Reason: n.Kind.String() + " has a nil child"}
			}
			if err := c.validate(); err != nil {
				return err
			}
		}
		if n.Kind == KindAnd {
			if err := checkSquareAgreement(n.Children); err != nil {
				return err
			}
		}
	case KindNot:
		if len(n.Children) != 1 || n.Children[0] == nil {
			return &PatternError{Reason: "not requires exactly one child"}
		}
		return n.Children[0].validate()
	default:
		return &PatternError{Reason: fmt.Sprintf("unknown node kind %d", n.Kind)}
	}
	return nil
}

// checkSquareAgreement rejects sibling square constraints under an And
// whose allowed sets cannot both hold.
func checkSquareAgreement(children []*Node) error {
	allowed := make(map[board.Square]uint16)
	for _, c := range children {
		if c.Kind != KindSquare {
			continue
		}
		prev, ok := allowed[c.Square]
		if !ok {
			allowed[c.Square] = c.Allowed
			continue
		}
		if prev&c.Allowed == 0 {
			return &PatternError{
				Reason: fmt.Sprintf("contradictory constraints on %s", c.Square),
			}
		}
		allowed[c.Square] = prev & c.Allowed
	}
	return nil
}

// Encode serializes the tree. A nil tree encodes to an empty slice.
func (n *Node) Encode() []byte {
	if n == nil {
		return nil
	}
	return n.append(nil)
}

func (n *Node) append(out []byte) []byte {
	out = append(out, byte(n.Kind))
	var b [2]byte
	switch n.Kind {
	case KindSquare:
		out = append(out, byte(n.Square))
		binary.BigEndian.PutUint16(b[:], n.Allowed)
		out = append(out, b[:]...)
	case KindCount:
		out = append(out, byte(n.PieceType), byte(n.Color), byte(n.Min), byte(n.Max))
	case KindSideToMove:
		out = append(out, byte(n.Color))
	case KindCastling:
		out = append(out, byte(n.Rights), byte(n.Care))
	case KindEnPassant:
		out = append(out, byte(n.EPMode), byte(n.Square))
	case KindMoveRange:
		binary.BigEndian.PutUint16(b[:], uint16(n.MinPly))
		out = append(out, b[:]...)
		binary.BigEndian.PutUint16(b[:], uint16(n.MaxPly))
		out = append(out, b[:]...)
	case KindAnd, KindOr, KindNot:
		out = append(out, byte(len(n.Children)))
		for _, c := range n.Children {
			out = c.append(out)
		}
	}
	return out
}

// Decode parses a tree produced by Encode and validates it.
func Decode(data []byte) (*Node, error) {
	if len(data) == 0 {
		return nil, nil
	}
	n, rest, err := decodeNode(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, &PatternError{Reason: fmt.Sprintf("%d trailing bytes", len(rest))}
	}
	if err = n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func decodeNode(data []byte) (*Node, []byte, error) {
	if len(data) == 0 {
		return nil, nil, &PatternError{Reason: "truncated tree"}
	}
	n := &Node{Kind: Kind(data[0])}
	data = data[1:]
	need := func(k int) error {
		if len(data) < k {
			return &PatternError{Reason: "truncated " + n.Kind.String() + " node"}
		}
		return nil
	}
	switch n.Kind {
	case KindSquare:
		if err := need(3); err != nil {
			return nil, nil, err
		}
		n.Square = board.Square(data[0])
		n.Allowed = binary.BigEndian.Uint16(data[1:3])
		data = data[3:]
	case KindCount:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		n.PieceType = board.PieceType(data[0])
		n.Color = board.Color(data[1])
		n.Min = int(data[2])
		n.Max = int(data[3])
		data = data[4:]
	case KindSideToMove:
		if err := need(1); err != nil {
			return nil, nil, err
		}
		n.Color = board.Color(data[0])
		data = data[1:]
	case KindCastling:
		if err := need(2); err != nil {
			return nil, nil, err
		}
		n.Rights = board.CastlingRights(data[0])
		n.Care = board.CastlingRights(data[1])
		data = data[2:]
	case KindEnPassant:
		if err := need(2); err != nil {
			return nil, nil, err
		}
		n.EPMode = EPMode(data[0])
		n.Square = board.Square(data[1])
		data = data[2:]
	case KindMoveRange:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		n.MinPly = int(binary.BigEndian.Uint16(data[0:2]))
		n.MaxPly = int(binary.BigEndian.Uint16(data[2:4]))
		data = data[4:]
	case KindAnd, KindOr, KindNot:
		if err := need(1); err != nil {
			return nil, nil, err
		}
		count := int(data[0])
		data = data[1:]
		for i := 0; i < count; i++ {
			child, rest, err := decodeNode(data)
			if err != nil {
				return nil, nil, err
			}
			n.Children = append(n.Children, child)
			data = rest
		}
	default:
		return nil, nil, &PatternError{Reason: fmt.Sprintf("unknown node kind %d", n.Kind)}
	}
	return n, data, nil
}
