package pattern

import (
	"bytes"
	"errors"
	"testing"

	"github.com/freeeve/chessdex/internal/board"
)

func sq(s string) board.Square {
	v, err := board.ParseSquare(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestValidateAcceptsTypicalTree(t *testing.T) {
	tree := And(
		Piece(sq("e4"), board.White, board.Pawn),
		SideToMove(board.Black),
		Or(
			Count(board.Queen, board.White, 0, 0),
			MoveRange(0, 40),
		),
		Not(EnPassant(EPAny, 0)),
	)
	if err := tree.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateNilTree(t *testing.T) {
	var tree *Node
	if err := tree.Validate(); err != nil {
		t.Fatalf("nil tree should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	var perr *PatternError
	tests := []struct {
		name string
		tree *Node
	}{
		{"empty and", And()},
		{"empty or", Or()},
		{"not without child", &Node{Kind: KindNot}},
		{"square allows nothing", Square(sq("a1"), 0)},
		{"square out of range", Square(board.Square(64), AllowEmpty)},
		{"count inverted range", Count(board.Queen, board.White, 2, 1)},
		{"count bad type", Count(board.NoPieceType, board.White, 0, 1)},
		{"move range inverted", MoveRange(10, 2)},
		{"count bound over a byte", Count(board.Queen, board.White, 0, 1000)},
		{"ply bound over uint16", MoveRange(0, NoMaxPly+1)},
		{"castling cares about nothing", Castling(0, 0)},
		{"castling rights outside care", Castling(board.WhiteKingside, board.BlackKingside)},
		{"contradictory squares", And(
			Piece(sq("e4"), board.White, board.Pawn),
			Empty(sq("e4")),
		)},
		{"nested invalid child", Or(SideToMove(board.White), And())},
	}
	for _, tt := range tests {
		err := tt.tree.Validate()
		if err == nil {
			t.Errorf("%s: validated", tt.name)
			continue
		}
		if !errors.As(err, &perr) {
			t.Errorf("%s: got %T, want *PatternError", tt.name, err)
		}
	}
}

func TestOverlappingSquareConstraintsAllowed(t *testing.T) {
	// e4 must be a white pawn or empty, and a white pawn or knight: the
	// intersection (white pawn) is satisfiable.
	wp := AllowPiece(board.MakePiece(board.White, board.Pawn))
	wn := AllowPiece(board.MakePiece(board.White, board.Knight))
	tree := And(
		Square(sq("e4"), wp|AllowEmpty),
		Square(sq("e4"), wp|wn),
	)
	if err := tree.Validate(); err != nil {
		t.Fatalf("satisfiable overlap rejected: %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tree := And(
		Piece(sq("d5"), board.Black, board.Knight),
		Empty(sq("d4")),
		SideToMove(board.White),
		Castling(board.WhiteKingside, board.WhiteKingside|board.WhiteQueenside),
		EnPassant(EPAtSquare, sq("d6")),
		MoveRange(4, NoMaxPly),
		Not(Count(board.Queen, board.Black, 0, 0)),
	)
	data := tree.Encode()
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Encode(), data) {
		t.Fatal("re-encode differs from original encoding")
	}
}

func TestDecodeEmpty(t *testing.T) {
	n, err := Decode(nil)
	if err != nil || n != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", n, err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	data := And(SideToMove(board.White), Empty(sq("e4"))).Encode()
	for _, n := range []int{1, 2, len(data) - 1} {
		if _, err := Decode(data[:n]); err == nil {
			t.Errorf("decode of %d bytes succeeded", n)
		}
	}
	if _, err := Decode([]byte{0xEE}); err == nil {
		t.Error("decode of unknown kind succeeded")
	}
}

func TestDecodeValidates(t *testing.T) {
	// structurally sound but semantically empty: an And with zero children
	if _, err := Decode([]byte{byte(KindAnd), 0}); err == nil {
		t.Fatal("decode accepted an empty and")
	}
}
