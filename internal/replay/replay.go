// Package replay turns an ordered move list into the sequence of positions a
// game passes through. Replays are deterministic and restartable; the same
// move list always yields the same position sequence.
package replay

import (
	"fmt"

	"github.com/freeeve/chessdex/internal/board"
)

// SequenceError reports the first illegal move found while replaying a game.
// Positions before Ply were valid and have already been yielded.
type SequenceError struct {
	Ply int
	Err error
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("replay stopped at ply %d: %v", e.Ply, e.Err)
}

func (e *SequenceError) Unwrap() error { return e.Err }

// Sequencer replays one move list from a fixed starting position.
type Sequencer struct {
	start board.Board
	moves []board.Move

	cur  board.Board
	ply  int
	done bool
}

// New returns a sequencer over moves from the standard starting position.
func New(moves []board.Move) *Sequencer {
	return NewFrom(board.Initial(), moves)
}

// NewFrom returns a sequencer over moves from a given starting position
// (games with a FEN tag).
func NewFrom(start board.Board, moves []board.Move) *Sequencer {
	s := &Sequencer{start: start, moves: moves}
	s.Reset()
	return s
}

// Reset rewinds the sequencer to ply 0.
func (s *Sequencer) Reset() {
	s.cur = s.start
	s.ply = -1
	s.done = false
}

// Next yields the next (ply, position) pair. Ply 0 is the position before any
// move; ply n the position after the n-th half-move. After the last position,
// or at the first illegal move, ok is false; err is a *SequenceError when the
// replay stopped early.
func (s *Sequencer) Next() (ply int, b board.Board, ok bool, err error) {
	if s.done {
		return 0, board.Board{}, false, nil
	}
	if s.ply < 0 {
		s.ply = 0
		return 0, s.cur, true, nil
	}
	if s.ply >= len(s.moves) {
		s.done = true
		return 0, board.Board{}, false, nil
	}
	next, aerr := s.cur.Apply(s.moves[s.ply])
	if aerr != nil {
		s.done = true
		return 0, board.Board{}, false, &SequenceError{Ply: s.ply + 1, Err: aerr}
	}
	s.cur = next
	s.ply++
	return s.ply, s.cur, true, nil
}

// Each replays from ply 0 and calls fn for every position reached. Iteration
// stops when fn returns false. The returned error is a *SequenceError when an
// illegal move cut the replay short; positions before it were still visited.
func (s *Sequencer) Each(fn func(ply int, b board.Board) bool) error {
	s.Reset()
	for {
		ply, b, ok, err := s.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !fn(ply, b) {
			return nil
		}
	}
}

// Positions replays the whole list eagerly and returns every position
// reached, plus a *SequenceError if the replay stopped early.
func (s *Sequencer) Positions() ([]board.Board, error) {
	var out []board.Board
	err := s.Each(func(_ int, b board.Board) bool {
		out = append(out, b)
		return true
	})
	return out, err
}
