// Package query evaluates partial-position patterns against the index.
// Indexed leaves resolve to sets of (game, ply) references; And intersects
// them ply by ply, Or unions them, Not complements within the enclosing
// scope. State tests (side to move, castling, en passant, move range) run
// last against the per-ply state records.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/game"
	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/pattern"
	"github.com/freeeve/chessdex/internal/poskey"
)

// QueryError reports a failed index lookup after its retry, naming the
// sub-key involved.
type QueryError struct {
	SubKey string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.SubKey, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Options configure one evaluation.
type Options struct {
	// Repertoire queries the repertoire index instead of ordinary games.
	Repertoire bool
	// OrderByDate orders matches by the Date tag, then id. Default is id
	// order.
	OrderByDate bool
}

// Match is one matching game with every matching ply, ascending. The
// first ply is the navigation target.
type Match struct {
	Game  *game.Record
	Plies []int
}

type Evaluator struct {
	store kv.Store
	log   zerolog.Logger
}

func New(store kv.Store, log zerolog.Logger) *Evaluator {
	return &Evaluator{store: store, log: log}
}

type refSet map[poskey.EntryRef]struct{}

func (s refSet) clone() refSet {
	out := make(refSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

// Throughout the evaluation a nil scope stands for the whole universe of
// (game, ply) references in the namespace. Index leaves scan
// namespace-restricted tables, so with a nil scope they accept every ref
// they find and the universe is never built; only Not, ply-range and
// state leaves at universe scope, and the empty pattern, force it.
type evaluation struct {
	ev         *Evaluator
	ctx        context.Context
	ns         poskey.Namespace
	repertoire bool
	// uni is the materialized universe, built on first demand.
	uni refSet
	// recs caches game records loaded for the universe or the result.
	recs map[uint64]*game.Record
	// states caches per-ply state records for the filter leaves.
	states map[poskey.EntryRef]poskey.PlyStateValue
}

// Run evaluates the pattern. A nil tree matches every ply of every game
// in the namespace; no matches yields an empty, non-nil result.
func (ev *Evaluator) Run(ctx context.Context, tree *pattern.Node, opts Options) ([]Match, error) {
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	e := &evaluation{
		ev:         ev,
		ctx:        ctx,
		ns:         poskey.Games(),
		repertoire: opts.Repertoire,
		recs:       make(map[uint64]*game.Record),
		states:     make(map[poskey.EntryRef]poskey.PlyStateValue),
	}
	if opts.Repertoire {
		e.ns = poskey.Repertoire()
	}

	set, err := e.eval(tree, nil)
	if err != nil {
		return nil, err
	}
	return e.assemble(set, opts)
}

// inScope reports whether r belongs to the scope; a nil scope holds
// everything.
func (e *evaluation) inScope(scope refSet, r poskey.EntryRef) bool {
	if scope == nil {
		return true
	}
	_, ok := scope[r]
	return ok
}

// materialize resolves a nil scope to the full universe of indexed plies,
// scanning the game records once and keeping them for assemble.
func (e *evaluation) materialize(scope refSet) (refSet, error) {
	if scope != nil {
		return scope, nil
	}
	if e.uni != nil {
		return e.uni, nil
	}
	set := make(refSet)
	err := e.withRetry("games", func(txn kv.Txn) error {
		cur, err := txn.Scan(poskey.TablePrefix(poskey.TableGame))
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
			if err := e.ctx.Err(); err != nil {
				return err
			}
			k, v, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			id, err := poskey.GameIDFromKey(k)
			if err != nil {
				return err
			}
			rec, err := game.Decode(v)
			if err != nil {
				return fmt.Errorf("decode game %d: %w", id, err)
			}
			if rec.Repertoire != e.repertoire {
				continue
			}
			rec.ID = id
			e.recs[id] = rec
			for ply := 0; ply <= rec.PlyCount; ply++ {
				set[poskey.EntryRef{Game: id, Ply: uint16(ply)}] = struct{}{}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	e.uni = set
	return set, nil
}

// eval returns the subset of scope matching the node. A nil node matches
// all of scope.
func (e *evaluation) eval(n *pattern.Node, scope refSet) (refSet, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	if n == nil {
		full, err := e.materialize(scope)
		if err != nil {
			return nil, err
		}
		return full.clone(), nil
	}
	switch n.Kind {
	case pattern.KindAnd:
		cur := scope
		for _, c := range n.Children {
			sub, err := e.eval(c, cur)
			if err != nil {
				return nil, err
			}
			cur = sub
			if len(cur) == 0 {
				break
			}
		}
		return cur, nil
	case pattern.KindOr:
		out := make(refSet)
		for _, c := range n.Children {
			sub, err := e.eval(c, scope)
			if err != nil {
				return nil, err
			}
			for r := range sub {
				out[r] = struct{}{}
			}
		}
		return out, nil
	case pattern.KindNot:
		full, err := e.materialize(scope)
		if err != nil {
			return nil, err
		}
		sub, err := e.eval(n.Children[0], full)
		if err != nil {
			return nil, err
		}
		out := make(refSet)
		for r := range full {
			if _, ok := sub[r]; !ok {
				out[r] = struct{}{}
			}
		}
		return out, nil
	case pattern.KindSquare:
		return e.evalSquare(n, scope)
	case pattern.KindCount:
		return e.evalCount(n, scope)
	case pattern.KindMoveRange:
		full, err := e.materialize(scope)
		if err != nil {
			return nil, err
		}
		out := make(refSet)
		for r := range full {
			if int(r.Ply) >= n.MinPly && int(r.Ply) <= n.MaxPly {
				out[r] = struct{}{}
			}
		}
		return out, nil
	case pattern.KindSideToMove, pattern.KindCastling, pattern.KindEnPassant:
		return e.filterByState(n, scope)
	}
	return nil, &pattern.PatternError{Reason: fmt.Sprintf("unknown node kind %d", n.Kind)}
}

// evalSquare resolves a square constraint from the piece-square table: the
// union of scans for each allowed piece, plus the scope complement of all
// occupants when empty is allowed.
func (e *evaluation) evalSquare(n *pattern.Node, scope refSet) (refSet, error) {
	needOccupied := n.Allowed&pattern.AllowEmpty != 0
	if needOccupied {
		// The empty-square complement runs over the scope.
		full, err := e.materialize(scope)
		if err != nil {
			return nil, err
		}
		scope = full
	}

	out := make(refSet)
	occupied := make(refSet)
	for c := board.White; c <= board.Black; c++ {
		for t := board.Pawn; t <= board.King; t++ {
			p := board.MakePiece(c, t)
			wanted := n.Allowed&pattern.AllowPiece(p) != 0
			if !wanted && !needOccupied {
				continue
			}
			ps := poskey.EncodePieceSquare(p, n.Square)
			prefix := poskey.PieceSquarePrefix(e.ns.PieceSquare, ps)
			subKey := fmt.Sprintf("piece-square %s@%s", p, n.Square)
			refs, err := e.scanRefs(subKey, prefix)
			if err != nil {
				return nil, err
			}
			for _, r := range refs {
				if !e.inScope(scope, r) {
					continue
				}
				if wanted {
					out[r] = struct{}{}
				}
				if needOccupied {
					occupied[r] = struct{}{}
				}
			}
		}
	}
	if needOccupied {
		for r := range scope {
			if _, ok := occupied[r]; !ok {
				out[r] = struct{}{}
			}
		}
	}
	return out, nil
}

// evalCount scans the material table and keeps refs whose count for the
// piece falls inside the range.
func (e *evaluation) evalCount(n *pattern.Node, scope refSet) (refSet, error) {
	prefix := poskey.TablePrefix(e.ns.Material)
	subKey := fmt.Sprintf("material %s %s", n.Color, n.PieceType)
	out := make(refSet)
	err := e.withRetry(subKey, func(txn kv.Txn) error {
		cur, err := txn.Scan(prefix)
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
			if err := e.ctx.Err(); err != nil {
				return err
			}
			k, _, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			m, err := poskey.MaterialFromKey(k)
			if err != nil {
				return err
			}
			count := m.Count(n.Color, n.PieceType)
			if count < n.Min || count > n.Max {
				continue
			}
			ref, err := poskey.RefFromKey(k)
			if err != nil {
				return err
			}
			if e.inScope(scope, ref) {
				out[ref] = struct{}{}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// filterByState keeps the scope refs whose stored per-ply state satisfies
// the node.
func (e *evaluation) filterByState(n *pattern.Node, scope refSet) (refSet, error) {
	full, err := e.materialize(scope)
	if err != nil {
		return nil, err
	}
	out := make(refSet)
	for r := range full {
		if err := e.ctx.Err(); err != nil {
			return nil, err
		}
		st, err := e.state(r)
		if err != nil {
			return nil, err
		}
		if stateMatches(n, st) {
			out[r] = struct{}{}
		}
	}
	return out, nil
}

func stateMatches(n *pattern.Node, v poskey.PlyStateValue) bool {
	switch n.Kind {
	case pattern.KindSideToMove:
		return v.State.BlackToMove() == (n.Color == board.Black)
	case pattern.KindCastling:
		return v.State.Castling()&n.Care == n.Rights
	case pattern.KindEnPassant:
		ep := v.State.EPTarget()
		switch n.EPMode {
		case pattern.EPNone:
			return ep == board.NoSquare
		case pattern.EPAny:
			return ep != board.NoSquare
		default:
			return ep == n.Square
		}
	}
	return false
}

// state loads one per-ply state record, retrying once.
func (e *evaluation) state(r poskey.EntryRef) (poskey.PlyStateValue, error) {
	if v, ok := e.states[r]; ok {
		return v, nil
	}
	key := poskey.PlyStateKey(r)
	var v poskey.PlyStateValue
	subKey := fmt.Sprintf("ply-state %d/%d", r.Game, r.Ply)
	err := e.withRetry(subKey, func(txn kv.Txn) error {
		data, err := txn.Get(key)
		if err != nil {
			return err
		}
		v, err = poskey.DecodePlyStateValue(data)
		return err
	})
	if err != nil {
		return poskey.PlyStateValue{}, err
	}
	e.states[r] = v
	return v, nil
}

// scanRefs collects the entry refs under one index prefix.
func (e *evaluation) scanRefs(subKey string, prefix []byte) ([]poskey.EntryRef, error) {
	var refs []poskey.EntryRef
	err := e.withRetry(subKey, func(txn kv.Txn) error {
		refs = refs[:0]
		cur, err := txn.Scan(prefix)
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
			if err := e.ctx.Err(); err != nil {
				return err
			}
			k, _, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			ref, err := poskey.RefFromKey(k)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// withRetry runs fn in a read transaction, retrying once on failure. A
// second failure surfaces as a QueryError naming the sub-key. Cancellation
// is not retried.
func (e *evaluation) withRetry(subKey string, fn func(kv.Txn) error) error {
	err := kv.View(e.ev.store, fn)
	if err == nil {
		return nil
	}
	if e.ctx.Err() != nil {
		return e.ctx.Err()
	}
	e.ev.log.Warn().Err(err).Str("sub_key", subKey).Msg("lookup failed, retrying")
	if err = kv.View(e.ev.store, fn); err == nil {
		return nil
	}
	if e.ctx.Err() != nil {
		return e.ctx.Err()
	}
	return &QueryError{SubKey: subKey, Err: err}
}

// assemble groups refs by game, loads the matching records and orders the
// result. Only matched games are read.
func (e *evaluation) assemble(set refSet, opts Options) ([]Match, error) {
	plies := make(map[uint64][]int)
	for r := range set {
		plies[r.Game] = append(plies[r.Game], int(r.Ply))
	}
	matches := make([]Match, 0, len(plies))
	for id, p := range plies {
		rec, err := e.gameRecord(id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		sort.Ints(p)
		matches = append(matches, Match{Game: rec, Plies: p})
	}
	sort.Slice(matches, func(i, j int) bool {
		if opts.OrderByDate && matches[i].Game.Date != matches[j].Game.Date {
			return matches[i].Game.Date < matches[j].Game.Date
		}
		return matches[i].Game.ID < matches[j].Game.ID
	})
	return matches, nil
}

// gameRecord loads one game record, nil when it vanished mid-query.
func (e *evaluation) gameRecord(id uint64) (*game.Record, error) {
	if rec, ok := e.recs[id]; ok {
		return rec, nil
	}
	var rec *game.Record
	subKey := fmt.Sprintf("game %d", id)
	err := e.withRetry(subKey, func(txn kv.Txn) error {
		v, err := txn.Get(poskey.GameKey(id))
		if err != nil {
			return err
		}
		rec, err = game.Decode(v)
		return err
	})
	if err != nil {
		// Refs can outlive their record when a delete lands between the
		// leaf scan and the load.
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec.ID = id
	e.recs[id] = rec
	return rec, nil
}
