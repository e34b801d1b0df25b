// Package index writes and maintains the position indexes: for every ply
// of every game, entries in the position, piece-square, material and state
// tables, plus a per-ply state record used by query post-filters. All
// mutations for one game happen in one transaction.
package index

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/game"
	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/poskey"
	"github.com/freeeve/chessdex/internal/replay"
)

// ErrNoGame reports a game id with no stored record.
var ErrNoGame = errors.New("index: game not found")

// ErrSchemaMismatch reports a store written by an incompatible key schema.
// The index must be rebuilt before use.
var ErrSchemaMismatch = errors.New("index: schema version mismatch")

type Indexer struct {
	store kv.Store
	log   zerolog.Logger
}

func New(store kv.Store, log zerolog.Logger) *Indexer {
	return &Indexer{store: store, log: log}
}

// EnsureSchema stamps a fresh store with the current key schema version
// and rejects stores written by a different one.
func EnsureSchema(store kv.Store) error {
	return kv.Update(store, func(txn kv.Txn) error {
		v, err := txn.Get(poskey.MetaSchemaKey)
		if errors.Is(err, kv.ErrNotFound) {
			return txn.Put(poskey.MetaSchemaKey, []byte{poskey.SchemaVersion})
		}
		if err != nil {
			return err
		}
		if len(v) != 1 || v[0] != poskey.SchemaVersion {
			return fmt.Errorf("%w: store has %v, this build writes %d",
				ErrSchemaMismatch, v, poskey.SchemaVersion)
		}
		return nil
	})
}

// allocateID hands out the next game id from the persisted counter.
func allocateID(txn kv.Txn) (uint64, error) {
	var next uint64 = 1
	v, err := txn.Get(poskey.MetaNextIDKey)
	if err == nil {
		if len(v) != 8 {
			return 0, fmt.Errorf("index: corrupt id counter (%d bytes)", len(v))
		}
		next = binary.BigEndian.Uint64(v)
	} else if !errors.Is(err, kv.ErrNotFound) {
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next+1)
	if err := txn.Put(poskey.MetaNextIDKey, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// entry is one derived index mutation.
type entry struct {
	key   []byte
	value []byte
}

// derive replays the record's moves and produces every index entry and
// per-ply state record for it. Ply 0 is the position before any move.
func derive(rec *game.Record) ([]entry, error) {
	ns := poskey.Games()
	if rec.Repertoire {
		ns = poskey.Repertoire()
	}
	start, err := rec.StartPos()
	if err != nil {
		return nil, err
	}
	var entries []entry
	seq := replay.NewFrom(start, rec.Moves)
	for {
		ply, b, ok, err := seq.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		ref := poskey.EntryRef{Game: rec.ID, Ply: uint16(ply)}

		full, err := poskey.EncodeFull(b)
		if err != nil {
			return nil, err
		}
		state, err := poskey.EncodeState(b)
		if err != nil {
			return nil, err
		}
		material := poskey.EncodeMaterial(b)

		entries = append(entries,
			entry{key: poskey.PositionEntryKey(ns.Position, full, ref)},
			entry{key: poskey.MaterialEntryKey(ns.Material, material, ref)},
			entry{key: poskey.StateEntryKey(ns.State, state, ref)},
			entry{
				key:   poskey.PlyStateKey(ref),
				value: poskey.PlyStateValue{State: state, Material: material}.Encode(),
			},
		)
		for sq := 0; sq < 64; sq++ {
			p := b.Squares[sq]
			if p.IsEmpty() {
				continue
			}
			ps := poskey.EncodePieceSquare(p, board.Square(sq))
			entries = append(entries, entry{
				key: poskey.PieceSquareEntryKey(ns.PieceSquare, ps, ref),
			})
		}
	}
	return entries, nil
}

// Insert stores the record and all its index entries in one transaction.
// A zero id gets the next id from the counter; the assigned id is written
// back to rec.
func (ix *Indexer) Insert(ctx context.Context, rec *game.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := derive(rec)
	if err != nil {
		return err
	}
	err = kv.Update(ix.store, func(txn kv.Txn) error {
		if rec.ID == 0 {
			id, err := allocateID(txn)
			if err != nil {
				return err
			}
			rec.ID = id
			// entry refs carry the id; re-derive now that it is known
			entries, err = derive(rec)
			if err != nil {
				return err
			}
		}
		if err := txn.Put(poskey.GameKey(rec.ID), rec.Encode()); err != nil {
			return err
		}
		for _, e := range entries {
			if err := txn.Put(e.key, e.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	ix.log.Debug().
		Uint64("game", rec.ID).
		Int("plies", rec.PlyCount).
		Bool("repertoire", rec.Repertoire).
		Msg("indexed game")
	return nil
}

// Get loads one game record.
func (ix *Indexer) Get(id uint64) (*game.Record, error) {
	var data []byte
	err := kv.View(ix.store, func(txn kv.Txn) error {
		v, err := txn.Get(poskey.GameKey(id))
		data = v
		return err
	})
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNoGame, id)
	}
	if err != nil {
		return nil, err
	}
	rec, err := game.Decode(data)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	return rec, nil
}

// Update replaces a stored game: the old entries, re-derived from the old
// record's move list, are deleted and the new ones written, all in one
// transaction.
func (ix *Indexer) Update(ctx context.Context, rec *game.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == 0 {
		return fmt.Errorf("index: update needs an id")
	}
	old, err := ix.Get(rec.ID)
	if err != nil {
		return err
	}
	oldEntries, err := derive(old)
	if err != nil {
		return fmt.Errorf("index: re-derive game %d: %w", rec.ID, err)
	}
	newEntries, err := derive(rec)
	if err != nil {
		return err
	}
	return kv.Update(ix.store, func(txn kv.Txn) error {
		for _, e := range oldEntries {
			if err := txn.Delete(e.key); err != nil {
				return err
			}
		}
		if err := txn.Put(poskey.GameKey(rec.ID), rec.Encode()); err != nil {
			return err
		}
		for _, e := range newEntries {
			if err := txn.Put(e.key, e.value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a game record and every index entry derived from it.
// Deleting an absent id returns ErrNoGame.
func (ix *Indexer) Delete(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	old, err := ix.Get(id)
	if err != nil {
		return err
	}
	entries, err := derive(old)
	if err != nil {
		return fmt.Errorf("index: re-derive game %d: %w", id, err)
	}
	return kv.Update(ix.store, func(txn kv.Txn) error {
		for _, e := range entries {
			if err := txn.Delete(e.key); err != nil {
				return err
			}
		}
		return txn.Delete(poskey.GameKey(id))
	})
}

// EachGame calls fn for every stored game record in id order.
func (ix *Indexer) EachGame(fn func(*game.Record) error) error {
	return kv.View(ix.store, func(txn kv.Txn) error {
		cur, err := txn.Scan(poskey.TablePrefix(poskey.TableGame))
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
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
				return fmt.Errorf("index: decode game %d: %w", id, err)
			}
			rec.ID = id
			if err = fn(rec); err != nil {
				return err
			}
		}
	})
}
