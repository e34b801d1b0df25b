// Package importer reads PGN files and feeds them to the indexer. Parsing
// is delegated to the external parser; this package converts its output to
// board moves, validates the replay and isolates per-game failures.
package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/eco"
	"github.com/freeeve/chessdex/internal/game"
	"github.com/freeeve/chessdex/internal/index"
	"github.com/freeeve/chessdex/internal/replay"
)

// ParseError reports a file the parser could not read. Games parsed
// before the failure are already stored.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Config configures an import run.
type Config struct {
	// Workers bounds parallel file processing.
	Workers int
	// Repertoire stores every imported game as a repertoire game.
	Repertoire bool
	// Openings, when set, stamps ECO and Opening tags on games that
	// arrive without them.
	Openings *eco.Database
	Logger   zerolog.Logger
}

// Stats counts the outcome of a run.
type Stats struct {
	Files    int64
	BadFiles int64 // files the parser could not read
	Games    int64
	Broken   int64 // stored partially indexed with a reason
	Failed   int64 // not stored at all
}

type Importer struct {
	cfg Config
	ix  *index.Indexer
	log zerolog.Logger

	games  atomic.Int64
	broken atomic.Int64
	failed atomic.Int64

	mu       sync.Mutex
	fileErrs []error
}

func New(cfg Config, ix *index.Indexer) *Importer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Importer{cfg: cfg, ix: ix, log: cfg.Logger}
}

// Run imports the given PGN files, processing up to cfg.Workers files in
// parallel. All records of the run carry the same batch id, which is
// returned with the stats. A file the parser cannot read does not stop
// the other files; its ParseError is joined into the returned error.
func (im *Importer) Run(ctx context.Context, paths []string) (Stats, string, error) {
	batch := uuid.NewString()
	start := time.Now()
	im.log.Info().
		Int("files", len(paths)).
		Int("workers", im.cfg.Workers).
		Str("batch", batch).
		Msg("import starting")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.Workers)
	for _, path := range paths {
		g.Go(func() error {
			return im.importFile(ctx, path, batch)
		})
	}
	err := g.Wait()

	im.mu.Lock()
	fileErrs := im.fileErrs
	im.mu.Unlock()

	stats := Stats{
		Files:    int64(len(paths)),
		BadFiles: int64(len(fileErrs)),
		Games:    im.games.Load(),
		Broken:   im.broken.Load(),
		Failed:   im.failed.Load(),
	}
	im.log.Info().
		Int64("games", stats.Games).
		Int64("broken", stats.Broken).
		Int64("failed", stats.Failed).
		Int64("bad_files", stats.BadFiles).
		Dur("elapsed", time.Since(start)).
		Str("batch", batch).
		Msg("import finished")
	if err == nil && len(fileErrs) > 0 {
		err = errors.Join(fileErrs...)
	}
	return stats, batch, err
}

func (im *Importer) importFile(ctx context.Context, path, batch string) error {
	log := im.log.With().Str("file", filepath.Base(path)).Logger()
	log.Info().Msg("starting file import")

	start := time.Now()
	var games int64
	lastLog := time.Now()

	parser := pgn.Games(path)
	stopped := false
gameLoop:
	for parsed := range parser.Games {
		select {
		case <-ctx.Done():
			if !stopped {
				parser.Stop()
				stopped = true
			}
			break gameLoop
		default:
		}

		rec, err := im.convert(parsed, batch)
		if err != nil {
			im.failed.Add(1)
			log.Error().Err(err).Msg("game dropped")
			continue
		}
		if err = im.ix.Insert(ctx, rec); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			im.failed.Add(1)
			log.Error().Err(err).Msg("game not stored")
			continue
		}
		games++
		im.games.Add(1)

		if time.Since(lastLog) > 10*time.Second {
			elapsed := time.Since(start)
			log.Info().
				Int64("games", games).
				Float64("games_per_sec", float64(games)/elapsed.Seconds()).
				Msg("import progress")
			lastLog = time.Now()
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := parser.Err(); err != nil {
		// Recorded rather than returned so a bad file does not cancel
		// the group and abort the sibling files.
		perr := &ParseError{Path: path, Err: err}
		log.Error().Err(perr).Msg("file failed to parse")
		im.mu.Lock()
		im.fileErrs = append(im.fileErrs, perr)
		im.mu.Unlock()
		return nil
	}
	log.Info().
		Int64("games", games).
		Dur("elapsed", time.Since(start)).
		Msg("file import complete")
	return nil
}

// convert builds a record from one parsed game. An illegal move mid-game
// keeps the legal prefix and marks the record broken.
func (im *Importer) convert(parsed *pgn.Game, batch string) (*game.Record, error) {
	rec := &game.Record{
		Repertoire: im.cfg.Repertoire,
		Batch:      batch,
	}
	for name, value := range parsed.Tags {
		rec.SetTag(name, value)
	}
	if rec.Result == "" {
		rec.Result = "*"
	}
	if fen := rec.Tag("FEN"); fen != "" && rec.Tag("SetUp") != "0" {
		rec.StartFEN = fen
	}
	start, err := rec.StartPos()
	if err != nil {
		return nil, err
	}

	moves := make([]board.Move, len(parsed.Moves))
	for i, mv := range parsed.Moves {
		moves[i] = convertMove(mv)
	}
	valid, err := validPrefix(start, moves)
	if err != nil {
		var serr *replay.SequenceError
		if !errors.As(err, &serr) {
			return nil, err
		}
		rec.Broken = true
		rec.Reason = serr.Error()
		im.broken.Add(1)
		im.log.Warn().
			Str("white", rec.White).
			Str("black", rec.Black).
			Int("ply", serr.Ply).
			Msg("illegal move, game stored partially indexed")
	}
	rec.Moves = valid
	rec.PlyCount = len(valid)

	if im.cfg.Openings != nil && rec.Tag("ECO") == "" && rec.StartFEN == "" {
		if o := im.cfg.Openings.Classify(rec.Moves); o != nil {
			rec.SetTag("ECO", o.ECO)
			if rec.Tag("Opening") == "" {
				rec.SetTag("Opening", o.Name)
			}
		}
	}
	return rec, nil
}

func convertMove(mv pgn.Mv) board.Move {
	m := board.Move{From: board.Square(mv.From), To: board.Square(mv.To)}
	switch mv.Promo {
	case pgn.PromoQueen:
		m.Promo = board.Queen
	case pgn.PromoRook:
		m.Promo = board.Rook
	case pgn.PromoBishop:
		m.Promo = board.Bishop
	case pgn.PromoKnight:
		m.Promo = board.Knight
	}
	return m
}

// validPrefix replays moves from start and returns the longest legal
// prefix. The error, if any, is the SequenceError that cut the game short.
func validPrefix(start board.Board, moves []board.Move) ([]board.Move, error) {
	seq := replay.NewFrom(start, moves)
	n := 0
	for {
		ply, _, ok, err := seq.Next()
		if err != nil {
			return moves[:n], err
		}
		if !ok {
			return moves, nil
		}
		n = ply
	}
}
