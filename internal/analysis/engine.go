package analysis

import (
	"context"
	"fmt"

	"github.com/freeeve/uci"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/game"
	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/replay"
)

// Config configures an analysis session.
type Config struct {
	// EnginePath is the UCI engine binary.
	EnginePath string
	// Name keys stored lines. Defaults to the binary path.
	Name    string
	Depth   int
	HashMB  int
	Threads int
	Logger  zerolog.Logger
}

// Analyzer drives one UCI engine process and persists its output.
type Analyzer struct {
	cfg    Config
	store  kv.Store
	engine *uci.Engine
	log    zerolog.Logger
}

func NewAnalyzer(cfg Config, store kv.Store) (*Analyzer, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.EnginePath
	}
	if cfg.Depth == 0 {
		cfg.Depth = 20
	}
	if cfg.HashMB == 0 {
		cfg.HashMB = 256
	}
	if cfg.Threads == 0 {
		cfg.Threads = 1
	}
	engine, err := uci.NewEngine(cfg.EnginePath)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	opts := uci.Options{
		Hash:    cfg.HashMB,
		Threads: cfg.Threads,
		MultiPV: 1,
		Ponder:  false,
		OwnBook: false,
	}
	if err := engine.SetOptions(opts); err != nil {
		engine.Close()
		return nil, fmt.Errorf("set engine options: %w", err)
	}
	return &Analyzer{cfg: cfg, store: store, engine: engine, log: cfg.Logger}, nil
}

func (a *Analyzer) Close() {
	a.engine.Close()
}

// Position analyzes one position and stores the resulting line.
func (a *Analyzer) Position(b board.Board) (Line, error) {
	fen := b.FEN()
	if err := a.engine.SetFEN(fen); err != nil {
		return Line{}, fmt.Errorf("set FEN: %w", err)
	}
	results, err := a.engine.GoDepth(a.cfg.Depth, uci.HighestDepthOnly)
	if err != nil {
		return Line{}, fmt.Errorf("engine eval: %w", err)
	}
	if len(results.Results) == 0 {
		return Line{}, fmt.Errorf("no results from engine")
	}
	best := results.Results[0]
	for _, r := range results.Results {
		if r.Depth > best.Depth {
			best = r
		}
	}

	// engine scores are from the side to move; store white's perspective
	score := best.Score
	if b.Turn == board.Black {
		score = -score
	}
	line := Line{
		Engine: a.cfg.Name,
		Depth:  best.Depth,
		Score:  score,
		Mate:   best.Mate,
		PV:     best.BestMoves,
	}
	if err := Put(a.store, b, line); err != nil {
		return Line{}, err
	}
	return line, nil
}

// Game analyzes every position of a record, skipping positions this
// engine already covered. Returns the number of new lines stored.
func (a *Analyzer) Game(ctx context.Context, rec *game.Record) (int, error) {
	start, err := rec.StartPos()
	if err != nil {
		return 0, err
	}
	seq := replay.NewFrom(start, rec.Moves)
	stored := 0
	for {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		ply, b, ok, err := seq.Next()
		if err != nil {
			return stored, err
		}
		if !ok {
			return stored, nil
		}
		done, err := Has(a.store, b, a.cfg.Name)
		if err != nil {
			return stored, err
		}
		if done {
			continue
		}
		line, err := a.Position(b)
		if err != nil {
			return stored, fmt.Errorf("game %d ply %d: %w", rec.ID, ply, err)
		}
		stored++
		a.log.Debug().
			Uint64("game", rec.ID).
			Int("ply", ply).
			Int("score", line.Score).
			Int("depth", line.Depth).
			Msg("position analyzed")
	}
}
