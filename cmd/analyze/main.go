package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freeeve/chessdex/internal/analysis"
	"github.com/freeeve/chessdex/internal/game"
	"github.com/freeeve/chessdex/internal/index"
	"github.com/freeeve/chessdex/internal/kv"
	_ "github.com/freeeve/chessdex/internal/kv/memory"
	_ "github.com/freeeve/chessdex/internal/kv/segment"
	_ "github.com/freeeve/chessdex/internal/kv/sqlite"
	"github.com/freeeve/chessdex/internal/logx"
	"github.com/rs/zerolog"
)

func main() {
	defaultEngine := "segment"
	if env := os.Getenv("CHESSDEX_ENGINE"); env != "" {
		defaultEngine = env
	}
	defaultData := "./data"
	if env := os.Getenv("CHESSDEX_DATA"); env != "" {
		defaultData = env
	}
	defaultUCI := "stockfish"
	if env := os.Getenv("CHESSDEX_UCI"); env != "" {
		defaultUCI = env
	}

	var (
		engine   = flag.String("store-engine", defaultEngine, "Storage engine (memory, sqlite, segment)")
		dataPath = flag.String("data", defaultData, "Data directory or database file")
		uciPath  = flag.String("engine-path", defaultUCI, "UCI engine binary")
		uciName  = flag.String("engine-name", "", "Name to store lines under (defaults to the binary path)")
		depth    = flag.Int("depth", 20, "Search depth per position")
		hashMB   = flag.Int("hash", 256, "Engine hash table size in MB")
		threads  = flag.Int("threads", 1, "Engine search threads")
		gameID   = flag.Uint64("game", 0, "Analyze a single game by id (0 analyzes everything)")
	)
	flag.Parse()

	logger := logx.NewLogger()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := kv.Open(kv.Config{Engine: *engine, Path: *dataPath})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()
	if err := index.EnsureSchema(store); err != nil {
		logger.Fatal().Err(err).Msg("check schema")
	}

	az, err := analysis.NewAnalyzer(analysis.Config{
		EnginePath: *uciPath,
		Name:       *uciName,
		Depth:      *depth,
		HashMB:     *hashMB,
		Threads:    *threads,
		Logger:     logger,
	}, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("start engine")
	}
	defer az.Close()

	ix := index.New(store, logger)
	start := time.Now()
	games, stored := 0, 0
	if *gameID != 0 {
		n, err := az.Game(ctx, mustGet(ix, *gameID, logger))
		if err != nil {
			logger.Fatal().Err(err).Uint64("game", *gameID).Msg("analyze game")
		}
		games, stored = 1, n
	} else {
		err := ix.EachGame(func(rec *game.Record) error {
			n, err := az.Game(ctx, rec)
			if err != nil {
				return err
			}
			games++
			stored += n
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("analysis failed")
		}
	}
	logger.Info().
		Int("games", games).
		Int("positions", stored).
		Dur("elapsed", time.Since(start)).
		Msg("analysis complete")
}

func mustGet(ix *index.Indexer, id uint64, logger zerolog.Logger) *game.Record {
	rec, err := ix.Get(id)
	if err != nil {
		logger.Fatal().Err(err).Uint64("game", id).Msg("load game")
	}
	return rec
}
