package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/freeeve/chessdex/internal/eco"
	"github.com/freeeve/chessdex/internal/importer"
	"github.com/freeeve/chessdex/internal/index"
	"github.com/freeeve/chessdex/internal/kv"
	_ "github.com/freeeve/chessdex/internal/kv/memory"
	_ "github.com/freeeve/chessdex/internal/kv/segment"
	_ "github.com/freeeve/chessdex/internal/kv/sqlite"
	"github.com/freeeve/chessdex/internal/logx"
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
	defaultWorkers := 4
	if env := os.Getenv("CHESSDEX_WORKERS"); env != "" {
		if n, err := strconv.Atoi(env); err == nil {
			defaultWorkers = n
		}
	}

	var (
		engine     = flag.String("store-engine", defaultEngine, "Storage engine (memory, sqlite, segment)")
		dataPath   = flag.String("data", defaultData, "Data directory or database file")
		workers    = flag.Int("workers", defaultWorkers, "Parallel PGN files")
		repertoire = flag.Bool("repertoire", false, "Store games as repertoire games")
		ecoDir     = flag.String("eco", os.Getenv("CHESSDEX_ECO"), "Directory of ECO .tsv files for opening tags")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: import [options] <file.pgn> [file.pgn ...]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logx.NewLogger()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := kv.Open(kv.Config{Engine: *engine, Path: *dataPath})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	if err := index.EnsureSchema(store); err != nil {
		if errors.Is(err, index.ErrSchemaMismatch) {
			logger.Fatal().Err(err).Msg("run reindex to migrate this store")
		}
		logger.Fatal().Err(err).Msg("check schema")
	}

	var openings *eco.Database
	if *ecoDir != "" {
		openings = eco.NewDatabase()
		if err := openings.LoadDir(*ecoDir); err != nil {
			logger.Fatal().Err(err).Msg("load eco database")
		}
		logger.Info().Int("openings", openings.Count()).Msg("eco database loaded")
	}

	ix := index.New(store, logger)
	im := importer.New(importer.Config{
		Workers:    *workers,
		Repertoire: *repertoire,
		Openings:   openings,
		Logger:     logger,
	}, ix)

	stats, batch, err := im.Run(ctx, flag.Args())
	logger.Info().
		Int64("games", stats.Games).
		Int64("broken", stats.Broken).
		Int64("failed", stats.Failed).
		Int64("bad_files", stats.BadFiles).
		Str("batch", batch).
		Msg("done")
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("some files failed to import")
		os.Exit(1)
	}
}
