package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	var (
		engine   = flag.String("store-engine", defaultEngine, "Storage engine (memory, sqlite, segment)")
		dataPath = flag.String("data", defaultData, "Data directory or database file")
		lockDir  = flag.String("lock-dir", "", "Directory for the reindex lock (defaults to the data directory)")
	)
	flag.Parse()

	logger := logx.NewLogger()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dir := *lockDir
	if dir == "" {
		dir = *dataPath
	}
	if index.Locked(dir) {
		logger.Fatal().Str("dir", dir).Msg("another reindex is already running")
	}

	store, err := kv.Open(kv.Config{Engine: *engine, Path: *dataPath})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	start := time.Now()
	ix := index.New(store, logger)
	if err := ix.Rebuild(ctx, dir); err != nil {
		logger.Fatal().Err(err).Msg("rebuild failed")
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("rebuild complete")
}
