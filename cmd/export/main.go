package main

import (
	"bufio"
	"flag"
	"io"
	"os"

	"github.com/freeeve/chessdex/internal/export"
	"github.com/freeeve/chessdex/internal/game"
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
		gameID   = flag.Uint64("game", 0, "Export a single game by id (0 exports everything)")
		mode     = flag.String("mode", "full", "Export mode (full, reduced, import)")
		outPath  = flag.String("out", "", "Output file (defaults to stdout)")
	)
	flag.Parse()

	logger := logx.NewLogger()

	var m export.Mode
	switch *mode {
	case "full":
		m = export.ModeFull
	case "reduced":
		m = export.ModeReduced
	case "import":
		m = export.ModeImport
	default:
		logger.Fatal().Str("mode", *mode).Msg("invalid export mode")
	}

	store, err := kv.Open(kv.Config{Engine: *engine, Path: *dataPath})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()
	if err := index.EnsureSchema(store); err != nil {
		logger.Fatal().Err(err).Msg("check schema")
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("create output file")
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)

	ix := index.New(store, logger)
	exported := 0
	if *gameID != 0 {
		rec, err := ix.Get(*gameID)
		if err != nil {
			logger.Fatal().Err(err).Uint64("game", *gameID).Msg("load game")
		}
		if err := export.Game(w, rec, m); err != nil {
			logger.Fatal().Err(err).Uint64("game", *gameID).Msg("export game")
		}
		exported++
	} else {
		err := ix.EachGame(func(rec *game.Record) error {
			if err := export.Game(w, rec, m); err != nil {
				return err
			}
			exported++
			return nil
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("export failed")
		}
	}
	if err := w.Flush(); err != nil {
		logger.Fatal().Err(err).Msg("flush output")
	}
	logger.Info().Int("games", exported).Str("mode", *mode).Msg("export complete")
}
