package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/freeeve/chessdex/internal/board"
	"github.com/freeeve/chessdex/internal/index"
	"github.com/freeeve/chessdex/internal/kv"
	_ "github.com/freeeve/chessdex/internal/kv/memory"
	_ "github.com/freeeve/chessdex/internal/kv/segment"
	_ "github.com/freeeve/chessdex/internal/kv/sqlite"
	"github.com/freeeve/chessdex/internal/logx"
	"github.com/freeeve/chessdex/internal/pattern"
	"github.com/freeeve/chessdex/internal/query"
)

// pieceList collects repeated --piece flags.
type pieceList []string

func (l *pieceList) String() string     { return strings.Join(*l, ",") }
func (l *pieceList) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	defaultEngine := "segment"
	if env := os.Getenv("CHESSDEX_ENGINE"); env != "" {
		defaultEngine = env
	}
	defaultData := "./data"
	if env := os.Getenv("CHESSDEX_DATA"); env != "" {
		defaultData = env
	}

	var pieces pieceList
	var empties pieceList
	var (
		engine      = flag.String("store-engine", defaultEngine, "Storage engine (memory, sqlite, segment)")
		dataPath    = flag.String("data", defaultData, "Data directory or database file")
		stored      = flag.String("pattern", "", "Evaluate a stored pattern by name")
		save        = flag.String("save", "", "Save the constraints under this name instead of querying")
		list        = flag.Bool("list", false, "List stored patterns and exit")
		remove      = flag.String("remove", "", "Remove a stored pattern and exit")
		side        = flag.String("side", "", "Side to move (white or black)")
		minPly      = flag.Int("min-ply", -1, "Lowest matching ply")
		maxPly      = flag.Int("max-ply", -1, "Highest matching ply")
		repertoire  = flag.Bool("repertoire", false, "Query the repertoire index")
		orderByDate = flag.Bool("order-by-date", false, "Order matches by Date tag")
	)
	flag.Var(&pieces, "piece", "Square constraint, e.g. e4=P or d5=n (repeatable)")
	flag.Var(&empties, "empty", "Square that must be empty (repeatable)")
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

	if *list {
		names, err := pattern.List(store)
		if err != nil {
			logger.Fatal().Err(err).Msg("list patterns")
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}
	if *remove != "" {
		if err := pattern.Remove(store, *remove); err != nil {
			logger.Fatal().Err(err).Msg("remove pattern")
		}
		return
	}

	var tree *pattern.Node
	if *stored != "" {
		p, err := pattern.Load(store, *stored)
		if err != nil {
			logger.Fatal().Err(err).Msg("load pattern")
		}
		tree = p.Tree
	} else {
		tree, err = buildTree(pieces, empties, *side, *minPly, *maxPly)
		if err != nil {
			logger.Fatal().Err(err).Msg("build pattern")
		}
	}

	if *save != "" {
		if err := pattern.Save(store, *save, tree); err != nil {
			logger.Fatal().Err(err).Msg("save pattern")
		}
		logger.Info().Str("name", *save).Msg("pattern saved")
		return
	}

	ev := query.New(store, logger)
	matches, err := ev.Run(ctx, tree, query.Options{
		Repertoire:  *repertoire,
		OrderByDate: *orderByDate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("query failed")
	}
	for _, m := range matches {
		plies := make([]string, len(m.Plies))
		for i, p := range m.Plies {
			plies[i] = fmt.Sprint(p)
		}
		fmt.Printf("%d\t%s - %s\t%s\t%s\tplies %s\n",
			m.Game.ID, m.Game.White, m.Game.Black, m.Game.Date, m.Game.Result,
			strings.Join(plies, ","))
	}
	logger.Info().Int("games", len(matches)).Msg("query complete")
}

// buildTree assembles an And over the command line constraints. No
// constraints at all is the empty pattern, matching everything.
func buildTree(pieces, empties []string, side string, minPly, maxPly int) (*pattern.Node, error) {
	var children []*pattern.Node
	for _, spec := range pieces {
		n, err := parsePieceSpec(spec)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	for _, sq := range empties {
		s, err := board.ParseSquare(sq)
		if err != nil {
			return nil, err
		}
		children = append(children, pattern.Empty(s))
	}
	switch side {
	case "":
	case "white":
		children = append(children, pattern.SideToMove(board.White))
	case "black":
		children = append(children, pattern.SideToMove(board.Black))
	default:
		return nil, fmt.Errorf("invalid side %q", side)
	}
	if minPly >= 0 || maxPly >= 0 {
		lo := 0
		if minPly >= 0 {
			lo = minPly
		}
		hi := pattern.NoMaxPly
		if maxPly >= 0 {
			hi = maxPly
		}
		children = append(children, pattern.MoveRange(lo, hi))
	}
	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return children[0], nil
	default:
		return pattern.And(children...), nil
	}
}

// parsePieceSpec reads "square=piece" with PGN piece letters, uppercase
// for white and lowercase for black, e.g. e4=P or d5=n.
func parsePieceSpec(spec string) (*pattern.Node, error) {
	square, piece, ok := strings.Cut(spec, "=")
	if !ok || len(piece) != 1 {
		return nil, fmt.Errorf("invalid piece spec %q, want square=piece", spec)
	}
	s, err := board.ParseSquare(square)
	if err != nil {
		return nil, err
	}
	color := board.White
	letter := piece[0]
	if letter >= 'a' && letter <= 'z' {
		color = board.Black
		letter -= 'a' - 'A'
	}
	var t board.PieceType
	switch letter {
	case 'P':
		t = board.Pawn
	case 'N':
		t = board.Knight
	case 'B':
		t = board.Bishop
	case 'R':
		t = board.Rook
	case 'Q':
		t = board.Queen
	case 'K':
		t = board.King
	default:
		return nil, fmt.Errorf("invalid piece letter %q in %q", piece, spec)
	}
	return pattern.Piece(s, color, t), nil
}
