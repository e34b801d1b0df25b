package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/freeeve/chessdex/internal/game"
	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/poskey"
)

const lockFileName = "reindex.lock"

// maintenanceLock keeps a second rebuild (or an import racing a rebuild)
// off the same data directory.
type maintenanceLock struct {
	path string
}

func acquireLock(dir string) (*maintenanceLock, error) {
	path := filepath.Join(dir, lockFileName)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("lock file already exists: %s", path)
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	return &maintenanceLock{path: path}, nil
}

func (l *maintenanceLock) release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Locked reports whether a maintenance lock file exists in dir.
func Locked(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, lockFileName))
	return err == nil
}

// Rebuild drops every index table and re-derives all entries from the
// stored game records. It runs under a lock file in dataDir and checks
// ctx between games, so a canceled rebuild leaves a partial index that a
// rerun completes.
func (ix *Indexer) Rebuild(ctx context.Context, dataDir string) error {
	lock, err := acquireLock(dataDir)
	if err != nil {
		return fmt.Errorf("index: %w (is another rebuild running?)", err)
	}
	defer func() {
		if err := lock.release(); err != nil {
			ix.log.Error().Err(err).Msg("release rebuild lock")
		}
	}()

	start := time.Now()
	tables := []poskey.Table{
		poskey.TablePosition, poskey.TablePieceSquare,
		poskey.TableMaterial, poskey.TableState,
		poskey.TableRepPosition, poskey.TableRepPieceSquare,
		poskey.TableRepMaterial, poskey.TableRepState,
		poskey.TablePlyState,
	}
	for _, table := range tables {
		if err := ix.dropTable(table); err != nil {
			return err
		}
	}
	if err := kv.Update(ix.store, func(txn kv.Txn) error {
		return txn.Put(poskey.MetaSchemaKey, []byte{poskey.SchemaVersion})
	}); err != nil {
		return err
	}

	var ids []uint64
	if err = ix.EachGame(func(rec *game.Record) error {
		ids = append(ids, rec.ID)
		return nil
	}); err != nil {
		return err
	}

	var done int
	for _, id := range ids {
		if err = ctx.Err(); err != nil {
			ix.log.Warn().Int("done", done).Int("total", len(ids)).
				Msg("rebuild interrupted")
			return err
		}
		rec, err := ix.Get(id)
		if err != nil {
			return err
		}
		entries, err := derive(rec)
		if err != nil {
			return fmt.Errorf("index: rebuild game %d: %w", id, err)
		}
		if err = kv.Update(ix.store, func(txn kv.Txn) error {
			for _, e := range entries {
				if err := txn.Put(e.key, e.value); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		done++
		if done%10000 == 0 {
			ix.log.Info().Int("done", done).Int("total", len(ids)).Msg("rebuilding")
		}
	}
	ix.log.Info().Int("games", done).Dur("elapsed", time.Since(start)).
		Msg("rebuild complete")
	return nil
}

// dropTable deletes every key in one table, batching deletes to keep
// transactions bounded.
func (ix *Indexer) dropTable(table poskey.Table) error {
	prefix := poskey.TablePrefix(table)
	for {
		var keys [][]byte
		err := kv.View(ix.store, func(txn kv.Txn) error {
			cur, err := txn.Scan(prefix)
			if err != nil {
				return err
			}
			defer cur.Close()
			for len(keys) < 10000 {
				k, _, ok, err := cur.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		if err = kv.Update(ix.store, func(txn kv.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
}
