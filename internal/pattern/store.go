package pattern

import (
	"errors"
	"fmt"
	"sort"

	"github.com/freeeve/chessdex/internal/kv"
	"github.com/freeeve/chessdex/internal/poskey"
)

// Stored is a named pattern on disk. Stored patterns live in their own
// table and are never touched by game indexing.
type Stored struct {
	Name string
	Tree *Node
}

// ErrNoPattern reports a name with no stored pattern.
var ErrNoPattern = errors.New("pattern: not found")

// Save validates and stores the tree under name, replacing any previous
// pattern with that name.
func Save(s kv.Store, name string, tree *Node) error {
	if name == "" {
		return &PatternError{Reason: "empty pattern name"}
	}
	if err := tree.Validate(); err != nil {
		return err
	}
	return kv.Update(s, func(txn kv.Txn) error {
		return txn.Put(poskey.PatternKey(name), tree.Encode())
	})
}

// Load returns the stored pattern with the given name.
func Load(s kv.Store, name string) (*Stored, error) {
	var data []byte
	err := kv.View(s, func(txn kv.Txn) error {
		v, err := txn.Get(poskey.PatternKey(name))
		data = v
		return err
	})
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoPattern, name)
	}
	if err != nil {
		return nil, err
	}
	tree, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("stored pattern %s: %w", name, err)
	}
	return &Stored{Name: name, Tree: tree}, nil
}

// Remove deletes a stored pattern. Removing an absent name is not an
// error.
func Remove(s kv.Store, name string) error {
	return kv.Update(s, func(txn kv.Txn) error {
		return txn.Delete(poskey.PatternKey(name))
	})
}

// List returns the names of all stored patterns, sorted.
func List(s kv.Store) ([]string, error) {
	var names []string
	err := kv.View(s, func(txn kv.Txn) error {
		cur, err := txn.Scan(poskey.TablePrefix(poskey.TablePattern))
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
			k, _, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			name, err := poskey.PatternNameFromKey(k)
			if err != nil {
				return err
			}
			names = append(names, name)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
